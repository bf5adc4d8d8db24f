package postgres

const queryInsertApplication = `
INSERT INTO applications (id, record)
VALUES ($1, $2)
`

const queryGetApplication = `
SELECT record FROM applications WHERE id = $1
`

const queryUpdateApplication = `
UPDATE applications
SET record = $2, updated_at = now()
WHERE id = $1
`

const queryListApplications = `
SELECT record FROM applications ORDER BY id
`

const queryAdvisoryLock = `
SELECT pg_advisory_lock($1)
`

const queryAdvisoryUnlock = `
SELECT pg_advisory_unlock($1)
`
