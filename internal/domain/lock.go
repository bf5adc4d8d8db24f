package domain

// Lock is an exclusive critical section for one application. All reads
// leading to a write and the write itself happen while it is held.
type Lock interface {
	// ApplicationID is the application the lock guards.
	ApplicationID() ApplicationID

	// Held reports whether the lock is still held.
	Held() bool

	// Release ends the critical section. Releasing twice is a no-op.
	Release() error
}
