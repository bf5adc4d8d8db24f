package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Change is a unit of rollout intent progressing through a pipeline.
// It is one of NoChange, ApplicationChange or VersionChange.
type Change interface {
	isChange()
	String() string
}

// NoChange means nothing is being rolled out.
type NoChange struct{}

// ApplicationChange is a new application artifact.
type ApplicationChange struct {
	ID       uuid.UUID
	Revision string // source revision, when the build reported one
}

// VersionChange is a platform version upgrade of the application.
type VersionChange struct {
	Version string
}

func (NoChange) isChange()          {}
func (ApplicationChange) isChange() {}
func (VersionChange) isChange()     {}

func (NoChange) String() string { return "no change" }

func (c ApplicationChange) String() string {
	if c.Revision == "" {
		return "application change " + c.ID.String()
	}
	return fmt.Sprintf("application change %s (revision %s)", c.ID, c.Revision)
}

func (c VersionChange) String() string { return "upgrade to " + c.Version }

// NewApplicationChange returns an application change with a fresh identity.
func NewApplicationChange(revision string) ApplicationChange {
	return ApplicationChange{ID: uuid.New(), Revision: revision}
}

// IsPresent reports whether c is an actual change. A nil Change counts as NoChange.
func IsPresent(c Change) bool {
	switch c.(type) {
	case nil, NoChange:
		return false
	default:
		return true
	}
}

// SameChange reports whether a and b denote the same rollout.
func SameChange(a, b Change) bool {
	if !IsPresent(a) || !IsPresent(b) {
		return !IsPresent(a) && !IsPresent(b)
	}
	return a == b
}

func normalizeChange(c Change) Change {
	if c == nil {
		return NoChange{}
	}
	return c
}

const (
	changeKindNone        = "none"
	changeKindApplication = "application"
	changeKindVersion     = "version"
)

// changeJSON is the stored form of a Change.
type changeJSON struct {
	Kind     string     `json:"kind"`
	ID       *uuid.UUID `json:"id,omitempty"`
	Revision string     `json:"revision,omitempty"`
	Version  string     `json:"version,omitempty"`
}

func encodeChange(c Change) changeJSON {
	switch c := c.(type) {
	case ApplicationChange:
		id := c.ID
		return changeJSON{Kind: changeKindApplication, ID: &id, Revision: c.Revision}
	case VersionChange:
		return changeJSON{Kind: changeKindVersion, Version: c.Version}
	default:
		return changeJSON{Kind: changeKindNone}
	}
}

func (j changeJSON) decode() (Change, error) {
	switch j.Kind {
	case "", changeKindNone:
		return NoChange{}, nil
	case changeKindApplication:
		c := ApplicationChange{Revision: j.Revision}
		if j.ID != nil {
			c.ID = *j.ID
		}
		return c, nil
	case changeKindVersion:
		return VersionChange{Version: j.Version}, nil
	default:
		return nil, fmt.Errorf("unknown change kind %q", j.Kind)
	}
}

// MarshalChange encodes a Change as JSON.
func MarshalChange(c Change) ([]byte, error) {
	return json.Marshal(encodeChange(c))
}

// UnmarshalChange decodes a Change produced by MarshalChange.
func UnmarshalChange(data []byte) (Change, error) {
	var j changeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return j.decode()
}
