// Package clock provides the logical clock the scheduler reads time from.
package clock

import "time"

// Clock is a source of the current instant.
type Clock interface {
	Now() time.Time
	Millis() int64
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

func (System) Millis() int64 { return time.Now().UnixMilli() }
