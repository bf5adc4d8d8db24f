package testutil

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	c := NewFakeClock(Epoch)
	if got := c.Now(); !got.Equal(Epoch) {
		t.Fatalf("Now = %v, want %v", got, Epoch)
	}

	if got, want := c.Advance(90*time.Second), Epoch.Add(90*time.Second); !got.Equal(want) {
		t.Errorf("Advance = %v, want %v", got, want)
	}
	if got, want := c.Millis(), Epoch.Add(90*time.Second).UnixMilli(); got != want {
		t.Errorf("Millis = %d, want %d", got, want)
	}

	c.Set(Epoch)
	if got := c.Now(); !got.Equal(Epoch) {
		t.Errorf("after Set: Now = %v, want %v", got, Epoch)
	}
}

func TestContext_Deadline(t *testing.T) {
	deadline, ok := Context(t).Deadline()
	if !ok {
		t.Fatal("no deadline")
	}
	if time.Until(deadline) > 5*time.Second {
		t.Errorf("deadline %v is too far away", deadline)
	}
}
