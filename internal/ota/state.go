package ota

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the OTA session state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateDownloading
	StateWriting
	StateVerifying
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateDownloading:
		return "Downloading"
	case StateWriting:
		return "Writing"
	case StateVerifying:
		return "Verifying"
	case StateCommitted:
		return "Committed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the session is over.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// Session is a snapshot of one update attempt.
type Session struct {
	ID        uuid.UUID
	URL       string
	Target    Slot
	Expected  uint64
	Written   uint64
	State     State
	StartedAt time.Time
}

// Progress is reported after every state change and every written chunk.
type Progress struct {
	Session Session
}

// Fraction returns Written/Expected in [0,1], or 0 when unknown.
func (p Progress) Fraction() float64 {
	if p.Session.Expected == 0 {
		return 0
	}
	f := float64(p.Session.Written) / float64(p.Session.Expected)
	if f > 1 {
		return 1
	}
	return f
}
