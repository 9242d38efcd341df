package job

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a recognition job.
type State int

const (
	// StateUnknown - No record of the job exists.
	StateUnknown State = iota
	// StateSubmitted - Audio was accepted by the provider, awaiting the callback.
	StateSubmitted
	// StateReceived - The callback delivered a result document.
	StateReceived
	// StateNormalized - A clean transcript table was derived from the result.
	StateNormalized
	// StateFailed - Submission or normalization failed.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateSubmitted:
		return "SUBMITTED"
	case StateReceived:
		return "RECEIVED"
	case StateNormalized:
		return "NORMALIZED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ParseState is the inverse of String.
func ParseState(s string) (State, error) {
	switch s {
	case "UNKNOWN":
		return StateUnknown, nil
	case "SUBMITTED":
		return StateSubmitted, nil
	case "RECEIVED":
		return StateReceived, nil
	case "NORMALIZED":
		return StateNormalized, nil
	case "FAILED":
		return StateFailed, nil
	default:
		return StateUnknown, fmt.Errorf("unknown job state %q", s)
	}
}

// ErrInvalidTransition is returned when a job cannot move to the requested state.
var ErrInvalidTransition = errors.New("invalid job state transition")

// Transition validates moving from s to next.
//
// State transitions:
//
//	UNKNOWN ──→ any
//	any ──→ SUBMITTED (a fresh upload restarts the job)
//	any ──→ RECEIVED (callbacks may arrive before or without a submission record)
//	RECEIVED, NORMALIZED ──→ NORMALIZED
//	SUBMITTED, RECEIVED, FAILED ──→ FAILED
func (s State) Transition(next State) error {
	if s == StateUnknown {
		return nil
	}
	switch next {
	case StateSubmitted, StateReceived:
		return nil
	case StateNormalized:
		if s == StateReceived || s == StateNormalized {
			return nil
		}
	case StateFailed:
		if s != StateNormalized {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}
