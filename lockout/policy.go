// Package lockout decides progressive account lockout.
//
// Every function here is pure: it takes the persisted [State] and the current
// instant and returns a [Decision] that the caller persists. No timer ever
// unlocks an account; an expired lock is cleared the next time [Policy.Gate]
// observes it.
package lockout

import (
	"errors"
	"time"
)

const (
	// DefaultThreshold is the number of consecutive failures that locks an account.
	DefaultThreshold = 5
	// DefaultDuration is how long a threshold-triggered lock lasts.
	DefaultDuration = 2 * time.Hour
)

// State is the lockout bookkeeping stored on an identity.
type State struct {
	Attempts  int
	LockUntil *time.Time
}

// Outcome classifies a Decision.
type Outcome uint8

const (
	// Allowed means the caller may proceed to credential verification.
	Allowed Outcome = iota
	// Denied means a failure was recorded without reaching the threshold.
	Denied
	// Locked means the account is locked until State.LockUntil.
	Locked
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Decision is the result of a policy evaluation. State is the value the
// caller must persist; Changed reports whether it differs from the input.
type Decision struct {
	Outcome           Outcome
	State             State
	Changed           bool
	AttemptsRemaining int
	Remaining         time.Duration
}

// RemainingMinutes is the lock remainder rounded up to whole minutes.
func (d Decision) RemainingMinutes() int {
	return CeilMinutes(d.Remaining)
}

// Policy holds the lockout thresholds.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultPolicy returns five failures and a two hour lock.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

// Validate rejects non-positive thresholds.
func (p Policy) Validate() error {
	if p.Threshold <= 0 {
		return errors.New("lockout threshold must be > 0")
	}
	if p.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	return nil
}

// Gate runs before credential verification. A lock still in force yields
// Locked; a lock that has lapsed is cleared together with the attempt
// counter and the caller proceeds.
func (p Policy) Gate(s State, now time.Time) Decision {
	if s.LockUntil == nil {
		return Decision{Outcome: Allowed, State: s, AttemptsRemaining: p.remaining(s.Attempts)}
	}
	if s.LockUntil.After(now) {
		return Decision{
			Outcome:   Locked,
			State:     s,
			Remaining: s.LockUntil.Sub(now),
		}
	}
	return Decision{
		Outcome:           Allowed,
		State:             State{},
		Changed:           true,
		AttemptsRemaining: p.Threshold,
	}
}

// RecordFailure counts one failed verification. Reaching the threshold sets
// LockUntil to now plus the lock duration.
func (p Policy) RecordFailure(s State, now time.Time) Decision {
	next := State{Attempts: s.Attempts + 1}
	if next.Attempts >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockUntil = &until
		return Decision{Outcome: Locked, State: next, Changed: true, Remaining: p.Duration}
	}
	return Decision{
		Outcome:           Denied,
		State:             next,
		Changed:           true,
		AttemptsRemaining: p.remaining(next.Attempts),
	}
}

// RecordSuccess resets the counter and any lock.
func (p Policy) RecordSuccess(s State) Decision {
	return Decision{
		Outcome:           Allowed,
		State:             State{},
		Changed:           s.Attempts != 0 || s.LockUntil != nil,
		AttemptsRemaining: p.Threshold,
	}
}

// Unlock is the administrative reset; it is RecordSuccess under another name
// so that every transition stays in this package.
func (p Policy) Unlock(s State) Decision {
	return p.RecordSuccess(s)
}

func (p Policy) remaining(attempts int) int {
	if r := p.Threshold - attempts; r > 0 {
		return r
	}
	return 0
}

// CeilMinutes rounds d up to whole minutes. Non-positive durations give 0.
func CeilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
