package auth

import "time"

// Lockout policy defaults.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

// LockState is the per-user state the lockout policy transitions over.
type LockState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockoutPolicy arms a time-boxed lock after repeated failed logins.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the shipped policy: 5 attempts, 15 minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Duration: DefaultLockoutDuration}
}

// Locked reports whether an unexpired lock is active at now.
func (p LockoutPolicy) Locked(state LockState, now time.Time) bool {
	return state.LockedUntil != nil && state.LockedUntil.After(now)
}

// RecordFailure increments the failure counter and arms a lock once the
// counter has reached the threshold. An already-armed, unexpired lock is
// never extended; the window is fixed at first breach until it expires
// naturally. The counter keeps counting past the threshold so concurrent
// failures are never lost.
func (p LockoutPolicy) RecordFailure(state LockState, now time.Time) LockState {
	next := LockState{
		FailedAttempts: state.FailedAttempts + 1,
		LockedUntil:    state.LockedUntil,
	}
	if next.FailedAttempts >= p.Threshold && !p.Locked(state, now) {
		until := now.Add(p.Duration)
		next.LockedUntil = &until
	}
	return next
}

// RecordSuccess resets the counter and clears any lock. These two
// transitions are the only mutations of lock state; there is no manual
// unlock in this core.
func (p LockoutPolicy) RecordSuccess() LockState {
	return LockState{}
}
