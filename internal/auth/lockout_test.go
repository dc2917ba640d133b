package auth

import (
	"testing"
	"time"
)

func TestRecordFailureArmsLockAtThreshold(t *testing.T) {
	policy := LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	state := LockState{}
	for i := 1; i <= 4; i++ {
		state = policy.RecordFailure(state, now)
		if state.FailedAttempts != i {
			t.Fatalf("attempt %d: counter = %d", i, state.FailedAttempts)
		}
		if state.LockedUntil != nil {
			t.Fatalf("attempt %d: lock armed below threshold", i)
		}
	}

	state = policy.RecordFailure(state, now)
	if state.FailedAttempts != 5 {
		t.Fatalf("counter = %d, want 5", state.FailedAttempts)
	}
	if state.LockedUntil == nil {
		t.Fatal("lock not armed at threshold")
	}
	if want := now.Add(15 * time.Minute); !state.LockedUntil.Equal(want) {
		t.Fatalf("locked until %v, want %v", state.LockedUntil, want)
	}
}

func TestRecordFailureDoesNotExtendActiveLock(t *testing.T) {
	policy := LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	state := LockState{}
	for i := 0; i < 5; i++ {
		state = policy.RecordFailure(state, now)
	}
	armed := *state.LockedUntil

	// Failures during the active window keep counting but the window is
	// fixed at first breach.
	later := now.Add(5 * time.Minute)
	state = policy.RecordFailure(state, later)
	if state.FailedAttempts != 6 {
		t.Fatalf("counter = %d, want 6", state.FailedAttempts)
	}
	if !state.LockedUntil.Equal(armed) {
		t.Fatalf("lock extended: %v, want %v", state.LockedUntil, armed)
	}
}

func TestRecordFailureRearmsAfterExpiry(t *testing.T) {
	policy := LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	state := LockState{}
	for i := 0; i < 5; i++ {
		state = policy.RecordFailure(state, now)
	}

	// Past the window the counter is still over threshold, so the very next
	// failure arms a fresh lock.
	after := now.Add(16 * time.Minute)
	if policy.Locked(state, after) {
		t.Fatal("lock should have expired")
	}
	state = policy.RecordFailure(state, after)
	if !policy.Locked(state, after) {
		t.Fatal("expected a fresh lock")
	}
	if want := after.Add(15 * time.Minute); !state.LockedUntil.Equal(want) {
		t.Fatalf("locked until %v, want %v", state.LockedUntil, want)
	}
}

func TestRecordSuccessClearsEverything(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Now()

	state := LockState{}
	for i := 0; i < 7; i++ {
		state = policy.RecordFailure(state, now)
	}
	state = policy.RecordSuccess()
	if state.FailedAttempts != 0 || state.LockedUntil != nil {
		t.Fatalf("state not cleared: %+v", state)
	}
}

func TestLockedBoundary(t *testing.T) {
	policy := DefaultLockoutPolicy()
	until := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)
	state := LockState{FailedAttempts: 5, LockedUntil: &until}

	if !policy.Locked(state, until.Add(-time.Second)) {
		t.Fatal("expected locked just before expiry")
	}
	// The instant locked_until is reached the lock no longer applies.
	if policy.Locked(state, until) {
		t.Fatal("expected unlocked at expiry instant")
	}
}
