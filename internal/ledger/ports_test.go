package ledger

import (
	"testing"
	"time"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, time.Minute},
		{4, 4 * time.Minute},
		{10, 30 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempts); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestNextSyncState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	status, at := NextSyncState(1, now)
	if status != SyncError || !at.Equal(now.Add(30*time.Second)) {
		t.Errorf("after first failure: %s %v", status, at)
	}
	status, at = NextSyncState(MaxSyncAttempts, now)
	if status != SyncFailed || !at.IsZero() {
		t.Errorf("after last failure: %s %v", status, at)
	}
}
