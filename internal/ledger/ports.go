// Package ledger defines the persistence ports used by the progression
// engine. Every collection is scoped by owner id.
package ledger

import (
	"context"
	"errors"
	"time"

	"cutpro/internal/core"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrDuplicateAchievement = errors.New("achievement already unlocked")
)

// Ports for persistence adapters.
type (
	ProfileRepository interface {
		// GetProfile returns ErrNotFound when the owner has no profile yet.
		GetProfile(ctx context.Context, ownerID string) (core.Profile, error)
		CreateProfile(ctx context.Context, p core.Profile) (core.Profile, error)
		UpdateProfile(ctx context.Context, p core.Profile) error
	}

	TransactionRepository interface {
		InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		// ListTransactionsByOwner orders by OccurredAt, most recent first.
		ListTransactionsByOwner(ctx context.Context, ownerID string) ([]core.Transaction, error)
		CountTransactionsByOwner(ctx context.Context, ownerID string) (int, error)
	}

	GoalRepository interface {
		InsertGoal(ctx context.Context, g core.Goal) (core.Goal, error)
		// ListGoalsByOwner orders by CreatedAt, most recent first.
		ListGoalsByOwner(ctx context.Context, ownerID string) ([]core.Goal, error)
		CountGoalsByOwner(ctx context.Context, ownerID string) (int, error)
	}

	AchievementRepository interface {
		// InsertAchievement returns ErrDuplicateAchievement when the owner
		// already holds an achievement with the same title.
		InsertAchievement(ctx context.Context, a core.Achievement) (core.Achievement, error)
		// ListAchievementsByOwner orders by UnlockedAt, most recent first.
		ListAchievementsByOwner(ctx context.Context, ownerID string) ([]core.Achievement, error)
		HasAchievement(ctx context.Context, ownerID, title string) (bool, error)
	}

	// CategoryReader lists the categories offered when recording a
	// transaction.
	CategoryReader interface {
		ListCategories(ctx context.Context) ([]string, error)
	}

	// Tx is the set of repositories visible inside one atomic unit of work.
	Tx interface {
		ProfileRepository
		TransactionRepository
		GoalRepository
		AchievementRepository
	}

	// Store is the full persistence collaborator. WithinTx commits when fn
	// returns nil and rolls back otherwise.
	Store interface {
		Tx
		CategoryReader
		WithinTx(ctx context.Context, fn func(tx Tx) error) error
		ListOwners(ctx context.Context) ([]string, error)
		Close() error
	}

	// SyncTracker records which rows have been exported to the spreadsheet.
	// A row is due when it is pending, or failed with attempts left and its
	// retry time at or before now. Claiming moves a due row to processing
	// so only one exporter appends it.
	SyncTracker interface {
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		GetAchievement(ctx context.Context, id string) (core.Achievement, error)
		// PendingTransactions lists due rows oldest first. A limit <= 0
		// means no limit.
		PendingTransactions(ctx context.Context, now time.Time, limit int) ([]PendingSync, error)
		PendingAchievements(ctx context.Context, now time.Time, limit int) ([]PendingSync, error)
		// ClaimTransaction reports false when the row is not due: already
		// synced, claimed elsewhere, waiting for its retry time or failed.
		ClaimTransaction(ctx context.Context, id string, now time.Time) (bool, error)
		ClaimAchievement(ctx context.Context, id string, now time.Time) (bool, error)
		MarkTransactionSynced(ctx context.Context, id string) error
		MarkAchievementSynced(ctx context.Context, id string) error
		// MarkTransactionSyncError releases a claim after a failed export and
		// schedules the next attempt with RetryDelay. After MaxSyncAttempts
		// the row is marked failed and never retried.
		MarkTransactionSyncError(ctx context.Context, id string, now time.Time) error
		MarkAchievementSyncError(ctx context.Context, id string, now time.Time) error
		// ResetStaleClaims makes rows left in processing by a stopped
		// exporter due again. It returns how many rows were released.
		ResetStaleClaims(ctx context.Context, now time.Time) (int, error)
	}
)

// PendingSync is the minimal data needed to export a row.
type PendingSync struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
	Attempts  int
}

// SyncStatus values stored alongside exported rows.
const (
	SyncPending    = "pending"
	SyncProcessing = "processing"
	SyncDone       = "synced"
	SyncError      = "error"
	SyncFailed     = "failed"
)

// Export retry policy.
const (
	MaxSyncAttempts = 5
	baseRetryDelay  = 30 * time.Second
	maxRetryDelay   = 30 * time.Minute
)

// RetryDelay is the wait before the next export after attempts failures:
// 30s doubling up to 30m.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := baseRetryDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// NextSyncState returns the status and retry time of a row after its
// attempts-th failed export.
func NextSyncState(attempts int, now time.Time) (string, time.Time) {
	if attempts >= MaxSyncAttempts {
		return SyncFailed, time.Time{}
	}
	return SyncError, now.Add(RetryDelay(attempts))
}
