package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cutpro/internal/core"
	"cutpro/internal/ledger"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout is fixed width so text ordering is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	_ ledger.Store       = (*SQLiteRepository)(nil)
	_ ledger.SyncTracker = (*SQLiteRepository)(nil)
)

type SQLiteRepository struct {
	repo
	db *sql.DB
}

// repo implements ledger.Tx on top of a Queries bound to either the pool or
// an open transaction.
type repo struct {
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{repo: repo{queries: New(db)}, db: db}, nil
}

// dsn takes the write lock at BEGIN. The web server and the workers share
// one file, and a deferred transaction that reads before writing fails with
// SQLITE_BUSY_SNAPSHOT when another process commits in between.
func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return r.withSQLTx(ctx, func(q *Queries) error {
		return fn(repo{queries: q})
	})
}

func (r *SQLiteRepository) withSQLTx(ctx context.Context, fn func(q *Queries) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.queries.WithTx(sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]string, error) {
	cats, err := r.queries.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

func (r *SQLiteRepository) ListOwners(ctx context.Context) ([]string, error) {
	owners, err := r.queries.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

func (r repo) GetProfile(ctx context.Context, ownerID string) (core.Profile, error) {
	row, err := r.queries.GetProfile(ctx, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Profile{}, fmt.Errorf("profile %s: %w", ownerID, ledger.ErrNotFound)
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return core.Profile{
		OwnerID:    row.OwnerID,
		XP:         row.XP,
		Level:      row.Level,
		TotalSaved: core.Money{Cents: row.TotalSavedCents},
		UpdatedAt:  parseTime(row.UpdatedAt),
	}, nil
}

// CreateProfile inserts p unless the owner already has a profile, and
// returns whatever is stored afterwards.
func (r repo) CreateProfile(ctx context.Context, p core.Profile) (core.Profile, error) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	err := r.queries.InsertProfile(ctx, ProfileRow{
		OwnerID:         p.OwnerID,
		XP:              p.XP,
		Level:           p.Level,
		TotalSavedCents: p.TotalSaved.Cents,
		UpdatedAt:       formatTime(p.UpdatedAt),
	})
	if err != nil {
		return core.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return r.GetProfile(ctx, p.OwnerID)
}

func (r repo) UpdateProfile(ctx context.Context, p core.Profile) error {
	n, err := r.queries.UpdateProfile(ctx, ProfileRow{
		OwnerID:         p.OwnerID,
		XP:              p.XP,
		Level:           p.Level,
		TotalSavedCents: p.TotalSaved.Cents,
		UpdatedAt:       formatTime(p.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("profile %s: %w", p.OwnerID, ledger.ErrNotFound)
	}
	return nil
}

func (r repo) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if t.ID == "" {
		t.ID = core.NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	err := r.queries.InsertTransaction(ctx, TransactionRow{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Kind:        t.Kind.String(),
		AmountCents: t.Amount.Cents,
		Category:    t.Category,
		Description: t.Description,
		OccurredAt:  formatTime(t.OccurredAt),
		CreatedAt:   formatTime(t.CreatedAt),
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"owner_id", t.OwnerID,
		"kind", t.Kind,
		"amount_cents", t.Amount.Cents)

	return t, nil
}

func (r repo) ListTransactionsByOwner(ctx context.Context, ownerID string) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.Transaction, len(rows))
	for i, row := range rows {
		out[i] = toTransaction(row)
	}
	return out, nil
}

func (r repo) CountTransactionsByOwner(ctx context.Context, ownerID string) (int, error) {
	n, err := r.queries.CountTransactionsByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return int(n), nil
}

func (r repo) InsertGoal(ctx context.Context, g core.Goal) (core.Goal, error) {
	if err := g.Validate(); err != nil {
		return core.Goal{}, err
	}
	if g.ID == "" {
		g.ID = core.NewID()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = g.CreatedAt
	}
	var deadline sql.NullString
	if g.Deadline != nil {
		deadline = sql.NullString{String: formatTime(*g.Deadline), Valid: true}
	}
	err := r.queries.InsertGoal(ctx, GoalRow{
		ID:                 g.ID,
		OwnerID:            g.OwnerID,
		Name:               g.Name,
		TargetAmountCents:  g.TargetAmount.Cents,
		CurrentAmountCents: g.CurrentAmount.Cents,
		Deadline:           deadline,
		CreatedAt:          formatTime(g.CreatedAt),
		UpdatedAt:          formatTime(g.UpdatedAt),
	})
	if err != nil {
		return core.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	return g, nil
}

func (r repo) ListGoalsByOwner(ctx context.Context, ownerID string) ([]core.Goal, error) {
	rows, err := r.queries.ListGoalsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	out := make([]core.Goal, len(rows))
	for i, row := range rows {
		g := core.Goal{
			ID:            row.ID,
			OwnerID:       row.OwnerID,
			Name:          row.Name,
			TargetAmount:  core.Money{Cents: row.TargetAmountCents},
			CurrentAmount: core.Money{Cents: row.CurrentAmountCents},
			CreatedAt:     parseTime(row.CreatedAt),
			UpdatedAt:     parseTime(row.UpdatedAt),
		}
		if row.Deadline.Valid {
			d := parseTime(row.Deadline.String)
			g.Deadline = &d
		}
		out[i] = g
	}
	return out, nil
}

func (r repo) CountGoalsByOwner(ctx context.Context, ownerID string) (int, error) {
	n, err := r.queries.CountGoalsByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("count goals: %w", err)
	}
	return int(n), nil
}

func (r repo) InsertAchievement(ctx context.Context, a core.Achievement) (core.Achievement, error) {
	if err := a.Validate(); err != nil {
		return core.Achievement{}, err
	}
	if a.ID == "" {
		a.ID = core.NewID()
	}
	if a.UnlockedAt.IsZero() {
		a.UnlockedAt = time.Now()
	}
	err := r.queries.InsertAchievement(ctx, AchievementRow{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		Title:       a.Title,
		Description: a.Description,
		XPReward:    a.XPReward,
		UnlockedAt:  formatTime(a.UnlockedAt),
	})
	if isUniqueViolation(err) {
		return core.Achievement{}, fmt.Errorf("%s/%s: %w", a.OwnerID, a.Title, ledger.ErrDuplicateAchievement)
	}
	if err != nil {
		return core.Achievement{}, fmt.Errorf("insert achievement: %w", err)
	}
	return a, nil
}

func (r repo) ListAchievementsByOwner(ctx context.Context, ownerID string) ([]core.Achievement, error) {
	rows, err := r.queries.ListAchievementsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	out := make([]core.Achievement, len(rows))
	for i, row := range rows {
		out[i] = toAchievement(row)
	}
	return out, nil
}

func (r repo) HasAchievement(ctx context.Context, ownerID, title string) (bool, error) {
	ok, err := r.queries.HasAchievement(ctx, ownerID, title)
	if err != nil {
		return false, fmt.Errorf("has achievement: %w", err)
	}
	return ok, nil
}

// GetTransaction retrieves a single transaction by id.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return toTransaction(row), nil
}

// GetAchievement retrieves a single achievement by id.
func (r *SQLiteRepository) GetAchievement(ctx context.Context, id string) (core.Achievement, error) {
	row, err := r.queries.GetAchievement(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Achievement{}, fmt.Errorf("achievement %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return core.Achievement{}, fmt.Errorf("get achievement: %w", err)
	}
	return toAchievement(row), nil
}

// PendingTransactions returns transactions due for export, oldest first.
func (r *SQLiteRepository) PendingTransactions(ctx context.Context, now time.Time, limit int) ([]ledger.PendingSync, error) {
	rows, err := r.queries.PendingRows(ctx, transactionSync, formatTime(now), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending transactions: %w", err)
	}
	return toPending(rows), nil
}

// PendingAchievements returns achievements due for export, oldest first.
func (r *SQLiteRepository) PendingAchievements(ctx context.Context, now time.Time, limit int) ([]ledger.PendingSync, error) {
	rows, err := r.queries.PendingRows(ctx, achievementSync, formatTime(now), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending achievements: %w", err)
	}
	return toPending(rows), nil
}

func (r *SQLiteRepository) ClaimTransaction(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.claim(ctx, transactionSync, "transaction", id, now)
}

func (r *SQLiteRepository) ClaimAchievement(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.claim(ctx, achievementSync, "achievement", id, now)
}

func (r *SQLiteRepository) MarkTransactionSynced(ctx context.Context, id string) error {
	if err := r.setStatus(ctx, transactionSync, "transaction", id, ledger.SyncDone); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "id", id)
	return nil
}

func (r *SQLiteRepository) MarkAchievementSynced(ctx context.Context, id string) error {
	if err := r.setStatus(ctx, achievementSync, "achievement", id, ledger.SyncDone); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Achievement marked as synced", "id", id)
	return nil
}

func (r *SQLiteRepository) MarkTransactionSyncError(ctx context.Context, id string, now time.Time) error {
	return r.markSyncError(ctx, transactionSync, "transaction", id, now)
}

func (r *SQLiteRepository) MarkAchievementSyncError(ctx context.Context, id string, now time.Time) error {
	return r.markSyncError(ctx, achievementSync, "achievement", id, now)
}

// ResetStaleClaims makes rows left in processing due at now.
func (r *SQLiteRepository) ResetStaleClaims(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for _, s := range []syncSQL{transactionSync, achievementSync} {
		n, err := r.queries.ReleaseClaims(ctx, s, formatTime(now))
		if err != nil {
			return total, fmt.Errorf("reset stale claims: %w", err)
		}
		total += int(n)
	}
	if total > 0 {
		slog.WarnContext(ctx, "Released stale export claims", "count", total)
	}
	return total, nil
}

func (r *SQLiteRepository) claim(ctx context.Context, s syncSQL, kind, id string, now time.Time) (bool, error) {
	n, err := r.queries.ClaimRow(ctx, s, id, formatTime(now))
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", kind, err)
	}
	if n == 1 {
		return true, nil
	}
	ok, err := r.queries.RowExists(ctx, s, id)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", kind, err)
	}
	if !ok {
		return false, fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
	}
	return false, nil
}

func (r *SQLiteRepository) markSyncError(ctx context.Context, s syncSQL, kind, id string, now time.Time) error {
	var status string
	err := r.withSQLTx(ctx, func(q *Queries) error {
		attempts, err := q.BumpSyncAttempts(ctx, s, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var nextAt time.Time
		status, nextAt = ledger.NextSyncState(int(attempts), now)
		next := sql.NullString{}
		if !nextAt.IsZero() {
			next = sql.NullString{String: formatTime(nextAt), Valid: true}
		}
		_, err = q.SetSyncRetry(ctx, s, id, status, next)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark %s sync error: %w", kind, err)
	}
	slog.WarnContext(ctx, "Export failed", "kind", kind, "id", id, "status", status)
	return nil
}

func (r *SQLiteRepository) setStatus(ctx context.Context, s syncSQL, kind, id, status string) error {
	n, err := r.queries.SetSyncStatus(ctx, s, id, status)
	if err != nil {
		return fmt.Errorf("set %s sync status: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
	}
	return nil
}

// sqlLimit maps "no limit" (<= 0) to SQLite's -1.
func sqlLimit(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit)
}

func toTransaction(row TransactionRow) core.Transaction {
	return core.Transaction{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		Kind:        core.Kind(row.Kind),
		Amount:      core.Money{Cents: row.AmountCents},
		Category:    row.Category,
		Description: row.Description,
		OccurredAt:  parseTime(row.OccurredAt),
		CreatedAt:   parseTime(row.CreatedAt),
	}
}

func toAchievement(row AchievementRow) core.Achievement {
	return core.Achievement{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		Title:       row.Title,
		Description: row.Description,
		XPReward:    row.XPReward,
		UnlockedAt:  parseTime(row.UnlockedAt),
	}
}

func toPending(rows []PendingRow) []ledger.PendingSync {
	out := make([]ledger.PendingSync, len(rows))
	for i, p := range rows {
		out[i] = ledger.PendingSync{ID: p.ID, OwnerID: p.OwnerID, CreatedAt: parseTime(p.CreatedAt), Attempts: int(p.Attempts)}
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		slog.Warn("Unparseable timestamp in database", "value", s, "error", err)
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
