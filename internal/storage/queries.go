package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Row models. Timestamps are stored as fixed-width UTC text so that
// lexical order matches chronological order.

type ProfileRow struct {
	OwnerID         string
	XP              int64
	Level           int64
	TotalSavedCents int64
	UpdatedAt       string
}

type TransactionRow struct {
	ID          string
	OwnerID     string
	Kind        string
	AmountCents int64
	Category    string
	Description string
	OccurredAt  string
	CreatedAt   string
	SyncStatus  string
}

type GoalRow struct {
	ID                 string
	OwnerID            string
	Name               string
	TargetAmountCents  int64
	CurrentAmountCents int64
	Deadline           sql.NullString
	CreatedAt          string
	UpdatedAt          string
}

type AchievementRow struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	XPReward    int64
	UnlockedAt  string
	SyncStatus  string
}

type PendingRow struct {
	ID        string
	OwnerID   string
	CreatedAt string
	Attempts  int64
}

const getProfile = `SELECT owner_id, xp, level, total_saved_cents, updated_at FROM profiles WHERE owner_id = ?`

func (q *Queries) GetProfile(ctx context.Context, ownerID string) (ProfileRow, error) {
	var p ProfileRow
	err := q.db.QueryRowContext(ctx, getProfile, ownerID).Scan(&p.OwnerID, &p.XP, &p.Level, &p.TotalSavedCents, &p.UpdatedAt)
	return p, err
}

const insertProfile = `INSERT OR IGNORE INTO profiles (owner_id, xp, level, total_saved_cents, updated_at) VALUES (?, ?, ?, ?, ?)`

func (q *Queries) InsertProfile(ctx context.Context, p ProfileRow) error {
	_, err := q.db.ExecContext(ctx, insertProfile, p.OwnerID, p.XP, p.Level, p.TotalSavedCents, p.UpdatedAt)
	return err
}

const updateProfile = `UPDATE profiles SET xp = ?, level = ?, total_saved_cents = ?, updated_at = ? WHERE owner_id = ?`

func (q *Queries) UpdateProfile(ctx context.Context, p ProfileRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateProfile, p.XP, p.Level, p.TotalSavedCents, p.UpdatedAt, p.OwnerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listOwners = `SELECT owner_id FROM profiles ORDER BY owner_id`

func (q *Queries) ListOwners(ctx context.Context) ([]string, error) {
	return q.strings(ctx, listOwners)
}

const insertTransaction = `INSERT INTO transactions
    (id, owner_id, kind, amount_cents, category, description, occurred_at, created_at, sync_status)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')`

func (q *Queries) InsertTransaction(ctx context.Context, t TransactionRow) error {
	_, err := q.db.ExecContext(ctx, insertTransaction,
		t.ID, t.OwnerID, t.Kind, t.AmountCents, t.Category, t.Description, t.OccurredAt, t.CreatedAt)
	return err
}

const transactionColumns = `id, owner_id, kind, amount_cents, category, description, occurred_at, created_at, sync_status`

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id))
}

const listTransactionsByOwner = `SELECT ` + transactionColumns + ` FROM transactions
    WHERE owner_id = ? ORDER BY occurred_at DESC, rowid DESC`

func (q *Queries) ListTransactionsByOwner(ctx context.Context, ownerID string) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionsByOwner, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []TransactionRow{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const countTransactionsByOwner = `SELECT COUNT(*) FROM transactions WHERE owner_id = ?`

func (q *Queries) CountTransactionsByOwner(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countTransactionsByOwner, ownerID).Scan(&n)
	return n, err
}

const insertGoal = `INSERT INTO goals
    (id, owner_id, name, target_amount_cents, current_amount_cents, deadline, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertGoal(ctx context.Context, g GoalRow) error {
	_, err := q.db.ExecContext(ctx, insertGoal,
		g.ID, g.OwnerID, g.Name, g.TargetAmountCents, g.CurrentAmountCents, g.Deadline, g.CreatedAt, g.UpdatedAt)
	return err
}

const listGoalsByOwner = `SELECT id, owner_id, name, target_amount_cents, current_amount_cents, deadline, created_at, updated_at
    FROM goals WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`

func (q *Queries) ListGoalsByOwner(ctx context.Context, ownerID string) ([]GoalRow, error) {
	rows, err := q.db.QueryContext(ctx, listGoalsByOwner, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []GoalRow{}
	for rows.Next() {
		var g GoalRow
		if err := rows.Scan(&g.ID, &g.OwnerID, &g.Name, &g.TargetAmountCents, &g.CurrentAmountCents,
			&g.Deadline, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

const countGoalsByOwner = `SELECT COUNT(*) FROM goals WHERE owner_id = ?`

func (q *Queries) CountGoalsByOwner(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countGoalsByOwner, ownerID).Scan(&n)
	return n, err
}

const insertAchievement = `INSERT INTO achievements
    (id, owner_id, title, description, xp_reward, unlocked_at, sync_status)
    VALUES (?, ?, ?, ?, ?, ?, 'pending')`

func (q *Queries) InsertAchievement(ctx context.Context, a AchievementRow) error {
	_, err := q.db.ExecContext(ctx, insertAchievement, a.ID, a.OwnerID, a.Title, a.Description, a.XPReward, a.UnlockedAt)
	return err
}

const achievementColumns = `id, owner_id, title, description, xp_reward, unlocked_at, sync_status`

const getAchievement = `SELECT ` + achievementColumns + ` FROM achievements WHERE id = ?`

func (q *Queries) GetAchievement(ctx context.Context, id string) (AchievementRow, error) {
	return scanAchievement(q.db.QueryRowContext(ctx, getAchievement, id))
}

const listAchievementsByOwner = `SELECT ` + achievementColumns + ` FROM achievements
    WHERE owner_id = ? ORDER BY unlocked_at DESC, rowid DESC`

func (q *Queries) ListAchievementsByOwner(ctx context.Context, ownerID string) ([]AchievementRow, error) {
	rows, err := q.db.QueryContext(ctx, listAchievementsByOwner, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []AchievementRow{}
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const hasAchievement = `SELECT EXISTS (SELECT 1 FROM achievements WHERE owner_id = ? AND title = ?)`

func (q *Queries) HasAchievement(ctx context.Context, ownerID, title string) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, hasAchievement, ownerID, title).Scan(&ok)
	return ok, err
}

const listCategories = `SELECT name FROM categories ORDER BY position, name`

func (q *Queries) ListCategories(ctx context.Context) ([]string, error) {
	return q.strings(ctx, listCategories)
}

// syncSQL holds the export-tracking statements for one exported table.
type syncSQL struct {
	pending   string
	claim     string
	exists    string
	bump      string
	setStatus string
	setRetry  string
	release   string
}

func newSyncSQL(table, orderBy string) syncSQL {
	const due = `(sync_status = 'pending' OR (sync_status = 'error' AND sync_next_attempt_at <= ?))`
	return syncSQL{
		pending:   `SELECT id, owner_id, ` + orderBy + `, sync_attempts FROM ` + table + ` WHERE ` + due + ` ORDER BY ` + orderBy + `, rowid LIMIT ?`,
		claim:     `UPDATE ` + table + ` SET sync_status = 'processing' WHERE id = ? AND ` + due,
		exists:    `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = ?)`,
		bump:      `UPDATE ` + table + ` SET sync_attempts = sync_attempts + 1 WHERE id = ? RETURNING sync_attempts`,
		setStatus: `UPDATE ` + table + ` SET sync_status = ? WHERE id = ?`,
		setRetry:  `UPDATE ` + table + ` SET sync_status = ?, sync_next_attempt_at = ? WHERE id = ?`,
		release:   `UPDATE ` + table + ` SET sync_status = 'error', sync_next_attempt_at = ? WHERE sync_status = 'processing'`,
	}
}

var (
	transactionSync = newSyncSQL("transactions", "created_at")
	achievementSync = newSyncSQL("achievements", "unlocked_at")
)

// PendingRows lists due rows. SQLite treats a negative limit as no limit.
func (q *Queries) PendingRows(ctx context.Context, s syncSQL, now string, limit int64) ([]PendingRow, error) {
	rows, err := q.db.QueryContext(ctx, s.pending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PendingRow{}
	for rows.Next() {
		var p PendingRow
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.CreatedAt, &p.Attempts); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (q *Queries) ClaimRow(ctx context.Context, s syncSQL, id, now string) (int64, error) {
	return q.exec(ctx, s.claim, id, now)
}

func (q *Queries) RowExists(ctx context.Context, s syncSQL, id string) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, s.exists, id).Scan(&ok)
	return ok, err
}

func (q *Queries) BumpSyncAttempts(ctx context.Context, s syncSQL, id string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, s.bump, id).Scan(&n)
	return n, err
}

func (q *Queries) SetSyncStatus(ctx context.Context, s syncSQL, id, status string) (int64, error) {
	return q.exec(ctx, s.setStatus, status, id)
}

func (q *Queries) SetSyncRetry(ctx context.Context, s syncSQL, id, status string, nextAt sql.NullString) (int64, error) {
	return q.exec(ctx, s.setRetry, status, nextAt, id)
}

func (q *Queries) ReleaseClaims(ctx context.Context, s syncSQL, now string) (int64, error) {
	return q.exec(ctx, s.release, now)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (TransactionRow, error) {
	var t TransactionRow
	err := s.Scan(&t.ID, &t.OwnerID, &t.Kind, &t.AmountCents, &t.Category, &t.Description,
		&t.OccurredAt, &t.CreatedAt, &t.SyncStatus)
	return t, err
}

func scanAchievement(s scanner) (AchievementRow, error) {
	var a AchievementRow
	err := s.Scan(&a.ID, &a.OwnerID, &a.Title, &a.Description, &a.XPReward, &a.UnlockedAt, &a.SyncStatus)
	return a, err
}

func (q *Queries) strings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
