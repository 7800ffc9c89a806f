package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cutpro/internal/amqp"
	"cutpro/internal/ledger"
	"cutpro/internal/sheets"
)

// ExportWorker copies recorded transactions and unlocked achievements from
// the store into the spreadsheet ledger.
type ExportWorker struct {
	tracker   ledger.SyncTracker
	exporter  sheets.LedgerExporter
	batchSize int
	now       func() time.Time
}

// errExportDeferred marks a failed append whose row was scheduled for a
// later sweep.
var errExportDeferred = errors.New("export deferred")

func NewExportWorker(tracker ledger.SyncTracker, exporter sheets.LedgerExporter, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ExportWorker{
		tracker:   tracker,
		exporter:  exporter,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// HandleEvent processes a single ledger event from AMQP. A returned error
// causes the message to be requeued. Failed appends are acknowledged: the
// row keeps its retry schedule and the sweep picks it up.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	slog.InfoContext(ctx, "Processing ledger event",
		"type", ev.Type,
		"id", ev.ID,
		"owner_id", ev.OwnerID)

	var err error
	switch ev.Type {
	case amqp.EventTransactionRecorded:
		err = w.exportTransaction(ctx, ev.ID)
	case amqp.EventAchievementUnlocked:
		err = w.exportAchievement(ctx, ev.ID)
	default:
		// goals have no ledger sheet
		slog.DebugContext(ctx, "Ignoring event", "type", ev.Type, "id", ev.ID)
	}
	if errors.Is(err, errExportDeferred) {
		return nil
	}
	return err
}

// ExportPending processes one batch of rows that were never exported. This is
// the backup path for lost messages.
func (w *ExportWorker) ExportPending(ctx context.Context) error {
	synced, failed, err := w.exportPending(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if synced+failed > 0 {
		slog.InfoContext(ctx, "Processed pending exports", "synced", synced, "errors", failed)
	}
	return nil
}

// StartupSyncCheck releases rows left claimed by a previous run and exports
// a larger backlog at worker startup.
func (w *ExportWorker) StartupSyncCheck(ctx context.Context) error {
	if _, err := w.tracker.ResetStaleClaims(ctx, w.now()); err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	synced, failed, err := w.exportPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	if synced+failed == 0 {
		slog.InfoContext(ctx, "No pending exports found on startup")
		return nil
	}
	slog.InfoContext(ctx, "Startup sync completed",
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *ExportWorker) exportPending(ctx context.Context, limit int) (synced, failed int, err error) {
	now := w.now()
	txs, err := w.tracker.PendingTransactions(ctx, now, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending transactions: %w", err)
	}
	achievements, err := w.tracker.PendingAchievements(ctx, now, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending achievements: %w", err)
	}

	for _, p := range txs {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		if err := w.exportTransaction(ctx, p.ID); err != nil {
			failed++
			continue
		}
		synced++
	}
	for _, p := range achievements {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		if err := w.exportAchievement(ctx, p.ID); err != nil {
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

func (w *ExportWorker) exportTransaction(ctx context.Context, id string) error {
	claimed, err := w.tracker.ClaimTransaction(ctx, id, w.now())
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// nothing left to export, drop the message
			slog.WarnContext(ctx, "Transaction not found for export", "transaction_id", id)
			return nil
		}
		return fmt.Errorf("claim transaction: %w", err)
	}
	if !claimed {
		slog.DebugContext(ctx, "Transaction not due for export", "transaction_id", id)
		return nil
	}

	t, err := w.tracker.GetTransaction(ctx, id)
	if err != nil {
		w.release(ctx, id, w.tracker.MarkTransactionSyncError)
		return fmt.Errorf("get transaction: %w", err)
	}

	ref, err := w.exporter.AppendTransaction(ctx, t)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to export transaction", "transaction_id", id, "error", err)
		w.release(ctx, id, w.tracker.MarkTransactionSyncError)
		return fmt.Errorf("append transaction: %w: %w", errExportDeferred, err)
	}

	if err := w.tracker.MarkTransactionSynced(ctx, id); err != nil {
		// the row is already in the sheet
		slog.ErrorContext(ctx, "Failed to mark as synced", "transaction_id", id, "error", err)
	}

	slog.InfoContext(ctx, "Exported transaction",
		"transaction_id", id,
		"owner_id", t.OwnerID,
		"sheets_ref", ref,
		"amount_cents", t.Amount.Cents)
	return nil
}

func (w *ExportWorker) exportAchievement(ctx context.Context, id string) error {
	claimed, err := w.tracker.ClaimAchievement(ctx, id, w.now())
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			slog.WarnContext(ctx, "Achievement not found for export", "id", id)
			return nil
		}
		return fmt.Errorf("claim achievement: %w", err)
	}
	if !claimed {
		slog.DebugContext(ctx, "Achievement not due for export", "id", id)
		return nil
	}

	a, err := w.tracker.GetAchievement(ctx, id)
	if err != nil {
		w.release(ctx, id, w.tracker.MarkAchievementSyncError)
		return fmt.Errorf("get achievement: %w", err)
	}

	ref, err := w.exporter.AppendAchievement(ctx, a)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to export achievement", "id", id, "error", err)
		w.release(ctx, id, w.tracker.MarkAchievementSyncError)
		return fmt.Errorf("append achievement: %w: %w", errExportDeferred, err)
	}

	if err := w.tracker.MarkAchievementSynced(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", id, "error", err)
	}

	slog.InfoContext(ctx, "Exported achievement",
		"id", id,
		"owner_id", a.OwnerID,
		"achievement_title", a.Title,
		"sheets_ref", ref)
	return nil
}

// release records a failed attempt so the claim does not outlive it.
func (w *ExportWorker) release(ctx context.Context, id string, markError func(context.Context, string, time.Time) error) {
	if err := markError(ctx, id, w.now()); err != nil {
		slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", err)
	}
}
