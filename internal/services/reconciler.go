package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cutpro/internal/core"
	"cutpro/internal/ledger"
	applog "cutpro/internal/log"
)

// Reconciler re-derives every profile from the append-only transaction and
// achievement logs and repairs the ones that drifted.
type Reconciler struct {
	store ledger.Store
	now   func() time.Time
}

func NewReconciler(store ledger.Store) *Reconciler {
	return &Reconciler{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileAll checks every known owner and returns how many profiles were
// rewritten. A failure on one owner is logged and does not stop the run.
func (r *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, fmt.Errorf("reconciler not properly initialized")
	}

	owners, err := r.store.ListOwners(ctx)
	if err != nil {
		return 0, fmt.Errorf("list owners: %w", err)
	}

	slog.InfoContext(ctx, "Reconciling profiles", "owners", len(owners))

	repaired := 0
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		changed, err := r.ReconcileOwner(ctx, owner)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to reconcile profile",
				applog.FieldOwnerID, owner,
				applog.FieldError, err)
			continue
		}
		if changed {
			repaired++
		}
	}

	slog.InfoContext(ctx, "Profile reconciliation complete",
		"repaired", repaired,
		"total_checked", len(owners))

	return repaired, nil
}

// ReconcileOwner recomputes one owner's profile inside a store transaction.
func (r *Reconciler) ReconcileOwner(ctx context.Context, ownerID string) (bool, error) {
	changed := false
	err := r.store.WithinTx(ctx, func(tx ledger.Tx) error {
		p, err := tx.GetProfile(ctx, ownerID)
		if err != nil {
			return err
		}
		txs, err := tx.ListTransactionsByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		achievements, err := tx.ListAchievementsByOwner(ctx, ownerID)
		if err != nil {
			return err
		}

		want := core.RecomputeProfile(p, txs, achievements)
		if want.TotalSaved == p.TotalSaved && want.XP == p.XP && want.Level == p.Level {
			return nil
		}

		slog.WarnContext(ctx, "Profile drift detected",
			applog.FieldOwnerID, ownerID,
			"stored_total_saved_cents", p.TotalSaved.Cents,
			"derived_total_saved_cents", want.TotalSaved.Cents,
			"stored_xp", p.XP,
			"derived_xp", want.XP)

		want.UpdatedAt = r.now()
		changed = true
		return tx.UpdateProfile(ctx, want)
	})
	if err != nil {
		return false, fmt.Errorf("reconcile %s: %w", ownerID, err)
	}
	return changed, nil
}
