package services

import (
	"context"
	"testing"

	"cutpro/internal/core"
	"cutpro/internal/ledger/memory"
)

func TestReconcilerRepairsDrift(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	svc := NewProgressionService(store, nil)

	if _, err := svc.RecordTransaction(ctx, "o1", income(20000, "Salário")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordTransaction(ctx, "o1", expense(5000, "Lazer")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordTransaction(ctx, "o2", income(100, "Outros")); err != nil {
		t.Fatal(err)
	}

	// simulate an out-of-band edit on o1
	p, _ := store.GetProfile(ctx, "o1")
	p.TotalSaved = core.Money{Cents: 1}
	p.XP, p.Level = 500, 11
	if err := store.UpdateProfile(ctx, p); err != nil {
		t.Fatal(err)
	}

	r := NewReconciler(store)
	repaired, err := r.ReconcileAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if repaired != 1 {
		t.Fatalf("repaired = %d, want 1", repaired)
	}
	got, _ := store.GetProfile(ctx, "o1")
	if got.TotalSaved.Cents != 15000 || got.XP != 10 || got.Level != 1 {
		t.Fatalf("profile not repaired: %+v", got)
	}

	// a second pass finds nothing to do
	if repaired, _ = r.ReconcileAll(ctx); repaired != 0 {
		t.Fatalf("second pass repaired %d", repaired)
	}
}

func TestReconcilerNotInitialized(t *testing.T) {
	if _, err := (&Reconciler{}).ReconcileAll(context.Background()); err == nil {
		t.Fatal("expected error for nil store")
	}
}
