package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cutpro/internal/core"
	"cutpro/internal/ledger"
)

func newTx(owner string, k core.Kind, cents int64, at time.Time) core.Transaction {
	return core.Transaction{
		OwnerID:    owner,
		Kind:       k,
		Amount:     core.Money{Cents: cents},
		Category:   "Outros",
		OccurredAt: at,
		CreatedAt:  at,
	}
}

func TestProfileLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	if _, err := s.GetProfile(ctx, "o1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	p, err := s.CreateProfile(ctx, core.NewProfile("o1", time.Now()))
	if err != nil || p.Level != 1 {
		t.Fatalf("create: %+v %v", p, err)
	}
	p.XP = 40
	if err := s.UpdateProfile(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	// second create must not reset
	again, _ := s.CreateProfile(ctx, core.NewProfile("o1", time.Now()))
	if again.XP != 40 {
		t.Fatalf("create overwrote profile: %+v", again)
	}
	if err := s.UpdateProfile(ctx, core.Profile{OwnerID: "ghost"}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}
}

func TestTransactionsScopedAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{base, base.Add(2 * time.Hour), base.Add(time.Hour)} {
		if _, err := s.InsertTransaction(ctx, newTx("o1", core.Expense, int64(100*(i+1)), at)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if _, err := s.InsertTransaction(ctx, newTx("o2", core.Income, 999, base)); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListTransactionsByOwner(ctx, "o1")
	if err != nil || len(list) != 3 {
		t.Fatalf("list: %v %v", list, err)
	}
	if list[0].Amount.Cents != 200 || list[1].Amount.Cents != 300 || list[2].Amount.Cents != 100 {
		t.Fatalf("unexpected order: %+v", list)
	}
	if list[0].ID == "" {
		t.Fatal("expected generated id")
	}
	if n, _ := s.CountTransactionsByOwner(ctx, "o2"); n != 1 {
		t.Fatalf("o2 count = %d", n)
	}
	if empty, _ := s.ListTransactionsByOwner(ctx, "nobody"); empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestInsertRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	if _, err := s.InsertTransaction(ctx, newTx("o1", core.Expense, 0, time.Now())); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := s.InsertGoal(ctx, core.Goal{OwnerID: "o1", TargetAmount: core.Money{Cents: 1}}); !errors.Is(err, core.ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestAchievementTitleUnique(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	a := core.Achievement{OwnerID: "o1", Title: "Primeiro Passo", XPReward: 10, UnlockedAt: time.Now()}
	if _, err := s.InsertAchievement(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertAchievement(ctx, a); !errors.Is(err, ledger.ErrDuplicateAchievement) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	// other owners are unaffected
	a.OwnerID = "o2"
	if _, err := s.InsertAchievement(ctx, a); err != nil {
		t.Fatalf("o2 insert: %v", err)
	}
	if ok, _ := s.HasAchievement(ctx, "o1", "Primeiro Passo"); !ok {
		t.Fatal("expected HasAchievement")
	}
	if ok, _ := s.HasAchievement(ctx, "o1", "Planejador"); ok {
		t.Fatal("unexpected achievement")
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.CreateProfile(ctx, core.NewProfile("o1", time.Now())); err != nil {
			return err
		}
		if _, err := tx.InsertTransaction(ctx, newTx("o1", core.Income, 500, time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n, _ := s.CountTransactionsByOwner(ctx, "o1"); n != 0 {
		t.Fatalf("rolled back tx leaked %d rows", n)
	}
	if _, err := s.GetProfile(ctx, "o1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("rolled back profile leaked: %v", err)
	}

	err = s.WithinTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.CreateProfile(ctx, core.NewProfile("o1", time.Now()))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if owners, _ := s.ListOwners(ctx); len(owners) != 1 || owners[0] != "o1" {
		t.Fatalf("owners = %v", owners)
	}
}

func TestSyncTracking(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := New(nil)
	tx1, _ := s.InsertTransaction(ctx, newTx("o1", core.Income, 100, now))
	tx2, _ := s.InsertTransaction(ctx, newTx("o1", core.Expense, 50, now))
	ach, _ := s.InsertAchievement(ctx, core.Achievement{OwnerID: "o1", Title: "Planejador", XPReward: 25})

	pending, _ := s.PendingTransactions(ctx, now, 1)
	if len(pending) != 1 || pending[0].ID != tx1.ID {
		t.Fatalf("pending = %+v", pending)
	}
	if all, _ := s.PendingTransactions(ctx, now, 0); len(all) != 2 {
		t.Fatalf("limit 0 should list every due row, got %+v", all)
	}

	if ok, err := s.ClaimTransaction(ctx, tx1.ID, now); !ok || err != nil {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if ok, _ := s.ClaimTransaction(ctx, tx1.ID, now); ok {
		t.Fatal("a claimed row must not be claimed twice")
	}
	if err := s.MarkTransactionSynced(ctx, tx1.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.ClaimTransaction(ctx, tx1.ID, now); ok {
		t.Fatal("a synced row must not be claimed")
	}

	if ok, _ := s.ClaimTransaction(ctx, tx2.ID, now); !ok {
		t.Fatal("expected claim on tx2")
	}
	if err := s.MarkTransactionSyncError(ctx, tx2.ID, now); err != nil {
		t.Fatal(err)
	}
	if pending, _ = s.PendingTransactions(ctx, now, 10); len(pending) != 0 {
		t.Fatalf("failed row is not due before its retry time, got %+v", pending)
	}
	later := now.Add(ledger.RetryDelay(1))
	pending, _ = s.PendingTransactions(ctx, later, 10)
	if len(pending) != 1 || pending[0].ID != tx2.ID || pending[0].Attempts != 1 {
		t.Fatalf("pending after retry delay = %+v", pending)
	}

	if pa, _ := s.PendingAchievements(ctx, now, 10); len(pa) != 1 {
		t.Fatalf("pending achievements = %+v", pa)
	}
	_ = s.MarkAchievementSynced(ctx, ach.ID)
	if pa, _ := s.PendingAchievements(ctx, now, 10); len(pa) != 0 {
		t.Fatalf("pending achievements = %+v", pa)
	}

	if got, err := s.GetTransaction(ctx, tx2.ID); err != nil || got.Amount.Cents != 50 {
		t.Fatalf("get: %+v %v", got, err)
	}
	if err := s.MarkTransactionSynced(ctx, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := New(nil)
	tx, _ := s.InsertTransaction(ctx, newTx("o1", core.Income, 100, now))

	for i := 0; i < ledger.MaxSyncAttempts; i++ {
		if ok, _ := s.ClaimTransaction(ctx, tx.ID, now); !ok {
			t.Fatalf("attempt %d: row should be due", i+1)
		}
		_ = s.MarkTransactionSyncError(ctx, tx.ID, now)
		now = now.Add(ledger.RetryDelay(i + 1))
	}
	if ok, _ := s.ClaimTransaction(ctx, tx.ID, now.Add(time.Hour)); ok {
		t.Fatal("row must not be retried after the last attempt")
	}
}

func TestResetStaleClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := New(nil)
	tx, _ := s.InsertTransaction(ctx, newTx("o1", core.Income, 100, now))
	_, _ = s.ClaimTransaction(ctx, tx.ID, now)

	if n, err := s.ResetStaleClaims(ctx, now); err != nil || n != 1 {
		t.Fatalf("reset = %d %v", n, err)
	}
	if ok, _ := s.ClaimTransaction(ctx, tx.ID, now); !ok {
		t.Fatal("released row should be claimable")
	}
}

func TestNewFromFilesSeedsAndDedupe(t *testing.T) {
	dir := t.TempDir()
	s := NewFromFiles(dir)
	cats, _ := s.ListCategories(context.Background())
	if len(cats) != len(core.Categories) {
		t.Fatalf("expected defaults when file missing, got %v", cats)
	}

	content := "# header\nLazer\nMoradia\nLazer\n\n"
	if err := os.WriteFile(filepath.Join(dir, "seed_categories.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s = NewFromFiles(dir)
	cats, _ = s.ListCategories(context.Background())
	if len(cats) != 2 || cats[0] != "Lazer" || cats[1] != "Moradia" {
		t.Fatalf("unexpected cats: %v", cats)
	}
}
