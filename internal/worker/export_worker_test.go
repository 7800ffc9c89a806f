package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cutpro/internal/amqp"
	"cutpro/internal/core"
	"cutpro/internal/ledger"
	"cutpro/internal/ledger/memory"
)

type fakeExporter struct {
	mu           sync.Mutex
	transactions []core.Transaction
	achievements []core.Achievement
	err          error
}

func (f *fakeExporter) AppendTransaction(_ context.Context, t core.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.transactions = append(f.transactions, t)
	return "Transacoes!A2:G2", nil
}

func (f *fakeExporter) AppendAchievement(_ context.Context, a core.Achievement) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.achievements = append(f.achievements, a)
	return "Conquistas!A2:E2", nil
}

func (f *fakeExporter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeExporter) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transactions), len(f.achievements)
}

// clock is a settable time source for retry scheduling.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func seed(t *testing.T, store *memory.Store) (core.Transaction, core.Achievement) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.InsertTransaction(ctx, core.Transaction{
		OwnerID:    "owner-1",
		Kind:       core.Income,
		Amount:     core.Money{Cents: 5000},
		Category:   "Salário",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	a, err := store.InsertAchievement(ctx, core.Achievement{
		OwnerID:    "owner-1",
		Title:      core.FirstStep.Title,
		XPReward:   core.FirstStep.XPReward,
		UnlockedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return tx, a
}

func TestExportWorker_HandleEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	tx, a := seed(t, store)
	exp := &fakeExporter{}
	w := NewExportWorker(store, exp, 10)

	tests := []struct {
		name string
		ev   *amqp.LedgerEvent
	}{
		{"transaction", amqp.NewLedgerEvent(amqp.EventTransactionRecorded, tx.ID, tx.OwnerID)},
		{"achievement", amqp.NewLedgerEvent(amqp.EventAchievementUnlocked, a.ID, a.OwnerID)},
		{"goal is ignored", amqp.NewLedgerEvent(amqp.EventGoalCreated, "g-1", "owner-1")},
		{"missing row is dropped", amqp.NewLedgerEvent(amqp.EventTransactionRecorded, "nope", "owner-1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := w.HandleEvent(ctx, tt.ev); err != nil {
				t.Fatalf("HandleEvent: %v", err)
			}
		})
	}

	if len(exp.transactions) != 1 || exp.transactions[0].ID != tx.ID {
		t.Fatalf("exported transactions = %+v", exp.transactions)
	}
	if len(exp.achievements) != 1 || exp.achievements[0].Title != core.FirstStep.Title {
		t.Fatalf("exported achievements = %+v", exp.achievements)
	}

	pending, _ := store.PendingTransactions(ctx, time.Now(), 10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending transactions, got %d", len(pending))
	}
}

func TestExportWorker_FailedEventIsRetriedBySweep(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	tx, _ := seed(t, store)
	exp := &fakeExporter{err: errors.New("sheets 503")}
	c := &clock{t: time.Now()}
	w := NewExportWorker(store, exp, 10)
	w.now = c.now

	// the message is acknowledged; retries belong to the sweep
	if err := w.HandleEvent(ctx, amqp.NewLedgerEvent(amqp.EventTransactionRecorded, tx.ID, tx.OwnerID)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if pending, _ := store.PendingTransactions(ctx, c.now(), 10); len(pending) != 0 {
		t.Fatalf("failed row must wait for its retry time, got %+v", pending)
	}

	exp.setErr(nil)
	c.advance(ledger.RetryDelay(1))
	if err := w.ExportPending(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := exp.counts(); n != 1 {
		t.Fatalf("exported %d transactions after recovery, want 1", n)
	}
}

func TestExportWorker_RecoversAfterOutage(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	seed(t, store)
	exp := &fakeExporter{err: errors.New("sheets 503")}
	c := &clock{t: time.Now()}
	w := NewExportWorker(store, exp, 10)
	w.now = c.now

	if err := w.ExportPending(ctx); err != nil {
		t.Fatal(err)
	}
	exp.setErr(nil)

	// still inside the backoff window
	if err := w.ExportPending(ctx); err != nil {
		t.Fatal(err)
	}
	if txs, achs := exp.counts(); txs+achs != 0 {
		t.Fatalf("exported before the retry time: %d/%d", txs, achs)
	}

	c.advance(ledger.RetryDelay(1))
	if err := w.ExportPending(ctx); err != nil {
		t.Fatal(err)
	}
	if txs, achs := exp.counts(); txs != 1 || achs != 1 {
		t.Fatalf("exported %d transactions, %d achievements, want 1 and 1", txs, achs)
	}
}

func TestExportWorker_NoDuplicateRows(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	tx, a := seed(t, store)
	exp := &fakeExporter{}
	w := NewExportWorker(store, exp, 10)

	if err := w.ExportPending(ctx); err != nil {
		t.Fatal(err)
	}
	// a late or redelivered event for rows the sweep already exported
	for _, ev := range []*amqp.LedgerEvent{
		amqp.NewLedgerEvent(amqp.EventTransactionRecorded, tx.ID, tx.OwnerID),
		amqp.NewLedgerEvent(amqp.EventTransactionRecorded, tx.ID, tx.OwnerID),
		amqp.NewLedgerEvent(amqp.EventAchievementUnlocked, a.ID, a.OwnerID),
	} {
		if err := w.HandleEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if txs, achs := exp.counts(); txs != 1 || achs != 1 {
		t.Fatalf("sheet rows: %d transactions, %d achievements, want 1 each", txs, achs)
	}
}

func TestExportWorker_ConcurrentEventAndSweep(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	tx, _ := seed(t, store)
	exp := &fakeExporter{}
	w := NewExportWorker(store, exp, 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = w.HandleEvent(ctx, amqp.NewLedgerEvent(amqp.EventTransactionRecorded, tx.ID, tx.OwnerID))
		}()
		go func() {
			defer wg.Done()
			_ = w.ExportPending(ctx)
		}()
	}
	wg.Wait()
	if txs, _ := exp.counts(); txs != 1 {
		t.Fatalf("transaction appended %d times", txs)
	}
}

func TestExportWorker_StartupReleasesStaleClaims(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	tx, _ := seed(t, store)
	// a previous run claimed the row and stopped before finishing
	if ok, _ := store.ClaimTransaction(ctx, tx.ID, time.Now()); !ok {
		t.Fatal("claim failed")
	}
	exp := &fakeExporter{}
	w := NewExportWorker(store, exp, 10)

	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatal(err)
	}
	if txs, _ := exp.counts(); txs != 1 {
		t.Fatalf("exported %d transactions, want 1", txs)
	}
}

func TestExportWorker_ExportPending(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	seed(t, store)
	exp := &fakeExporter{}
	w := NewExportWorker(store, exp, 10)

	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatal(err)
	}
	if len(exp.transactions) != 1 || len(exp.achievements) != 1 {
		t.Fatalf("exported %d transactions, %d achievements", len(exp.transactions), len(exp.achievements))
	}

	// second sweep has nothing to do
	if err := w.ExportPending(ctx); err != nil {
		t.Fatal(err)
	}
	if len(exp.transactions) != 1 {
		t.Fatalf("transaction exported twice")
	}
}

type brokenTracker struct{ ledger.SyncTracker }

func (brokenTracker) PendingTransactions(context.Context, time.Time, int) ([]ledger.PendingSync, error) {
	return nil, errors.New("db down")
}

func TestExportWorker_ExportPendingStoreError(t *testing.T) {
	w := NewExportWorker(brokenTracker{}, &fakeExporter{}, 0)
	if err := w.ExportPending(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if w.batchSize != 10 {
		t.Fatalf("batchSize = %d, want default 10", w.batchSize)
	}
}
