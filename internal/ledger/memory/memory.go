package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cutpro/internal/core"
	"cutpro/internal/ledger"
)

// Ensure interface conformance
var (
	_ ledger.Store       = (*Store)(nil)
	_ ledger.SyncTracker = (*Store)(nil)
)

// Store keeps every collection in process memory. WithinTx works on a copy
// of the state that replaces the live one only on success.
type Store struct {
	mu   sync.Mutex
	cats []string
	st   *state
}

// exportState tracks one row's spreadsheet export.
type exportState struct {
	status   string
	attempts int
	nextAt   time.Time
}

func (e exportState) due(now time.Time) bool {
	return e.status == ledger.SyncPending ||
		(e.status == ledger.SyncError && !e.nextAt.After(now))
}

func (e *exportState) claim(now time.Time) bool {
	if !e.due(now) {
		return false
	}
	e.status = ledger.SyncProcessing
	return true
}

func (e *exportState) fail(now time.Time) {
	e.attempts++
	e.status, e.nextAt = ledger.NextSyncState(e.attempts, now)
}

type storedTx struct {
	tx     core.Transaction
	export exportState
}

type storedAchievement struct {
	a      core.Achievement
	export exportState
}

type state struct {
	profiles     map[string]core.Profile
	txs          []storedTx
	goals        []core.Goal
	achievements []storedAchievement
}

func New(cats []string) *Store {
	return &Store{
		cats: dedupe(cats),
		st:   &state{profiles: map[string]core.Profile{}},
	}
}

// NewFromFiles seeds the category list from base/seed_categories.txt,
// falling back to the built-in list.
func NewFromFiles(base string) *Store {
	cats := readLines(filepath.Join(base, "seed_categories.txt"))
	if len(cats) == 0 {
		cats = core.Categories
	}
	return New(cats)
}

func (s *Store) Close() error { return nil }

// ListCategories returns a copy of the seeded categories.
func (s *Store) ListCategories(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cats...), nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetProfile(ctx context.Context, ownerID string) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetProfile(ctx, ownerID)
}

func (s *Store) CreateProfile(ctx context.Context, p core.Profile) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateProfile(ctx, p)
}

func (s *Store) UpdateProfile(ctx context.Context, p core.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateProfile(ctx, p)
}

func (s *Store) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertTransaction(ctx, t)
}

func (s *Store) ListTransactionsByOwner(ctx context.Context, ownerID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListTransactionsByOwner(ctx, ownerID)
}

func (s *Store) CountTransactionsByOwner(ctx context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CountTransactionsByOwner(ctx, ownerID)
}

func (s *Store) InsertGoal(ctx context.Context, g core.Goal) (core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertGoal(ctx, g)
}

func (s *Store) ListGoalsByOwner(ctx context.Context, ownerID string) ([]core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListGoalsByOwner(ctx, ownerID)
}

func (s *Store) CountGoalsByOwner(ctx context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CountGoalsByOwner(ctx, ownerID)
}

func (s *Store) InsertAchievement(ctx context.Context, a core.Achievement) (core.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertAchievement(ctx, a)
}

func (s *Store) ListAchievementsByOwner(ctx context.Context, ownerID string) ([]core.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListAchievementsByOwner(ctx, ownerID)
}

func (s *Store) HasAchievement(ctx context.Context, ownerID, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.HasAchievement(ctx, ownerID, title)
}

// ListOwners returns every owner with a profile, sorted.
func (s *Store) ListOwners(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.st.profiles))
	for id := range s.st.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.st.txs {
		if st.tx.ID == id {
			return st.tx, nil
		}
	}
	return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
}

func (s *Store) GetAchievement(_ context.Context, id string) (core.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sa := range s.st.achievements {
		if sa.a.ID == id {
			return sa.a, nil
		}
	}
	return core.Achievement{}, fmt.Errorf("achievement %s: %w", id, ledger.ErrNotFound)
}

// PendingTransactions returns due transactions, oldest first.
func (s *Store) PendingTransactions(_ context.Context, now time.Time, limit int) ([]ledger.PendingSync, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.PendingSync
	for _, st := range s.st.txs {
		if !st.export.due(now) {
			continue
		}
		out = append(out, ledger.PendingSync{ID: st.tx.ID, OwnerID: st.tx.OwnerID, CreatedAt: st.tx.CreatedAt, Attempts: st.export.attempts})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// PendingAchievements returns due achievements, oldest first.
func (s *Store) PendingAchievements(_ context.Context, now time.Time, limit int) ([]ledger.PendingSync, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.PendingSync
	for _, sa := range s.st.achievements {
		if !sa.export.due(now) {
			continue
		}
		out = append(out, ledger.PendingSync{ID: sa.a.ID, OwnerID: sa.a.OwnerID, CreatedAt: sa.a.UnlockedAt, Attempts: sa.export.attempts})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ClaimTransaction(_ context.Context, id string, now time.Time) (bool, error) {
	var ok bool
	err := s.updateTxExport(id, func(e *exportState) { ok = e.claim(now) })
	return ok, err
}

func (s *Store) ClaimAchievement(_ context.Context, id string, now time.Time) (bool, error) {
	var ok bool
	err := s.updateAchievementExport(id, func(e *exportState) { ok = e.claim(now) })
	return ok, err
}

func (s *Store) MarkTransactionSynced(_ context.Context, id string) error {
	return s.updateTxExport(id, func(e *exportState) { e.status = ledger.SyncDone })
}

func (s *Store) MarkTransactionSyncError(_ context.Context, id string, now time.Time) error {
	return s.updateTxExport(id, func(e *exportState) { e.fail(now) })
}

func (s *Store) MarkAchievementSynced(_ context.Context, id string) error {
	return s.updateAchievementExport(id, func(e *exportState) { e.status = ledger.SyncDone })
}

func (s *Store) MarkAchievementSyncError(_ context.Context, id string, now time.Time) error {
	return s.updateAchievementExport(id, func(e *exportState) { e.fail(now) })
}

// ResetStaleClaims makes every processing row due at now.
func (s *Store) ResetStaleClaims(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	release := func(e *exportState) {
		if e.status == ledger.SyncProcessing {
			e.status, e.nextAt = ledger.SyncError, now
			n++
		}
	}
	for i := range s.st.txs {
		release(&s.st.txs[i].export)
	}
	for i := range s.st.achievements {
		release(&s.st.achievements[i].export)
	}
	return n, nil
}

func (s *Store) updateTxExport(id string, fn func(*exportState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.txs {
		if s.st.txs[i].tx.ID == id {
			fn(&s.st.txs[i].export)
			return nil
		}
	}
	return fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
}

func (s *Store) updateAchievementExport(id string, fn func(*exportState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.achievements {
		if s.st.achievements[i].a.ID == id {
			fn(&s.st.achievements[i].export)
			return nil
		}
	}
	return fmt.Errorf("achievement %s: %w", id, ledger.ErrNotFound)
}

// state methods assume the caller holds Store.mu.

func (st *state) clone() *state {
	c := &state{
		profiles:     make(map[string]core.Profile, len(st.profiles)),
		txs:          append([]storedTx(nil), st.txs...),
		goals:        append([]core.Goal(nil), st.goals...),
		achievements: append([]storedAchievement(nil), st.achievements...),
	}
	for k, v := range st.profiles {
		c.profiles[k] = v
	}
	return c
}

func (st *state) GetProfile(_ context.Context, ownerID string) (core.Profile, error) {
	p, ok := st.profiles[ownerID]
	if !ok {
		return core.Profile{}, fmt.Errorf("profile %s: %w", ownerID, ledger.ErrNotFound)
	}
	return p, nil
}

// CreateProfile is idempotent: an existing profile is returned unchanged.
func (st *state) CreateProfile(_ context.Context, p core.Profile) (core.Profile, error) {
	if existing, ok := st.profiles[p.OwnerID]; ok {
		return existing, nil
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	st.profiles[p.OwnerID] = p
	return p, nil
}

func (st *state) UpdateProfile(_ context.Context, p core.Profile) error {
	if _, ok := st.profiles[p.OwnerID]; !ok {
		return fmt.Errorf("profile %s: %w", p.OwnerID, ledger.ErrNotFound)
	}
	st.profiles[p.OwnerID] = p
	return nil
}

func (st *state) InsertTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if t.ID == "" {
		t.ID = core.NewID()
	}
	st.txs = append(st.txs, storedTx{tx: t, export: exportState{status: ledger.SyncPending}})
	return t, nil
}

func (st *state) ListTransactionsByOwner(_ context.Context, ownerID string) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0)
	for i := len(st.txs) - 1; i >= 0; i-- {
		if st.txs[i].tx.OwnerID == ownerID {
			out = append(out, st.txs[i].tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (st *state) CountTransactionsByOwner(_ context.Context, ownerID string) (int, error) {
	n := 0
	for _, s := range st.txs {
		if s.tx.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (st *state) InsertGoal(_ context.Context, g core.Goal) (core.Goal, error) {
	if err := g.Validate(); err != nil {
		return core.Goal{}, err
	}
	if g.ID == "" {
		g.ID = core.NewID()
	}
	st.goals = append(st.goals, g)
	return g, nil
}

func (st *state) ListGoalsByOwner(_ context.Context, ownerID string) ([]core.Goal, error) {
	out := make([]core.Goal, 0)
	for i := len(st.goals) - 1; i >= 0; i-- {
		if st.goals[i].OwnerID == ownerID {
			out = append(out, st.goals[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (st *state) CountGoalsByOwner(_ context.Context, ownerID string) (int, error) {
	n := 0
	for _, g := range st.goals {
		if g.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (st *state) InsertAchievement(ctx context.Context, a core.Achievement) (core.Achievement, error) {
	if err := a.Validate(); err != nil {
		return core.Achievement{}, err
	}
	if ok, _ := st.HasAchievement(ctx, a.OwnerID, a.Title); ok {
		return core.Achievement{}, fmt.Errorf("%s/%s: %w", a.OwnerID, a.Title, ledger.ErrDuplicateAchievement)
	}
	if a.ID == "" {
		a.ID = core.NewID()
	}
	st.achievements = append(st.achievements, storedAchievement{a: a, export: exportState{status: ledger.SyncPending}})
	return a, nil
}

func (st *state) ListAchievementsByOwner(_ context.Context, ownerID string) ([]core.Achievement, error) {
	out := make([]core.Achievement, 0)
	for i := len(st.achievements) - 1; i >= 0; i-- {
		if st.achievements[i].a.OwnerID == ownerID {
			out = append(out, st.achievements[i].a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UnlockedAt.After(out[j].UnlockedAt) })
	return out, nil
}

func (st *state) HasAchievement(_ context.Context, ownerID, title string) (bool, error) {
	for _, sa := range st.achievements {
		if sa.a.OwnerID == ownerID && sa.a.Title == title {
			return true, nil
		}
	}
	return false, nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return dedupe(out)
}

// dedupe drops blanks and repeats, preserving input order.
func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
