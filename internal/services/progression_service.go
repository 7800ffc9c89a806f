package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cutpro/internal/core"
	"cutpro/internal/ledger"
	applog "cutpro/internal/log"
)

// EventPublisher announces committed ledger changes. Implementations must be
// safe for concurrent use; failures never undo the committed change.
type EventPublisher interface {
	PublishTransactionRecorded(ctx context.Context, t core.Transaction) error
	PublishGoalCreated(ctx context.Context, g core.Goal) error
	PublishAchievementUnlocked(ctx context.Context, a core.Achievement) error
}

// Session is everything the UI needs for one owner.
type Session struct {
	Identity     core.Identity
	Profile      core.Profile
	Transactions []core.Transaction
	Goals        []core.Goal
	Achievements []core.Achievement
	Summary      core.Summary
}

type TransactionInput struct {
	Kind        core.Kind
	Amount      core.Money
	Category    string
	Description string
	// OccurredAt defaults to now when zero.
	OccurredAt time.Time
}

type TransactionResult struct {
	Transaction core.Transaction
	Profile     core.Profile
	Unlocked    []core.Achievement
}

type GoalInput struct {
	Name     string
	Target   core.Money
	Deadline *time.Time
}

type GoalResult struct {
	Goal     core.Goal
	Profile  core.Profile
	Unlocked []core.Achievement
}

type UnlockResult struct {
	Achievement core.Achievement
	// Unlocked is false when the owner already held the title.
	Unlocked bool
	Profile  core.Profile
}

// ProgressionService maintains balance, XP, level and achievements for each
// owner. Every mutation and its profile update commit in one store
// transaction.
type ProgressionService struct {
	store  ledger.Store
	events EventPublisher
	logger *applog.StructuredLogger
	now    func() time.Time
}

func NewProgressionService(store ledger.Store, events EventPublisher) *ProgressionService {
	return &ProgressionService{
		store:  store,
		events: events,
		logger: applog.NewStructuredLogger(applog.New(applog.Config{
			Component: applog.ComponentProgression,
			Handler:   slog.Default().Handler(),
		})),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// LoadSession returns the owner's profile and collections, creating the
// profile on first access.
func (s *ProgressionService) LoadSession(ctx context.Context, id core.Identity) (Session, error) {
	if strings.TrimSpace(id.OwnerID) == "" {
		return Session{}, core.ErrEmptyOwner
	}
	owner := id.OwnerID

	var profile core.Profile
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		p, err := s.ensureProfile(ctx, tx, owner)
		profile = p
		return err
	})
	if err != nil {
		return Session{}, fmt.Errorf("load profile: %w", err)
	}

	sess := Session{Identity: id, Profile: profile}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		txs, err := s.store.ListTransactionsByOwner(gctx, owner)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		sess.Transactions = txs
		return nil
	})
	g.Go(func() error {
		goals, err := s.store.ListGoalsByOwner(gctx, owner)
		if err != nil {
			return fmt.Errorf("list goals: %w", err)
		}
		sess.Goals = goals
		return nil
	})
	g.Go(func() error {
		achievements, err := s.store.ListAchievementsByOwner(gctx, owner)
		if err != nil {
			return fmt.Errorf("list achievements: %w", err)
		}
		sess.Achievements = achievements
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "Failed to load session", applog.FieldOwnerID, owner, applog.FieldError, err)
		return Session{}, err
	}

	sess.Summary = core.Summarize(sess.Profile, sess.Transactions, sess.Goals, sess.Achievements)
	return sess, nil
}

// Summary returns the derived metrics for one owner.
func (s *ProgressionService) Summary(ctx context.Context, id core.Identity) (core.Summary, error) {
	sess, err := s.LoadSession(ctx, id)
	if err != nil {
		return core.Summary{}, err
	}
	return sess.Summary, nil
}

// RecordTransaction stores a transaction, applies it to the running balance
// and grants FirstStep when it is the owner's first one.
func (s *ProgressionService) RecordTransaction(ctx context.Context, ownerID string, in TransactionInput) (TransactionResult, error) {
	now := s.now()
	t := core.Transaction{
		OwnerID:     ownerID,
		Kind:        in.Kind,
		Amount:      in.Amount,
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
		OccurredAt:  in.OccurredAt,
		CreatedAt:   now,
	}
	if t.OccurredAt.IsZero() {
		t.OccurredAt = now
	}
	if err := t.Validate(); err != nil {
		return TransactionResult{}, fmt.Errorf("validate transaction: %w", err)
	}

	var res TransactionResult
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		p, err := s.ensureProfile(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		prior, err := tx.CountTransactionsByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		saved, err := tx.InsertTransaction(ctx, t)
		if err != nil {
			return err
		}
		p.ApplyTransaction(saved, now)
		if err := tx.UpdateProfile(ctx, p); err != nil {
			return err
		}
		res = TransactionResult{Transaction: saved, Profile: p}

		if prior == 0 {
			a, ok, err := s.unlockInTx(ctx, tx, &res.Profile, core.FirstStep, now)
			if err != nil {
				return err
			}
			if ok {
				res.Unlocked = append(res.Unlocked, a)
			}
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record transaction",
			applog.FieldOwnerID, ownerID,
			applog.FieldKind, t.Kind,
			applog.FieldAmountCents, t.Amount.Cents,
			applog.FieldError, err)
		return TransactionResult{}, fmt.Errorf("record transaction: %w", err)
	}

	s.logger.LogTransactionRecorded(ctx, ownerID, res.Transaction.ID, res.Transaction.Kind.String(),
		res.Transaction.Category, res.Transaction.Amount.Cents, res.Profile.XP, res.Profile.Level)
	s.publishTransaction(ctx, res.Transaction)
	s.afterUnlock(ctx, res.Profile, res.Unlocked)
	return res, nil
}

// CreateGoal stores a goal with no funds and grants Planner on the owner's
// first goal.
func (s *ProgressionService) CreateGoal(ctx context.Context, ownerID string, in GoalInput) (GoalResult, error) {
	now := s.now()
	g := core.Goal{
		OwnerID:      ownerID,
		Name:         strings.TrimSpace(in.Name),
		TargetAmount: in.Target,
		Deadline:     in.Deadline,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := g.Validate(); err != nil {
		return GoalResult{}, fmt.Errorf("validate goal: %w", err)
	}

	var res GoalResult
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		p, err := s.ensureProfile(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		prior, err := tx.CountGoalsByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		saved, err := tx.InsertGoal(ctx, g)
		if err != nil {
			return err
		}
		res = GoalResult{Goal: saved, Profile: p}

		if prior == 0 {
			a, ok, err := s.unlockInTx(ctx, tx, &res.Profile, core.Planner, now)
			if err != nil {
				return err
			}
			if ok {
				res.Unlocked = append(res.Unlocked, a)
			}
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create goal", applog.FieldOwnerID, ownerID, applog.FieldError, err)
		return GoalResult{}, fmt.Errorf("create goal: %w", err)
	}

	slog.InfoContext(ctx, "Goal created",
		applog.FieldOwnerID, ownerID,
		applog.FieldGoalID, res.Goal.ID,
		applog.FieldAmountCents, res.Goal.TargetAmount.Cents)
	if s.events != nil {
		if err := s.events.PublishGoalCreated(ctx, res.Goal); err != nil {
			slog.WarnContext(ctx, "Failed to publish goal event", applog.FieldGoalID, res.Goal.ID, applog.FieldError, err)
		}
	}
	s.afterUnlock(ctx, res.Profile, res.Unlocked)
	return res, nil
}

// UnlockAchievement grants def to the owner unless the title is already
// held, in which case it returns the stored profile with Unlocked false.
func (s *ProgressionService) UnlockAchievement(ctx context.Context, ownerID string, def core.AchievementDef) (UnlockResult, error) {
	if err := def.Validate(); err != nil {
		return UnlockResult{}, fmt.Errorf("validate achievement: %w", err)
	}
	if strings.TrimSpace(ownerID) == "" {
		return UnlockResult{}, core.ErrEmptyOwner
	}
	now := s.now()

	var res UnlockResult
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		p, err := s.ensureProfile(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		a, ok, err := s.unlockInTx(ctx, tx, &p, def, now)
		if err != nil {
			return err
		}
		res = UnlockResult{Achievement: a, Unlocked: ok, Profile: p}
		return nil
	})
	if err != nil {
		return UnlockResult{}, fmt.Errorf("unlock achievement: %w", err)
	}
	if res.Unlocked {
		s.afterUnlock(ctx, res.Profile, []core.Achievement{res.Achievement})
	}
	return res, nil
}

func (s *ProgressionService) ensureProfile(ctx context.Context, tx ledger.Tx, ownerID string) (core.Profile, error) {
	p, err := tx.GetProfile(ctx, ownerID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return core.Profile{}, err
	}
	p, err = tx.CreateProfile(ctx, core.NewProfile(ownerID, s.now()))
	if err != nil {
		return core.Profile{}, err
	}
	slog.InfoContext(ctx, "Profile created", applog.FieldOwnerID, ownerID)
	return p, nil
}

// unlockInTx inserts the achievement and grants its XP to p. The title
// check and the store's uniqueness constraint both guard against repeats.
func (s *ProgressionService) unlockInTx(ctx context.Context, tx ledger.Tx, p *core.Profile, def core.AchievementDef, now time.Time) (core.Achievement, bool, error) {
	held, err := tx.HasAchievement(ctx, p.OwnerID, def.Title)
	if err != nil {
		return core.Achievement{}, false, err
	}
	if held {
		return core.Achievement{}, false, nil
	}
	a, err := tx.InsertAchievement(ctx, core.Achievement{
		OwnerID:     p.OwnerID,
		Title:       def.Title,
		Description: def.Description,
		XPReward:    def.XPReward,
		UnlockedAt:  now,
	})
	if errors.Is(err, ledger.ErrDuplicateAchievement) {
		return core.Achievement{}, false, nil
	}
	if err != nil {
		return core.Achievement{}, false, err
	}
	p.GrantXP(a.XPReward, now)
	if err := tx.UpdateProfile(ctx, *p); err != nil {
		return core.Achievement{}, false, err
	}
	return a, true, nil
}

func (s *ProgressionService) publishTransaction(ctx context.Context, t core.Transaction) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTransactionRecorded(ctx, t); err != nil {
		slog.WarnContext(ctx, "Failed to publish transaction event",
			applog.FieldTransactionID, t.ID, applog.FieldError, err)
	}
}

func (s *ProgressionService) afterUnlock(ctx context.Context, p core.Profile, unlocked []core.Achievement) {
	for _, a := range unlocked {
		s.logger.LogAchievementUnlocked(ctx, p.OwnerID, a.Title, a.XPReward, p.XP, p.Level)
		if s.events == nil {
			continue
		}
		if err := s.events.PublishAchievementUnlocked(ctx, a); err != nil {
			slog.WarnContext(ctx, "Failed to publish achievement event",
				applog.FieldAchievementTitle, a.Title, applog.FieldError, err)
		}
	}
}
