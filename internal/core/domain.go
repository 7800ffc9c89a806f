package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	maxDescriptionLen = 200
	maxCategoryLen    = 60
	maxGoalNameLen    = 100
	maxTitleLen       = 100
)

type (
	// Kind distinguishes money coming in from money going out.
	Kind string

	Money struct {
		Cents int64
	}

	Transaction struct {
		ID          string
		OwnerID     string
		Kind        Kind
		Amount      Money
		Category    string
		Description string
		OccurredAt  time.Time
		CreatedAt   time.Time
	}

	Goal struct {
		ID            string
		OwnerID       string
		Name          string
		TargetAmount  Money
		CurrentAmount Money
		Deadline      *time.Time // optional
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	Achievement struct {
		ID          string
		OwnerID     string
		Title       string
		Description string
		XPReward    int64
		UnlockedAt  time.Time
	}

	// Profile is the per-owner progression state. TotalSaved may go negative.
	Profile struct {
		OwnerID    string
		XP         int64
		Level      int64
		TotalSaved Money
		UpdatedAt  time.Time
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidKind        = errors.New("invalid transaction kind")
	ErrEmptyCategory      = errors.New("empty category")
	ErrCategoryTooLong    = errors.New("category too long (max 60 characters)")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrEmptyName          = errors.New("empty goal name")
	ErrNameTooLong        = errors.New("goal name too long (max 100 characters)")
	ErrEmptyTitle         = errors.New("empty achievement title")
	ErrTitleTooLong       = errors.New("achievement title too long (max 100 characters)")
	ErrInvalidXPReward    = errors.New("xp reward must be positive")
	ErrEmptyOwner         = errors.New("empty owner id")
)

// NewID returns a fresh random record identifier.
func NewID() string {
	return uuid.NewString()
}

// ParseKind accepts "income" or "expense", case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func (k Kind) Validate() error {
	switch k {
	case Income, Expense:
		return nil
	default:
		return ErrInvalidKind
	}
}

func (k Kind) String() string {
	return string(k)
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Add returns m+o.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// Sub returns m-o.
func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

// SignedAmount is the delta a transaction applies to the running balance.
func (t Transaction) SignedAmount() Money {
	if t.Kind == Expense {
		return Money{Cents: -t.Amount.Cents}
	}
	return t.Amount
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Category) > maxCategoryLen {
		return ErrCategoryTooLong
	}
	if len(t.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyName
	}
	if len(g.Name) > maxGoalNameLen {
		return ErrNameTooLong
	}
	if err := g.TargetAmount.Validate(); err != nil {
		return err
	}
	if g.CurrentAmount.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Remaining is how much is still missing to reach the target, never negative.
func (g Goal) Remaining() Money {
	left := g.TargetAmount.Sub(g.CurrentAmount)
	if left.Cents < 0 {
		return Money{}
	}
	return left
}

func (a Achievement) Validate() error {
	if strings.TrimSpace(a.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if strings.TrimSpace(a.Title) == "" {
		return ErrEmptyTitle
	}
	if len(a.Title) > maxTitleLen {
		return ErrTitleTooLong
	}
	if a.XPReward <= 0 {
		return ErrInvalidXPReward
	}
	return nil
}

// NewProfile returns the starting state for an owner seen for the first time.
func NewProfile(ownerID string, now time.Time) Profile {
	return Profile{
		OwnerID:    ownerID,
		XP:         0,
		Level:      1,
		TotalSaved: Money{},
		UpdatedAt:  now,
	}
}

// ApplyTransaction adds the signed amount of t to TotalSaved.
func (p *Profile) ApplyTransaction(t Transaction, now time.Time) {
	p.TotalSaved = p.TotalSaved.Add(t.SignedAmount())
	p.UpdatedAt = now
}

// GrantXP adds a positive reward and re-derives the level. Non-positive
// rewards are ignored so XP never decreases.
func (p *Profile) GrantXP(reward int64, now time.Time) {
	if reward <= 0 {
		return
	}
	p.XP += reward
	p.Level = LevelForXP(p.XP)
	p.UpdatedAt = now
}
