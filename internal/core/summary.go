package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
	// Share of total expenses, 0-100.
	Share float64
}

// Summary holds the metrics derived on every read. Balance comes from the
// profile and is independent of the two totals.
type Summary struct {
	TotalIncome        Money
	TotalExpenses      Money
	Balance            Money
	ExpensesByCategory []CategoryAmount
	XP                 int64
	Level              int64
	XPProgress         float64
	NextLevelXP        int64
	TransactionCount   int
	GoalCount          int
	AchievementCount   int
}

// Summarize computes the overview metrics for one owner.
func Summarize(p Profile, txs []Transaction, goals []Goal, achievements []Achievement) Summary {
	level := LevelForXP(p.XP)
	s := Summary{
		TotalIncome:        TotalByKind(txs, Income),
		TotalExpenses:      TotalByKind(txs, Expense),
		Balance:            p.TotalSaved,
		ExpensesByCategory: ExpensesByCategory(txs),
		XP:                 p.XP,
		Level:              level,
		XPProgress:         XPProgress(p.XP),
		NextLevelXP:        NextLevelXP(level),
		TransactionCount:   len(txs),
		GoalCount:          len(goals),
		AchievementCount:   len(achievements),
	}
	return s
}

// TotalByKind sums the amounts of transactions of kind k.
func TotalByKind(txs []Transaction, k Kind) Money {
	var total int64
	for _, t := range txs {
		if t.Kind == k {
			total += t.Amount.Cents
		}
	}
	return Money{Cents: total}
}

// ExpensesByCategory groups expense amounts by category, in first-seen order.
func ExpensesByCategory(txs []Transaction) []CategoryAmount {
	byCat := map[string]int64{}
	order := make([]string, 0)
	var total int64
	for _, t := range txs {
		if t.Kind != Expense {
			continue
		}
		if _, seen := byCat[t.Category]; !seen {
			order = append(order, t.Category)
		}
		byCat[t.Category] += t.Amount.Cents
		total += t.Amount.Cents
	}
	out := make([]CategoryAmount, 0, len(order))
	for _, name := range order {
		ca := CategoryAmount{Name: name, Amount: Money{Cents: byCat[name]}}
		if total > 0 {
			ca.Share = float64(byCat[name]) * 100 / float64(total)
		}
		out = append(out, ca)
	}
	return out
}

// GoalProgressPercent returns current/target*100, or 0 when the target is
// not positive.
func GoalProgressPercent(g Goal) float64 {
	if g.TargetAmount.Cents <= 0 {
		return 0
	}
	return float64(g.CurrentAmount.Cents) * 100 / float64(g.TargetAmount.Cents)
}

// RecomputeProfile re-derives TotalSaved, XP and Level from the append-only
// logs. UpdatedAt is left untouched.
func RecomputeProfile(p Profile, txs []Transaction, achievements []Achievement) Profile {
	var saved int64
	for _, t := range txs {
		saved += t.SignedAmount().Cents
	}
	var xp int64
	for _, a := range achievements {
		if a.XPReward > 0 {
			xp += a.XPReward
		}
	}
	p.TotalSaved = Money{Cents: saved}
	p.XP = xp
	p.Level = LevelForXP(xp)
	return p
}

// Categories offered by the transaction form.
var Categories = []string{
	"Alimentação",
	"Transporte",
	"Lazer",
	"Saúde",
	"Educação",
	"Moradia",
	"Salário",
	"Outros",
}
