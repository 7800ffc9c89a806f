package google

import (
	"cutpro/internal/core"
)

const sheetDateLayout = "2006-01-02 15:04:05"

// transactionRow lays out one transaction: date, owner, kind, category,
// description, signed decimal amount, id. Expenses are written negative so
// a plain SUM over the column yields the balance.
func transactionRow(t core.Transaction) []any {
	return []any{
		t.OccurredAt.UTC().Format(sheetDateLayout),
		t.OwnerID,
		kindLabel(t.Kind),
		t.Category,
		t.Description,
		t.SignedAmount().DecimalString(),
		t.ID,
	}
}

func achievementRow(a core.Achievement) []any {
	return []any{
		a.UnlockedAt.UTC().Format(sheetDateLayout),
		a.OwnerID,
		a.Title,
		a.XPReward,
		a.ID,
	}
}

func kindLabel(k core.Kind) string {
	switch k {
	case core.Income:
		return "Receita"
	case core.Expense:
		return "Despesa"
	default:
		return string(k)
	}
}

// columnLetter maps 1..26 to A..Z.
func columnLetter(n int) string {
	if n < 1 {
		n = 1
	}
	if n > 26 {
		n = 26
	}
	return string(rune('A' + n - 1))
}
