package sheets

import (
	"context"

	"cutpro/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerExporter mirrors committed ledger rows into an external
	// spreadsheet. Implementations return a reference to the written row.
	LedgerExporter interface {
		AppendTransaction(ctx context.Context, t core.Transaction) (rowRef string, err error)
		AppendAchievement(ctx context.Context, a core.Achievement) (rowRef string, err error)
	}
)
