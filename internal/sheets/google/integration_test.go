//go:build integration

package google

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"cutpro/internal/core"
)

// Integration tests require real Google Sheets credentials
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_ExportFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	cfg := Config{
		SpreadsheetID:      os.Getenv("GOOGLE_SPREADSHEET_ID"),
		ServiceAccountJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		ServiceAccountFile: os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"),
		OAuthClientJSON:    os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"),
		OAuthClientFile:    os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"),
		OAuthTokenJSON:     os.Getenv("GOOGLE_OAUTH_TOKEN_JSON"),
		OAuthTokenFile:     os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"),
	}
	if cfg.SpreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}

	ctx := context.Background()
	client, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.EnsureHeaders(ctx); err != nil {
		t.Fatalf("Failed to ensure headers: %v", err)
	}

	t.Run("AppendTransaction", func(t *testing.T) {
		ref, err := client.AppendTransaction(ctx, core.Transaction{
			ID:          core.NewID(),
			OwnerID:     "integration",
			Kind:        core.Expense,
			Amount:      core.Money{Cents: 1234},
			Category:    "Outros",
			Description: "Integration Test",
			OccurredAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("Failed to append transaction: %v", err)
		}
		if !strings.Contains(ref, client.transactionsSheet) {
			t.Errorf("unexpected reference %q", ref)
		}
	})

	t.Run("AppendAchievement", func(t *testing.T) {
		ref, err := client.AppendAchievement(ctx, core.Achievement{
			ID:         core.NewID(),
			OwnerID:    "integration",
			Title:      core.FirstStep.Title,
			XPReward:   core.FirstStep.XPReward,
			UnlockedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Failed to append achievement: %v", err)
		}
		if ref == "" {
			t.Error("Expected non-empty reference")
		}
	})
}
