//go:build integration

package arb

import (
	"context"
	"testing"
	"time"

	"github.com/flashroute/solarb/pkg/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStore_SaveAndRecentExecutions_Postgres runs against a real PostgreSQL
// instance started with testcontainers-go. Build with -tags=integration;
// requires a Docker daemon on the host.
func TestStore_SaveAndRecentExecutions_Postgres(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("solarb_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sqlx.Connect("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStoreFromDB(db, logger.New("test"))
	require.NoError(t, store.EnsureSchema(ctx))

	rec := ExecutionRecord{
		ID:                uuid.New(),
		OpportunityID:     uuid.New(),
		InputAsset:        "SOL",
		BridgeAsset:       "USDC",
		InputAmount:       1_000_000,
		FirstLegProfit:    5_000,
		SecondLegProfit:   6_000,
		NetProfit:         9_000,
		Routes:            `["orca","raydium"]`,
		LatencyOutboundMs: 120,
		LatencyReturnMs:   110,
		Outcome:           OutcomeSucceeded,
		Signature:         "5abc...",
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, store.SaveExecution(ctx, rec))

	recent, err := store.RecentExecutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, rec.ID, recent[0].ID)
	require.Equal(t, rec.NetProfit, recent[0].NetProfit)
}
