package arb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// executionRecordRow mirrors ExecutionRecord with sqlx column tags; kept
// separate from the domain type so the storage schema can drift from the
// in-memory shape without leaking `db` tags into package-wide types.
type executionRecordRow struct {
	ID                uuid.UUID `db:"id"`
	OpportunityID     uuid.UUID `db:"opportunity_id"`
	InputAsset        string    `db:"input_asset"`
	BridgeAsset       string    `db:"bridge_asset"`
	InputAmount       int64     `db:"input_amount"`
	FirstLegProfit    int64     `db:"first_leg_profit"`
	SecondLegProfit   int64     `db:"second_leg_profit"`
	NetProfit         int64     `db:"net_profit"`
	Routes            string    `db:"routes"`
	LatencyOutboundMs int64     `db:"latency_outbound_ms"`
	LatencyReturnMs   int64     `db:"latency_return_ms"`
	Outcome           string    `db:"outcome"`
	Signature         string    `db:"signature"`
	CreatedAt         time.Time `db:"created_at"`
}

// Store persists ExecutionRecord rows for post-hoc analysis. Persistence is
// optional: the trading loop's correctness never depends on it, so a Store
// method failure is logged by the caller and never aborts a pipeline run.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewStore opens a PostgreSQL connection pool per cfg and verifies it with a
// ping. Returns (nil, nil) when cfg.Enabled is false, letting callers treat
// persistence as a fully optional collaborator.
func NewStore(cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db, logger: log.Named("store")}, nil
}

// NewStoreFromDB wraps an already-open sqlx connection, used by tests and by
// callers that manage the pool's lifecycle themselves.
func NewStoreFromDB(db *sqlx.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log.Named("store")}
}

// schema is applied defensively on first use; a full deployment is expected
// to run this (or an equivalent) via its own migration tooling.
const schema = `
CREATE TABLE IF NOT EXISTS execution_records (
	id                  UUID PRIMARY KEY,
	opportunity_id      UUID NOT NULL,
	input_asset         TEXT NOT NULL,
	bridge_asset        TEXT NOT NULL,
	input_amount        BIGINT NOT NULL,
	first_leg_profit    BIGINT NOT NULL,
	second_leg_profit   BIGINT NOT NULL,
	net_profit          BIGINT NOT NULL,
	routes              TEXT NOT NULL,
	latency_outbound_ms BIGINT NOT NULL,
	latency_return_ms  BIGINT NOT NULL,
	outcome             TEXT NOT NULL,
	signature           TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the execution_records table if it does not already
// exist. Safe to call repeatedly on startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// SaveExecution inserts a single ExecutionRecord row.
func (s *Store) SaveExecution(ctx context.Context, rec ExecutionRecord) error {
	if s == nil {
		return nil
	}

	row := executionRecordRow{
		ID:                rec.ID,
		OpportunityID:     rec.OpportunityID,
		InputAsset:        rec.InputAsset,
		BridgeAsset:       rec.BridgeAsset,
		InputAmount:       int64(rec.InputAmount),
		FirstLegProfit:    rec.FirstLegProfit,
		SecondLegProfit:   rec.SecondLegProfit,
		NetProfit:         rec.NetProfit,
		Routes:            rec.Routes,
		LatencyOutboundMs: rec.LatencyOutboundMs,
		LatencyReturnMs:   rec.LatencyReturnMs,
		Outcome:           rec.Outcome,
		Signature:         rec.Signature,
		CreatedAt:         rec.CreatedAt,
	}

	query := `
		INSERT INTO execution_records
			(id, opportunity_id, input_asset, bridge_asset, input_amount, first_leg_profit,
			 second_leg_profit, net_profit, routes, latency_outbound_ms, latency_return_ms,
			 outcome, signature, created_at)
		VALUES
			(:id, :opportunity_id, :input_asset, :bridge_asset, :input_amount, :first_leg_profit,
			 :second_leg_profit, :net_profit, :routes, :latency_outbound_ms, :latency_return_ms,
			 :outcome, :signature, :created_at)
	`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("store: save execution: %w", err)
	}
	return nil
}

// RecentExecutions returns the most recent limit execution records, newest
// first. The periodic CLI stats printer does not read it; it reports the
// pipeline's in-memory snapshot instead.
func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if s == nil {
		return nil, nil
	}

	var rows []executionRecordRow
	query := `
		SELECT id, opportunity_id, input_asset, bridge_asset, input_amount, first_leg_profit,
		       second_leg_profit, net_profit, routes, latency_outbound_ms, latency_return_ms,
		       outcome, signature, created_at
		FROM execution_records
		ORDER BY created_at DESC
		LIMIT $1
	`
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: recent executions: %w", err)
	}

	records := make([]ExecutionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, ExecutionRecord{
			ID:                row.ID,
			OpportunityID:     row.OpportunityID,
			InputAsset:        row.InputAsset,
			BridgeAsset:       row.BridgeAsset,
			InputAmount:       uint64(row.InputAmount),
			FirstLegProfit:    row.FirstLegProfit,
			SecondLegProfit:   row.SecondLegProfit,
			NetProfit:         row.NetProfit,
			Routes:            row.Routes,
			LatencyOutboundMs: row.LatencyOutboundMs,
			LatencyReturnMs:   row.LatencyReturnMs,
			Outcome:           row.Outcome,
			Signature:         row.Signature,
			CreatedAt:         row.CreatedAt,
		})
	}
	return records, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
