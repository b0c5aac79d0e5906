// Package postgres archives accepted scans durably. The archive is an
// append-only audit trail beside the realtime document and never
// participates in score computation.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrmaster/internal/config"
	"github.com/qrmaster/internal/domain"
)

// ScanEvent is one archived scan as stored in the scan_events table.
type ScanEvent struct {
	ScanID     string          `json:"scan_id"`
	Category   domain.Category `json:"category"`
	Points     int             `json:"points"`
	Team       domain.Team     `json:"team"`
	PlayerName string          `json:"player_name"`
	ScannedAt  time.Time       `json:"scanned_at"`
}

// Archive provides PostgreSQL-backed scan event storage.
type Archive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewArchive creates the archive and verifies connectivity.
func NewArchive(cfg *config.PostgresConfig, logger *slog.Logger) (*Archive, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Archive{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (a *Archive) Close() {
	a.pool.Close()
}

// RunMigrations executes database migrations
func (a *Archive) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS scan_events (
			id BIGSERIAL PRIMARY KEY,
			scan_id VARCHAR(36) NOT NULL,
			category VARCHAR(20) NOT NULL,
			points INT NOT NULL,
			team VARCHAR(10) NOT NULL,
			player_name VARCHAR(64) NOT NULL,
			scanned_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(scan_id, team)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_events_team ON scan_events(team, scanned_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := a.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	a.logger.Info("database migrations completed")
	return nil
}

// RecordScan appends one accepted scan. The same code scanned again by the
// same team is a no-op, matching the in-memory duplicate rule.
func (a *Archive) RecordScan(ctx context.Context, playerName string, result domain.ScanResult) error {
	query := `
		INSERT INTO scan_events (scan_id, category, points, team, player_name, scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scan_id, team) DO NOTHING
	`
	_, err := a.pool.Exec(ctx, query,
		result.ID,
		string(result.Category),
		result.Points,
		string(result.Team),
		playerName,
		result.Date,
	)
	if err != nil {
		return fmt.Errorf("recording scan: %w", err)
	}
	return nil
}

// ListScans retrieves archived scans for one team, newest first.
func (a *Archive) ListScans(ctx context.Context, team domain.Team, limit int) ([]ScanEvent, error) {
	query := `
		SELECT scan_id, category, points, team, player_name, scanned_at
		FROM scan_events
		WHERE team = $1
		ORDER BY scanned_at DESC
		LIMIT $2
	`
	rows, err := a.pool.Query(ctx, query, string(team), limit)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	defer rows.Close()

	var events []ScanEvent
	for rows.Next() {
		var event ScanEvent
		err := rows.Scan(
			&event.ScanID,
			&event.Category,
			&event.Points,
			&event.Team,
			&event.PlayerName,
			&event.ScannedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// TeamTotals sums archived points per team, an out-of-band cross-check for
// the scores carried by the realtime document.
func (a *Archive) TeamTotals(ctx context.Context) (map[domain.Team]int, error) {
	query := `SELECT team, COALESCE(SUM(points), 0) FROM scan_events GROUP BY team`
	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("getting team totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[domain.Team]int)
	for rows.Next() {
		var team string
		var points int
		if err := rows.Scan(&team, &points); err != nil {
			return nil, fmt.Errorf("scanning total: %w", err)
		}
		totals[domain.Team(team)] = points
	}
	return totals, nil
}
