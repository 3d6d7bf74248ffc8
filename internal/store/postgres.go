package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/sweeney/telemetry-bridge/internal/logic"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		ts          TIMESTAMPTZ      NOT NULL,
		temperature DOUBLE PRECISION NULL CHECK (temperature BETWEEN -50 AND 150),
		led_state   SMALLINT         NOT NULL CHECK (led_state IN (0, 1))
	)`,
	`CREATE INDEX IF NOT EXISTS readings_ts_idx ON readings (ts)`,
}

const (
	insertReading = `INSERT INTO readings (ts, temperature, led_state) VALUES ($1, $2, $3)`

	selectHistory = `SELECT ts, temperature, led_state FROM readings
		WHERE ts >= $1 AND temperature IS NOT NULL
		ORDER BY ts ASC
		LIMIT $2`

	selectStats = `SELECT COUNT(*), AVG(temperature), MIN(temperature), MAX(temperature),
		COUNT(*) FILTER (WHERE led_state = 1)
		FROM readings
		WHERE ts >= $1 AND temperature IS NOT NULL`

	selectLatest = `SELECT ts, temperature, led_state FROM readings ORDER BY ts DESC LIMIT 1`
)

// Postgres stores readings in a PostgreSQL (or TimescaleDB) table.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to the database at url and verifies the connection.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the readings table and its index if missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Append inserts r. Readings failing Validate are rejected before
// reaching the database.
func (p *Postgres) Append(ctx context.Context, r logic.Reading) error {
	if err := Validate(r); err != nil {
		return err
	}
	var temp any
	if r.Temperature != nil {
		temp = *r.Temperature
	}
	if _, err := p.db.ExecContext(ctx, insertReading, r.Timestamp.UTC(), temp, int(r.Led)); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// History implements Querier.
func (p *Postgres) History(ctx context.Context, since time.Time, limit int) ([]logic.Reading, error) {
	if limit <= 0 || limit > MaxHistoryRows {
		limit = MaxHistoryRows
	}
	rows, err := p.db.QueryContext(ctx, selectHistory, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	readings := []logic.Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return readings, nil
}

// Stats implements Querier.
func (p *Postgres) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	var (
		count       int64
		avg, lo, hi sql.NullFloat64
		ledOn       int64
	)
	err := p.db.QueryRowContext(ctx, selectStats, since.UTC()).Scan(&count, &avg, &lo, &hi, &ledOn)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	return &Stats{
		Count:      int(count),
		Avg:        avg.Float64,
		Min:        lo.Float64,
		Max:        hi.Float64,
		LedOnCount: int(ledOn),
	}, nil
}

// Latest implements Querier.
func (p *Postgres) Latest(ctx context.Context) (*logic.Reading, error) {
	r, err := scanReading(p.db.QueryRowContext(ctx, selectLatest))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	return &r, nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(s scanner) (logic.Reading, error) {
	var (
		ts   time.Time
		temp sql.NullFloat64
		led  int64
	)
	if err := s.Scan(&ts, &temp, &led); err != nil {
		return logic.Reading{}, err
	}
	r := logic.Reading{Timestamp: ts.UTC(), Led: logic.LedState(led)}
	if temp.Valid {
		r.Temperature = logic.Float(temp.Float64)
	}
	return r, nil
}
