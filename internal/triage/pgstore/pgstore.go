// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/hyperstream/internal/alert"
	"github.com/linnemanlabs/hyperstream/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/hyperstream/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists alerts in PostgreSQL, one row per identity.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `sensor_id, ts, severity, label, details, review_state, ingested_at`

// Put inserts the alert, failing with triage.ErrConflict when the identity
// already exists.
func (s *Store) Put(ctx context.Context, a *alert.Alert) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	detailsJSON, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	state := a.ReviewState
	if state == "" {
		state = alert.StateOpen
	}
	ingestedAt := a.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (sensor_id, ts, severity, label, details, review_state, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (sensor_id, ts) DO NOTHING`,
		a.SensorID, a.TS, a.Severity, a.Label, detailsJSON, string(state), ingestedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return triage.ErrConflict
	}
	return nil
}

// Get retrieves an alert by identity.
func (s *Store) Get(ctx context.Context, id alert.Identity) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE sensor_id = $1 AND ts = $2`
	a, err := scanAlert(s.pool.QueryRow(ctx, query, id.SensorID, id.TS))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return a, true, nil
}

// Query yields matching alerts ordered by sensor then ts. Each range over
// the returned sequence re-runs the SQL query.
func (s *Store) Query(ctx context.Context, f triage.Filter) iter.Seq2[*alert.Alert, error] {
	return func(yield func(*alert.Alert, error) bool) {
		qctx, span := tracer.Start(ctx, "pgstore.Query", trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation.name", "SELECT"),
		))
		defer span.End()

		query, args := buildQuery(f)
		rows, err := s.pool.Query(qctx, query, args...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, fmt.Errorf("query alerts: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			a, err := scanAlert(rows)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(nil, err)
				return
			}
			if !yield(a, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, fmt.Errorf("iterate alerts: %w", err))
		}
	}
}

// Update applies the mutation inside a transaction with the row locked, so
// racing guards are re-evaluated against committed state and no reader ever
// sees a half-applied transition.
func (s *Store) Update(ctx context.Context, id alert.Identity, m triage.Mutation) (*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Update", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE sensor_id = $1 AND ts = $2 FOR UPDATE`
	a, err := scanAlert(tx.QueryRow(ctx, query, id.SensorID, id.TS))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, triage.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := m.Apply(a); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE alerts SET review_state = $3, label = $4 WHERE sensor_id = $1 AND ts = $2`,
		id.SensorID, id.TS, string(a.ReviewState), a.Label,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("update alert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func buildQuery(f triage.Filter) (string, []any) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.SensorID != "" {
		add("sensor_id = $%d", f.SensorID)
	}
	if f.TSFrom != nil {
		add("ts >= $%d", *f.TSFrom)
	}
	if f.TSTo != nil {
		add("ts <= $%d", *f.TSTo)
	}
	if f.SeverityMin != nil {
		add("severity >= $%d", *f.SeverityMin)
	}
	if f.ReviewState != "" {
		add("review_state = $%d", string(f.ReviewState))
	}

	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
			continue
		}
		query += " AND " + cond
	}
	query += " ORDER BY sensor_id, ts"
	return query, args
}

// scanAlert scans a single row into an alert.Alert.
func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a           alert.Alert
		state       string
		detailsJSON []byte
	)

	err := row.Scan(&a.SensorID, &a.TS, &a.Severity, &a.Label, &detailsJSON, &state, &a.IngestedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	a.ReviewState = alert.ReviewState(state)

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &a.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}
	if len(a.Details) == 0 {
		a.Details = nil
	}

	return &a, nil
}
