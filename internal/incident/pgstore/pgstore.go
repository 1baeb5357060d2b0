// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/chainwatch/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/chainwatch/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store. The
// caller owns the pool's lifecycle.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `id, tx_hash, chain, protocol_name, type_hint, exploit_type, severity,
	loss_amount_usd, loss_source, sources, severity_tags, conflicts,
	first_seen_at, last_updated_at, archived_at`

// Get retrieves an incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncidentRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// GetByTxHash retrieves the incident holding the given transaction hash,
// matched case-insensitively.
func (s *Store) GetByTxHash(ctx context.Context, txHash string) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByTxHash", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE tx_hash <> '' AND lower(tx_hash) = lower($1)`
	inc, err := scanIncidentRow(s.pool.QueryRow(ctx, query, txHash))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// ListWindow returns incidents first seen within [from, to], oldest first.
// Archived incidents are included so late reports still merge.
func (s *Store) ListWindow(ctx context.Context, from, to time.Time) ([]*incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListWindow", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE first_seen_at >= $1 AND first_seen_at <= $2
		ORDER BY first_seen_at, id`
	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query window: %w", err)
	}
	defer rows.Close()

	out, err := collectIncidents(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// List returns incidents matching the filter, most recently updated first.
func (s *Store) List(ctx context.Context, f incident.Filter) ([]*incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}

	if f.Chain != "" {
		args = append(args, f.Chain)
		query += fmt.Sprintf(" AND lower(chain) = lower($%d)", len(args))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if f.Protocol != "" {
		args = append(args, incident.NormalizeName(f.Protocol))
		query += fmt.Sprintf(" AND protocol_norm = $%d", len(args))
	}
	if !f.IncludeArchived {
		query += " AND archived_at IS NULL"
	}
	query += " ORDER BY last_updated_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	out, err := collectIncidents(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// Put inserts or replaces an incident.
func (s *Store) Put(ctx context.Context, inc *incident.Incident) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	sourcesJSON, err := json.Marshal(inc.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	tagsJSON, err := json.Marshal(inc.SeverityTags)
	if err != nil {
		return fmt.Errorf("marshal severity tags: %w", err)
	}
	conflictsJSON, err := json.Marshal(inc.Conflicts)
	if err != nil {
		return fmt.Errorf("marshal conflicts: %w", err)
	}

	query := `INSERT INTO incidents (
		id, tx_hash, chain, protocol_name, protocol_norm, type_hint, exploit_type, severity,
		loss_amount_usd, loss_source, sources, severity_tags, conflicts,
		first_seen_at, last_updated_at, archived_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	ON CONFLICT (id) DO UPDATE SET
		tx_hash         = EXCLUDED.tx_hash,
		chain           = EXCLUDED.chain,
		protocol_name   = EXCLUDED.protocol_name,
		protocol_norm   = EXCLUDED.protocol_norm,
		type_hint       = EXCLUDED.type_hint,
		exploit_type    = EXCLUDED.exploit_type,
		severity        = EXCLUDED.severity,
		loss_amount_usd = EXCLUDED.loss_amount_usd,
		loss_source     = EXCLUDED.loss_source,
		sources         = EXCLUDED.sources,
		severity_tags   = EXCLUDED.severity_tags,
		conflicts       = EXCLUDED.conflicts,
		first_seen_at   = EXCLUDED.first_seen_at,
		last_updated_at = EXCLUDED.last_updated_at,
		archived_at     = EXCLUDED.archived_at`

	_, err = s.pool.Exec(ctx, query,
		inc.ID, inc.TxHash, inc.Chain, inc.Protocol, incident.NormalizeName(inc.Protocol),
		inc.TypeHint, inc.ExploitType, inc.Severity,
		inc.LossUSD, inc.LossSource, sourcesJSON, tagsJSON, conflictsJSON,
		inc.FirstSeenAt, inc.LastUpdatedAt, inc.ArchivedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

func collectIncidents(rows pgx.Rows) ([]*incident.Incident, error) {
	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// scanIncidentRow scans a single row into an incident. Returns (nil, nil)
// when no row is found.
func scanIncidentRow(row pgx.Row) (*incident.Incident, error) {
	var (
		inc           incident.Incident
		sourcesJSON   []byte
		tagsJSON      []byte
		conflictsJSON []byte
	)

	err := row.Scan(
		&inc.ID, &inc.TxHash, &inc.Chain, &inc.Protocol, &inc.TypeHint, &inc.ExploitType,
		&inc.Severity, &inc.LossUSD, &inc.LossSource, &sourcesJSON, &tagsJSON, &conflictsJSON,
		&inc.FirstSeenAt, &inc.LastUpdatedAt, &inc.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	if err := json.Unmarshal(sourcesJSON, &inc.Sources); err != nil {
		return nil, fmt.Errorf("unmarshal sources: %w", err)
	}
	if err := json.Unmarshal(tagsJSON, &inc.SeverityTags); err != nil {
		return nil, fmt.Errorf("unmarshal severity tags: %w", err)
	}
	if err := json.Unmarshal(conflictsJSON, &inc.Conflicts); err != nil {
		return nil, fmt.Errorf("unmarshal conflicts: %w", err)
	}

	return &inc, nil
}
