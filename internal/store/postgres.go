package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthtrack/healthtrack-go/event"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable persistence layer for scrubbed events and
// the audit trail.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// StoredEvent is a persisted event plus its forwarding bookkeeping.
type StoredEvent struct {
	ID    string
	OrgID string
	Event event.TrackingEvent
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema() error {
	_, err := p.pool.Exec(context.Background(), schemaSQL)
	return err
}

// Ping is used by the readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// InsertEvents persists an accepted batch and returns the generated
// event ids. Each event gets a fresh UUID; duplicate (org_id, event_id)
// pairs are ignored, which keeps re-posted batches idempotent when the
// caller supplies stable ids.
func (p *PostgresStore) InsertEvents(ctx context.Context, orgID string, events []event.TrackingEvent) ([]string, error) {
	if orgID == "" {
		return nil, errors.New("orgID required")
	}
	if len(events) == 0 {
		return nil, errors.New("no events to insert")
	}

	ids := make([]string, 0, len(events))
	batch := &pgx.Batch{}

	for i := range events {
		ev := &events[i]

		ts, err := time.Parse(time.RFC3339, ev.Timestamp)
		if err != nil {
			ts = time.Now().UTC()
		}

		propsJSON, err := json.Marshal(ev.Properties)
		if err != nil {
			return nil, err
		}

		id := uuid.New().String()
		ids = append(ids, id)

		batch.Queue(`
			INSERT INTO events(
				org_id, event_id, event_type, event_name, ts,
				properties, session_id, page_url, referrer,
				sdk_version, phi_scrubbed
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (org_id, event_id) DO NOTHING
		`, orgID, id, string(ev.EventType), ev.EventName, ts,
			propsJSON, ev.AnonymizedSessionID, ev.PageURL, ev.Referrer,
			ev.SDKVersion, ev.PHIScrubbed)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// InsertAudit records one row per accepted batch: how many events came
// in, how many values the server scrubber re-redacted, the consent
// snapshot, and the anonymized caller IP.
func (p *PostgresStore) InsertAudit(
	ctx context.Context,
	orgID string,
	received int,
	serverRedactions int,
	consent *event.ConsentState,
	anonymizedIP string,
) error {

	var consentJSON []byte
	if consent != nil {
		b, err := json.Marshal(consent)
		if err != nil {
			return err
		}
		consentJSON = b
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO ingest_audit(org_id, received, server_redactions, consent, ip_anonymized)
		VALUES ($1,$2,$3,$4,$5)
	`, orgID, received, serverRedactions, consentJSON, anonymizedIP)
	return err
}

// ListUnforwarded returns up to limit persisted events not yet delivered
// to the platform forwarders, oldest first.
func (p *PostgresStore) ListUnforwarded(ctx context.Context, limit int) ([]StoredEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT org_id, event_id, event_type, event_name, ts,
		       properties, session_id, page_url, referrer, sdk_version
		FROM events
		WHERE forwarded_at IS NULL
		ORDER BY ts
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			se        StoredEvent
			eventType string
			ts        time.Time
			propsJSON []byte
		)
		if err := rows.Scan(
			&se.OrgID, &se.ID, &eventType, &se.Event.EventName, &ts,
			&propsJSON, &se.Event.AnonymizedSessionID,
			&se.Event.PageURL, &se.Event.Referrer, &se.Event.SDKVersion,
		); err != nil {
			return nil, err
		}
		se.Event.EventType = event.Type(eventType)
		se.Event.Timestamp = ts.UTC().Format(time.RFC3339)
		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &se.Event.Properties); err != nil {
				return nil, err
			}
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// MarkForwarded stamps events as delivered so the relay does not pick
// them up again.
func (p *PostgresStore) MarkForwarded(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		UPDATE events SET forwarded_at = now()
		WHERE event_id = ANY($1) AND forwarded_at IS NULL
	`, eventIDs)
	return err
}

// CountEvents returns the number of events for an organization in the
// time window [from,to). Backs the usage endpoint; the half-open
// interval avoids double counting at window boundaries.
func (p *PostgresStore) CountEvents(
	ctx context.Context,
	orgID string,
	from time.Time,
	to time.Time,
) (int64, error) {

	var count int64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM events
		WHERE org_id=$1
		  AND ts >= $2
		  AND ts <  $3
	`, orgID, from, to).Scan(&count)

	return count, err
}
