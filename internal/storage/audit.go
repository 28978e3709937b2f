package storage

import (
	"database/sql"
	"fmt"

	"github.com/kredo-network/kredo/internal/models"
)

func insertAuditTx(tx *sql.Tx, e models.AuditEvent) error {
	_, err := tx.Exec(
		`INSERT INTO audit_events (timestamp, action, outcome, actor_pubkey, source_ip, source_ip_hash, user_agent, details_json)
		 VALUES (?,?,?,?,?,?,?,?)`,
		e.Timestamp, e.Action, e.Outcome, nullString(e.ActorPubkey), nullString(e.SourceIP), e.SourceIPHash, nullString(e.UserAgent), nullString(e.DetailsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// AppendAudit writes a standalone audit row outside of any document write
// transaction — used for requests that fail before reaching the store
// (rate-limited, malformed, signature_invalid) but must still be logged,
// per §4.10's "one audit row per write request, including failed ones".
func (d *DB) AppendAudit(e models.AuditEvent) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	_, err := d.sqlDB.Exec(
		`INSERT INTO audit_events (timestamp, action, outcome, actor_pubkey, source_ip, source_ip_hash, user_agent, details_json)
		 VALUES (?,?,?,?,?,?,?,?)`,
		e.Timestamp, e.Action, e.Outcome, nullString(e.ActorPubkey), nullString(e.SourceIP), e.SourceIPHash, nullString(e.UserAgent), nullString(e.DetailsJSON),
	)
	return err
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	Action string
	Since  string
}

// ListAudit returns audit rows matching f, newest first.
func (d *DB) ListAudit(f AuditFilter, limit, offset int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	query := `SELECT timestamp, action, outcome, actor_pubkey, source_ip, source_ip_hash, user_agent, details_json FROM audit_events WHERE 1=1`
	var args []any
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.Since != "" {
		query += " AND timestamp >= ?"
		args = append(args, f.Since)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := d.sqlDB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var actor, sourceIP, userAgent, details sql.NullString
		if err := rows.Scan(&e.Timestamp, &e.Action, &e.Outcome, &actor, &sourceIP, &e.SourceIPHash, &userAgent, &details); err != nil {
			return nil, err
		}
		e.ActorPubkey, e.SourceIP, e.UserAgent, e.DetailsJSON = actor.String, sourceIP.String, userAgent.String, details.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// SourceAnomalySignal summarizes write-request volume from one source IP
// hash over the requested window, for the /risk/source-anomalies endpoint.
type SourceAnomalySignal struct {
	SourceIPHash string
	EventCount   int
	UniqueActors int
	FirstSeen    string
	LastSeen     string
}

// SourceAnomalySignals aggregates audit_events by source_ip_hash since
// sinceISO, keeping only sources with at least minEvents events and
// minUniqueActors distinct actor pubkeys, capped at limit rows.
func (d *DB) SourceAnomalySignals(sinceISO string, minEvents, minUniqueActors, limit int) ([]SourceAnomalySignal, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := d.sqlDB.Query(`
SELECT source_ip_hash, COUNT(*) AS events, COUNT(DISTINCT actor_pubkey) AS actors, MIN(timestamp), MAX(timestamp)
FROM audit_events
WHERE timestamp >= ?
GROUP BY source_ip_hash
HAVING events >= ? AND actors >= ?
ORDER BY events DESC
LIMIT ?`, sinceISO, minEvents, minUniqueActors, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceAnomalySignal
	for rows.Next() {
		var s SourceAnomalySignal
		if err := rows.Scan(&s.SourceIPHash, &s.EventCount, &s.UniqueActors, &s.FirstSeen, &s.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
