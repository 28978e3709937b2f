package storage

import (
	"database/sql"

	"github.com/kredo-network/kredo/internal/models"
)

// SetContactEmail upserts a human-contact email for pubkey. Write-only by
// design: it has no corresponding unauthenticated read endpoint.
func (d *DB) SetContactEmail(pubkey, email, now string, audit models.AuditEvent) error {
	return d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		if _, err := tx.Exec(
			`INSERT INTO human_contacts (pubkey, email, set_at) VALUES (?,?,?)
			 ON CONFLICT(pubkey) DO UPDATE SET email = excluded.email, set_at = excluded.set_at`,
			pubkey, email, now,
		); err != nil {
			return nil, err
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return []string{pubkey}, nil
	})
}
