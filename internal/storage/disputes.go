package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

// InsertDispute accepts a subject's signed response to a behavioral_warning.
// Fails if the target isn't a warning or the caller isn't the subject.
func (d *DB) InsertDispute(disp models.Dispute, audit models.AuditEvent) (models.Dispute, error) {
	err := d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		var typ, subjectPubkey string
		err := tx.QueryRow(`SELECT type, subject_pubkey FROM attestations WHERE id = ?`, disp.WarningID).Scan(&typ, &subjectPubkey)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kredoerr.New(kredoerr.NotFound, "unknown warning id")
		}
		if err != nil {
			return nil, err
		}
		if typ != models.AttestationBehavioralWarning {
			return nil, kredoerr.New(kredoerr.Validation, "dispute target is not a behavioral_warning")
		}
		if subjectPubkey != disp.Disputor.Pubkey {
			return nil, kredoerr.New(kredoerr.Permission, "only the warning's subject may dispute it")
		}

		if _, err := tx.Exec(
			`INSERT INTO disputes (id, warning_id, disputor_pubkey, disputor_name, response, issued, signature) VALUES (?,?,?,?,?,?,?)`,
			disp.ID, disp.WarningID, disp.Disputor.Pubkey, nullString(disp.Disputor.Name), disp.Response, disp.Issued, disp.Signature,
		); err != nil {
			return nil, fmt.Errorf("insert dispute: %w", err)
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return []string{subjectPubkey}, nil
	})
	if err != nil {
		return models.Dispute{}, err
	}
	return disp, nil
}

// DisputesFor returns every dispute filed against warningID.
func (d *DB) DisputesFor(warningID string) ([]models.Dispute, error) {
	rows, err := d.sqlDB.Query(
		`SELECT id, warning_id, disputor_pubkey, disputor_name, response, issued, signature FROM disputes WHERE warning_id = ? ORDER BY issued ASC`,
		warningID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Dispute
	for rows.Next() {
		var disp models.Dispute
		var name sql.NullString
		if err := rows.Scan(&disp.ID, &disp.WarningID, &disp.Disputor.Pubkey, &name, &disp.Response, &disp.Issued, &disp.Signature); err != nil {
			return nil, err
		}
		disp.Disputor.Name = name.String
		out = append(out, disp)
	}
	return out, rows.Err()
}

// DisputeCountsFor returns dispute counts keyed by warning id, for profile
// assembly across many warnings in one query.
func (d *DB) DisputeCountsFor(warningIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(warningIDs))
	if len(warningIDs) == 0 {
		return counts, nil
	}
	placeholders := make([]string, len(warningIDs))
	args := make([]any, len(warningIDs))
	for i, id := range warningIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT warning_id, COUNT(*) FROM disputes WHERE warning_id IN (%s) GROUP BY warning_id`, joinComma(placeholders))
	rows, err := d.sqlDB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
