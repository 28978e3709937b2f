package storage

import (
	"regexp"

	"github.com/kredo-network/kredo/internal/models"
)

var ipfsCIDArtifact = regexp.MustCompile(`^ipfs:(Qm[1-9A-HJ-NP-Za-km-z]+|bafy[0-9a-z]+)$`)

// RegisterPinsFromArtifacts scans an accepted attestation's artifacts for
// ipfs: CIDs and enqueues any new ones in the pin index. No network call
// is made — pinning itself is the out-of-scope external helper's job.
func (d *DB) RegisterPinsFromArtifacts(attestationID string, artifacts []string) error {
	var cids []string
	for _, a := range artifacts {
		if ipfsCIDArtifact.MatchString(a) {
			cids = append(cids, a[len("ipfs:"):])
		}
	}
	if len(cids) == 0 {
		return nil
	}
	for _, cid := range cids {
		if _, err := d.sqlDB.Exec(
			`INSERT OR IGNORE INTO pin_records (cid, attestation_id, pin_status) VALUES (?,?,?)`,
			cid, attestationID, models.PinUnpinned,
		); err != nil {
			return err
		}
	}
	return nil
}

// ListUnpinned returns pin records still awaiting the external pinner,
// ordered by cid.
func (d *DB) ListUnpinned(limit int) ([]models.PinRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := d.sqlDB.Query(
		`SELECT cid, attestation_id, pin_status, pinned_at FROM pin_records WHERE pin_status != ? ORDER BY cid LIMIT ?`,
		models.PinPinned, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PinRecord
	for rows.Next() {
		var p models.PinRecord
		var pinnedAt *string
		if err := rows.Scan(&p.CID, &p.AttestationID, &p.PinStatus, &pinnedAt); err != nil {
			return nil, err
		}
		if pinnedAt != nil {
			p.PinnedAt = *pinnedAt
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPinned records that the external pinning helper has confirmed cid is
// pinned.
func (d *DB) MarkPinned(cid, now string) error {
	_, err := d.sqlDB.Exec(
		`UPDATE pin_records SET pin_status = ?, pinned_at = ? WHERE cid = ?`,
		models.PinPinned, now, cid,
	)
	return err
}
