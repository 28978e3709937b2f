package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

// InsertAttestation persists a new attestation inside a single transaction:
// duplicate-id check, row insert, known-key touch for subject/attestor,
// audit row. score must already have been computed by the evidence scorer
// and validated against any accept-time thresholds by the caller.
func (d *DB) InsertAttestation(a models.Attestation, now string, audit models.AuditEvent) (models.Attestation, error) {
	artifactsJSON, err := json.Marshal(a.Evidence.Artifacts)
	if err != nil {
		return models.Attestation{}, fmt.Errorf("marshal artifacts: %w", err)
	}

	var domain, specific sql.NullString
	var proficiency sql.NullInt64
	if a.Skill != nil {
		domain = nullString(a.Skill.Domain)
		specific = nullString(a.Skill.Specific)
		proficiency = sql.NullInt64{Int64: int64(a.Skill.Proficiency), Valid: true}
	}

	err = d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM attestations WHERE id = ?`, a.ID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check duplicate: %w", err)
		}
		if exists > 0 {
			return nil, kredoerr.New(kredoerr.Conflict, "duplicate attestation id")
		}

		_, err := tx.Exec(`
INSERT INTO attestations (
  id, kredo, type, subject_pubkey, subject_name, attestor_pubkey, attestor_name, attestor_type,
  domain, specific, proficiency, warning_category, context, artifacts_json, outcome, interaction_date,
  issued, expires, signature,
  score_specificity, score_verifiability, score_relevance, score_recency, score_composite,
  revoked_at, revoker_pubkey
) VALUES (?,?,?,?,?,?,?,?, ?,?,?,?,?,?,?,?, ?,?,?, ?,?,?,?,?, ?,?)`,
			a.ID, a.Kredo, a.Type, a.Subject.Pubkey, nullString(a.Subject.Name),
			a.Attestor.Pubkey, nullString(a.Attestor.Name), a.Attestor.Type,
			domain, specific, proficiency, nullString(string(a.WarningCategory)),
			a.Evidence.Context, string(artifactsJSON), nullString(a.Evidence.Outcome), nullString(a.Evidence.InteractionDate),
			a.Issued, a.Expires, a.Signature,
			a.EvidenceScore.Specificity, a.EvidenceScore.Verifiability, a.EvidenceScore.Relevance,
			a.EvidenceScore.Recency, a.EvidenceScore.Composite,
			nil, nil,
		)
		if err != nil {
			return nil, fmt.Errorf("insert attestation: %w", err)
		}

		if err := d.TouchKnownKey(tx, a.Subject.Pubkey, a.Subject.Name, "agent", now); err != nil {
			return nil, err
		}
		if err := d.TouchKnownKey(tx, a.Attestor.Pubkey, a.Attestor.Name, a.Attestor.Type, now); err != nil {
			return nil, err
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}

		return []string{a.Subject.Pubkey, a.Attestor.Pubkey}, nil
	})
	if err != nil {
		return models.Attestation{}, err
	}
	return a, nil
}

// GetAttestation loads a single attestation by id.
func (d *DB) GetAttestation(id string) (models.Attestation, error) {
	row := d.sqlDB.QueryRow(`
SELECT id, kredo, type, subject_pubkey, subject_name, attestor_pubkey, attestor_name, attestor_type,
       domain, specific, proficiency, warning_category, context, artifacts_json, outcome, interaction_date,
       issued, expires, signature,
       score_specificity, score_verifiability, score_relevance, score_recency, score_composite,
       revoked_at, revoker_pubkey
FROM attestations WHERE id = ?`, id)
	a, err := rowToAttestation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Attestation{}, kredoerr.New(kredoerr.NotFound, "unknown attestation id")
	}
	if err != nil {
		return models.Attestation{}, err
	}
	return a, nil
}

func rowToAttestation(scan func(dest ...any) error) (models.Attestation, error) {
	var a models.Attestation
	var subjectName, attestorName, domain, specific, warningCat, outcome, interactionDate sql.NullString
	var proficiency sql.NullInt64
	var artifactsJSON string
	var revokedAt, revokerPubkey sql.NullString
	var score models.EvidenceScore

	err := scan(
		&a.ID, &a.Kredo, &a.Type, &a.Subject.Pubkey, &subjectName, &a.Attestor.Pubkey, &attestorName, &a.Attestor.Type,
		&domain, &specific, &proficiency, &warningCat, &a.Evidence.Context, &artifactsJSON, &outcome, &interactionDate,
		&a.Issued, &a.Expires, &a.Signature,
		&score.Specificity, &score.Verifiability, &score.Relevance, &score.Recency, &score.Composite,
		&revokedAt, &revokerPubkey,
	)
	if err != nil {
		return models.Attestation{}, err
	}

	a.Subject.Name = subjectName.String
	a.Attestor.Name = attestorName.String
	a.WarningCategory = models.WarningCategory(warningCat.String)
	a.Evidence.Outcome = outcome.String
	a.Evidence.InteractionDate = interactionDate.String
	a.EvidenceScore = &score
	a.RevokedAt = revokedAt.String
	a.RevokerPubkey = revokerPubkey.String

	if domain.Valid {
		prof := 0
		if proficiency.Valid {
			prof = int(proficiency.Int64)
		}
		a.Skill = &models.Skill{Domain: domain.String, Specific: specific.String, Proficiency: prof}
	}

	var artifacts []string
	if artifactsJSON != "" {
		if err := json.Unmarshal([]byte(artifactsJSON), &artifacts); err != nil {
			return models.Attestation{}, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	a.Evidence.Artifacts = artifacts
	return a, nil
}

// AttestationFilter narrows ListAttestationsFor; zero values mean
// "unfiltered" on that dimension.
type AttestationFilter struct {
	Subject        string
	Attestor       string
	Domain         string
	Skill          string
	Type           string
	MinProficiency int
	IncludeRevoked bool
}

// ListAttestationsFor executes all filters and pagination at the store
// layer. Results are sorted issued DESC, id ASC.
func (d *DB) ListAttestationsFor(f AttestationFilter, limit, offset int) ([]models.Attestation, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	var where []string
	var args []any
	if f.Subject != "" {
		where = append(where, "subject_pubkey = ?")
		args = append(args, f.Subject)
	}
	if f.Attestor != "" {
		where = append(where, "attestor_pubkey = ?")
		args = append(args, f.Attestor)
	}
	if f.Domain != "" {
		where = append(where, "domain = ?")
		args = append(args, f.Domain)
	}
	if f.Skill != "" {
		where = append(where, "specific = ?")
		args = append(args, f.Skill)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.MinProficiency > 0 {
		where = append(where, "proficiency >= ?")
		args = append(args, f.MinProficiency)
	}
	if !f.IncludeRevoked {
		where = append(where, "revoked_at IS NULL")
	}

	query := `
SELECT id, kredo, type, subject_pubkey, subject_name, attestor_pubkey, attestor_name, attestor_type,
       domain, specific, proficiency, warning_category, context, artifacts_json, outcome, interaction_date,
       issued, expires, signature,
       score_specificity, score_verifiability, score_relevance, score_recency, score_composite,
       revoked_at, revoker_pubkey
FROM attestations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY issued DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := d.sqlDB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Attestation
	for rows.Next() {
		a, err := rowToAttestation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttestationEdge is a minimal (attestor, subject) pointer used by ring
// detection; it never materializes full attestation rows.
type AttestationEdge struct {
	AttestationID  string
	AttestorPubkey string
	SubjectPubkey  string
}

// ListAttestationEdges returns the attestor→subject edge of every
// non-revoked attestation in the store; it always scans the whole
// non-revoked set.
func (d *DB) ListAttestationEdges() ([]AttestationEdge, error) {
	rows, err := d.sqlDB.Query(`SELECT id, attestor_pubkey, subject_pubkey FROM attestations WHERE revoked_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttestationEdge
	for rows.Next() {
		var e AttestationEdge
		if err := rows.Scan(&e.AttestationID, &e.AttestorPubkey, &e.SubjectPubkey); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IncomingAttestations returns all non-revoked, non-expired attestations
// whose subject is pubkey, used by the trust engine's recursive reputation
// walk.
func (d *DB) IncomingAttestations(pubkey string, nowISO string) ([]models.Attestation, error) {
	rows, err := d.sqlDB.Query(`
SELECT id, kredo, type, subject_pubkey, subject_name, attestor_pubkey, attestor_name, attestor_type,
       domain, specific, proficiency, warning_category, context, artifacts_json, outcome, interaction_date,
       issued, expires, signature,
       score_specificity, score_verifiability, score_relevance, score_recency, score_composite,
       revoked_at, revoker_pubkey
FROM attestations WHERE subject_pubkey = ? AND revoked_at IS NULL AND expires > ?`, pubkey, nowISO)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Attestation
	for rows.Next() {
		a, err := rowToAttestation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RevokeAttestation marks an attestation revoked if revokerPubkey matches
// the original attestor and it is not already revoked.
func (d *DB) RevokeAttestation(rev models.Revocation, now string, audit models.AuditEvent) (models.Revocation, error) {
	err := d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		var attestorPubkey string
		var revokedAt sql.NullString
		var subjectPubkey string
		err := tx.QueryRow(`SELECT attestor_pubkey, revoked_at, subject_pubkey FROM attestations WHERE id = ?`, rev.AttestationID).
			Scan(&attestorPubkey, &revokedAt, &subjectPubkey)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kredoerr.New(kredoerr.NotFound, "unknown attestation id")
		}
		if err != nil {
			return nil, err
		}
		if revokedAt.Valid {
			return nil, kredoerr.New(kredoerr.Conflict, "attestation already revoked")
		}
		if attestorPubkey != rev.Revoker.Pubkey {
			return nil, kredoerr.New(kredoerr.Permission, "only the original attestor may revoke")
		}

		res, err := tx.Exec(`UPDATE attestations SET revoked_at = ?, revoker_pubkey = ? WHERE id = ? AND revoked_at IS NULL`,
			now, rev.Revoker.Pubkey, rev.AttestationID)
		if err != nil {
			return nil, fmt.Errorf("revoke attestation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, kredoerr.New(kredoerr.Conflict, "attestation already revoked")
		}

		if _, err := tx.Exec(
			`INSERT INTO revocations (id, attestation_id, revoker_pubkey, revoker_name, reason, issued, signature) VALUES (?,?,?,?,?,?,?)`,
			rev.ID, rev.AttestationID, rev.Revoker.Pubkey, nullString(rev.Revoker.Name), rev.Reason, rev.Issued, rev.Signature,
		); err != nil {
			return nil, fmt.Errorf("insert revocation: %w", err)
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return []string{subjectPubkey, attestorPubkey}, nil
	})
	if err != nil {
		return models.Revocation{}, err
	}
	return rev, nil
}
