package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

// SkillAggregate is one row of a profile's skills[] array, pre-averaged by
// the store so the assembler does no arithmetic over raw rows.
type SkillAggregate struct {
	Domain                string
	Specific              string
	AvgProficiency        float64
	WeightedAvgProficiency float64
	AttestationCount       int
}

// WarningSummary is one row of a profile's warnings[] array.
type WarningSummary struct {
	ID            string
	Category      models.WarningCategory
	Attestor      models.AttestorRef
	Issued        string
	IsRevoked     bool
	DisputeCount  int
}

// TrustNetworkEntry is one row of a profile's trust_network[] array: a
// distinct attestor who has attested to the subject, and how many times.
type TrustNetworkEntry struct {
	Pubkey                    string
	Type                      string
	AttestationCountForSubject int
}

// ProfileBundle is the raw join storeProfileBundle produces. The trust
// engine layers reputation, ring flags, accountability, and integrity
// multipliers on top of this; the store itself computes only what a single
// SQL pass over this subject's rows can answer.
type ProfileBundle struct {
	Identity            models.Identity
	AttestationTotal    int
	AttestationByAgents  int
	AttestationByHumans  int
	EvidenceQualityAvg  float64
	Skills              []SkillAggregate
	Warnings            []WarningSummary
	TrustNetwork        []TrustNetworkEntry
	ActiveOwner         *models.OwnershipClaim
	LatestIntegrity     *models.IntegrityCheck
}

// GetProfileBundle is the exported entry point the router uses to assemble
// GET /agents/{pubkey}/profile; it delegates to storeProfileBundle.
func (d *DB) GetProfileBundle(pubkey string) (ProfileBundle, error) {
	return d.storeProfileBundle(pubkey)
}

// storeProfileBundle joins everything GET /agents/{pubkey}/profile needs in
// one transaction, so the assembler never issues raw SQL of its own.
func (d *DB) storeProfileBundle(pubkey string) (ProfileBundle, error) {
	var bundle ProfileBundle

	tx, err := d.sqlDB.Begin()
	if err != nil {
		return ProfileBundle{}, err
	}
	defer tx.Rollback()

	var ident models.Identity
	err = tx.QueryRow(`SELECT pubkey, name, type, first_seen, last_seen FROM identities WHERE pubkey = ?`, pubkey).
		Scan(&ident.Pubkey, &ident.Name, &ident.Type, &ident.FirstSeen, &ident.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfileBundle{}, kredoerr.New(kredoerr.NotFound, "unknown pubkey")
	}
	if err != nil {
		return ProfileBundle{}, fmt.Errorf("load identity: %w", err)
	}
	bundle.Identity = ident

	var evidenceAvg sql.NullFloat64
	var byAgents, byHumans sql.NullInt64
	err = tx.QueryRow(`
SELECT COUNT(*),
       SUM(CASE WHEN attestor_type = 'agent' THEN 1 ELSE 0 END),
       SUM(CASE WHEN attestor_type = 'human' THEN 1 ELSE 0 END),
       AVG(score_composite)
FROM attestations WHERE subject_pubkey = ? AND revoked_at IS NULL AND type != ?`,
		pubkey, models.AttestationBehavioralWarning,
	).Scan(&bundle.AttestationTotal, &byAgents, &byHumans, &evidenceAvg)
	if err != nil {
		return ProfileBundle{}, fmt.Errorf("aggregate attestations: %w", err)
	}
	bundle.EvidenceQualityAvg = evidenceAvg.Float64
	bundle.AttestationByAgents = int(byAgents.Int64)
	bundle.AttestationByHumans = int(byHumans.Int64)

	skillRows, err := tx.Query(`
SELECT domain, specific, AVG(proficiency), AVG(proficiency * score_composite) / NULLIF(AVG(score_composite), 0), COUNT(*)
FROM attestations
WHERE subject_pubkey = ? AND revoked_at IS NULL AND domain IS NOT NULL
GROUP BY domain, specific
ORDER BY domain, specific`, pubkey)
	if err != nil {
		return ProfileBundle{}, fmt.Errorf("aggregate skills: %w", err)
	}
	for skillRows.Next() {
		var s SkillAggregate
		var weighted sql.NullFloat64
		if err := skillRows.Scan(&s.Domain, &s.Specific, &s.AvgProficiency, &weighted, &s.AttestationCount); err != nil {
			skillRows.Close()
			return ProfileBundle{}, err
		}
		if weighted.Valid {
			s.WeightedAvgProficiency = weighted.Float64
		} else {
			s.WeightedAvgProficiency = s.AvgProficiency
		}
		bundle.Skills = append(bundle.Skills, s)
	}
	if err := skillRows.Err(); err != nil {
		skillRows.Close()
		return ProfileBundle{}, err
	}
	skillRows.Close()

	warnRows, err := tx.Query(`
SELECT id, warning_category, attestor_pubkey, attestor_name, attestor_type, issued, revoked_at
FROM attestations
WHERE subject_pubkey = ? AND type = ?
ORDER BY issued DESC`, pubkey, models.AttestationBehavioralWarning)
	if err != nil {
		return ProfileBundle{}, fmt.Errorf("list warnings: %w", err)
	}
	var warningIDs []string
	for warnRows.Next() {
		var w WarningSummary
		var category, attestorName, revokedAt sql.NullString
		if err := warnRows.Scan(&w.ID, &category, &w.Attestor.Pubkey, &attestorName, &w.Attestor.Type, &w.Issued, &revokedAt); err != nil {
			warnRows.Close()
			return ProfileBundle{}, err
		}
		w.Category = models.WarningCategory(category.String)
		w.Attestor.Name = attestorName.String
		w.IsRevoked = revokedAt.Valid
		bundle.Warnings = append(bundle.Warnings, w)
		warningIDs = append(warningIDs, w.ID)
	}
	if err := warnRows.Err(); err != nil {
		warnRows.Close()
		return ProfileBundle{}, err
	}
	warnRows.Close()

	if len(warningIDs) > 0 {
		placeholders := make([]string, len(warningIDs))
		args := make([]any, len(warningIDs))
		for i, id := range warningIDs {
			placeholders[i] = "?"
			args[i] = id
		}
		countRows, err := tx.Query(
			fmt.Sprintf(`SELECT warning_id, COUNT(*) FROM disputes WHERE warning_id IN (%s) GROUP BY warning_id`, joinComma(placeholders)),
			args...,
		)
		if err != nil {
			return ProfileBundle{}, fmt.Errorf("dispute counts: %w", err)
		}
		counts := make(map[string]int, len(warningIDs))
		for countRows.Next() {
			var id string
			var n int
			if err := countRows.Scan(&id, &n); err != nil {
				countRows.Close()
				return ProfileBundle{}, err
			}
			counts[id] = n
		}
		if err := countRows.Err(); err != nil {
			countRows.Close()
			return ProfileBundle{}, err
		}
		countRows.Close()
		for i := range bundle.Warnings {
			bundle.Warnings[i].DisputeCount = counts[bundle.Warnings[i].ID]
		}
	}

	netRows, err := tx.Query(`
SELECT attestor_pubkey, attestor_type, COUNT(*)
FROM attestations
WHERE subject_pubkey = ? AND revoked_at IS NULL
GROUP BY attestor_pubkey, attestor_type
ORDER BY COUNT(*) DESC`, pubkey)
	if err != nil {
		return ProfileBundle{}, fmt.Errorf("trust network: %w", err)
	}
	for netRows.Next() {
		var e TrustNetworkEntry
		if err := netRows.Scan(&e.Pubkey, &e.Type, &e.AttestationCountForSubject); err != nil {
			netRows.Close()
			return ProfileBundle{}, err
		}
		bundle.TrustNetwork = append(bundle.TrustNetwork, e)
	}
	if err := netRows.Err(); err != nil {
		netRows.Close()
		return ProfileBundle{}, err
	}
	netRows.Close()

	if owner, ok, err := activeOwnerClaimTx(tx, pubkey); err != nil {
		return ProfileBundle{}, err
	} else if ok {
		bundle.ActiveOwner = &owner
	}

	if check, ok, err := latestIntegrityCheckTx(tx, pubkey); err != nil {
		return ProfileBundle{}, err
	} else if ok {
		bundle.LatestIntegrity = &check
	}

	if err := tx.Commit(); err != nil {
		return ProfileBundle{}, err
	}
	return bundle, nil
}

func activeOwnerClaimTx(tx *sql.Tx, agentPubkey string) (models.OwnershipClaim, bool, error) {
	var c models.OwnershipClaim
	var confirmSig, confirmedAt, revokedAt, revoker, revokeReason sql.NullString
	err := tx.QueryRow(
		`SELECT claim_id, agent_pubkey, human_pubkey, claim_signature, confirm_signature, state, claimed_at, confirmed_at, revoked_at, revoker, revoke_reason
		 FROM ownership_claims WHERE agent_pubkey = ? AND state = ?`, agentPubkey, models.OwnershipActive,
	).Scan(&c.ClaimID, &c.AgentPubkey, &c.HumanPubkey, &c.ClaimSignature, &confirmSig, &c.State, &c.ClaimedAt, &confirmedAt, &revokedAt, &revoker, &revokeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OwnershipClaim{}, false, nil
	}
	if err != nil {
		return models.OwnershipClaim{}, false, err
	}
	c.ConfirmSignature, c.ConfirmedAt, c.RevokedAt, c.Revoker, c.RevokeReason =
		confirmSig.String, confirmedAt.String, revokedAt.String, revoker.String, revokeReason.String
	return c, true, nil
}

func latestIntegrityCheckTx(tx *sql.Tx, agentPubkey string) (models.IntegrityCheck, bool, error) {
	var c models.IntegrityCheck
	var fileHashesJSON, resultJSON string
	err := tx.QueryRow(
		`SELECT check_id, agent_pubkey, file_hashes_json, agent_signature, checked_at, result_json
		 FROM integrity_checks WHERE agent_pubkey = ? ORDER BY checked_at DESC LIMIT 1`, agentPubkey,
	).Scan(&c.CheckID, &c.AgentPubkey, &fileHashesJSON, &c.AgentSignature, &c.CheckedAt, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IntegrityCheck{}, false, nil
	}
	if err != nil {
		return models.IntegrityCheck{}, false, err
	}
	if err := json.Unmarshal([]byte(fileHashesJSON), &c.FileHashes); err != nil {
		return models.IntegrityCheck{}, false, fmt.Errorf("unmarshal file hashes: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), &c.Result); err != nil {
		return models.IntegrityCheck{}, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return c, true, nil
}
