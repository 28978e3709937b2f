package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

// ClaimOwnership inserts a new pending ownership claim. Fails with
// ownership_conflict if the agent already has an active claim.
func (d *DB) ClaimOwnership(c models.OwnershipClaim, audit models.AuditEvent) (models.OwnershipClaim, error) {
	c.State = models.OwnershipPending
	err := d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		var activeCount int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM ownership_claims WHERE agent_pubkey = ? AND state = ?`,
			c.AgentPubkey, models.OwnershipActive,
		).Scan(&activeCount); err != nil {
			return nil, fmt.Errorf("check active claim: %w", err)
		}
		if activeCount > 0 {
			return nil, kredoerr.New(kredoerr.Conflict, "agent already has an active ownership claim")
		}

		_, err := tx.Exec(
			`INSERT INTO ownership_claims (claim_id, agent_pubkey, human_pubkey, claim_signature, state, claimed_at)
			 VALUES (?,?,?,?,?,?)`,
			c.ClaimID, c.AgentPubkey, c.HumanPubkey, c.ClaimSignature, c.State, c.ClaimedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, kredoerr.New(kredoerr.Conflict, "claim_id already in use")
			}
			return nil, fmt.Errorf("insert ownership claim: %w", err)
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return []string{c.AgentPubkey, c.HumanPubkey}, nil
	})
	if err != nil {
		return models.OwnershipClaim{}, err
	}
	return c, nil
}

// ConfirmOwnership transitions a pending claim to active. confirmerPubkey
// must equal the claim's human_pubkey.
func (d *DB) ConfirmOwnership(claimID, confirmerPubkey, confirmSignature, now string, audit models.AuditEvent) (models.OwnershipClaim, error) {
	var claim models.OwnershipClaim
	err := d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		c, err := getOwnershipClaimTx(tx, claimID)
		if err != nil {
			return nil, err
		}
		if c.State != models.OwnershipPending {
			return nil, kredoerr.Newf(kredoerr.Validation, "claim is %s, not pending", c.State)
		}
		if c.HumanPubkey != confirmerPubkey {
			return nil, kredoerr.New(kredoerr.Permission, "only the named human_pubkey may confirm")
		}

		res, err := tx.Exec(
			`UPDATE ownership_claims SET state = ?, confirm_signature = ?, confirmed_at = ? WHERE claim_id = ? AND state = ?`,
			models.OwnershipActive, confirmSignature, now, claimID, models.OwnershipPending,
		)
		if err != nil {
			return nil, fmt.Errorf("confirm ownership: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, kredoerr.New(kredoerr.Conflict, "claim state changed concurrently")
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}

		c.State = models.OwnershipActive
		c.ConfirmSignature = confirmSignature
		c.ConfirmedAt = now
		claim = c
		return []string{c.AgentPubkey, c.HumanPubkey}, nil
	})
	if err != nil {
		return models.OwnershipClaim{}, err
	}
	return claim, nil
}

// RevokeOwnership transitions an active claim to revoked. revokerPubkey
// must be either the agent_pubkey or the human_pubkey on the claim.
func (d *DB) RevokeOwnership(claimID, revokerPubkey, reason, now string, audit models.AuditEvent) (models.OwnershipClaim, error) {
	var claim models.OwnershipClaim
	err := d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		c, err := getOwnershipClaimTx(tx, claimID)
		if err != nil {
			return nil, err
		}
		if c.State != models.OwnershipActive {
			return nil, kredoerr.Newf(kredoerr.Validation, "claim is %s, not active", c.State)
		}
		if revokerPubkey != c.AgentPubkey && revokerPubkey != c.HumanPubkey {
			return nil, kredoerr.New(kredoerr.Permission, "revoker must be the agent or the human on the claim")
		}

		res, err := tx.Exec(
			`UPDATE ownership_claims SET state = ?, revoked_at = ?, revoker = ?, revoke_reason = ? WHERE claim_id = ? AND state = ?`,
			models.OwnershipRevoked, now, revokerPubkey, reason, claimID, models.OwnershipActive,
		)
		if err != nil {
			return nil, fmt.Errorf("revoke ownership: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, kredoerr.New(kredoerr.Conflict, "claim state changed concurrently")
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}

		c.State = models.OwnershipRevoked
		c.RevokedAt = now
		c.Revoker = revokerPubkey
		c.RevokeReason = reason
		claim = c
		return []string{c.AgentPubkey, c.HumanPubkey}, nil
	})
	if err != nil {
		return models.OwnershipClaim{}, err
	}
	return claim, nil
}

func getOwnershipClaimTx(tx *sql.Tx, claimID string) (models.OwnershipClaim, error) {
	var c models.OwnershipClaim
	var confirmSig, confirmedAt, revokedAt, revoker, revokeReason sql.NullString
	err := tx.QueryRow(
		`SELECT claim_id, agent_pubkey, human_pubkey, claim_signature, confirm_signature, state, claimed_at, confirmed_at, revoked_at, revoker, revoke_reason
		 FROM ownership_claims WHERE claim_id = ?`, claimID,
	).Scan(&c.ClaimID, &c.AgentPubkey, &c.HumanPubkey, &c.ClaimSignature, &confirmSig, &c.State, &c.ClaimedAt, &confirmedAt, &revokedAt, &revoker, &revokeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OwnershipClaim{}, kredoerr.New(kredoerr.NotFound, "unknown claim_id")
	}
	if err != nil {
		return models.OwnershipClaim{}, err
	}
	c.ConfirmSignature, c.ConfirmedAt, c.RevokedAt, c.Revoker, c.RevokeReason =
		confirmSig.String, confirmedAt.String, revokedAt.String, revoker.String, revokeReason.String
	return c, nil
}

// GetOwnershipClaim looks up a claim by id outside of a transaction.
func (d *DB) GetOwnershipClaim(claimID string) (models.OwnershipClaim, error) {
	var c models.OwnershipClaim
	var confirmSig, confirmedAt, revokedAt, revoker, revokeReason sql.NullString
	err := d.sqlDB.QueryRow(
		`SELECT claim_id, agent_pubkey, human_pubkey, claim_signature, confirm_signature, state, claimed_at, confirmed_at, revoked_at, revoker, revoke_reason
		 FROM ownership_claims WHERE claim_id = ?`, claimID,
	).Scan(&c.ClaimID, &c.AgentPubkey, &c.HumanPubkey, &c.ClaimSignature, &confirmSig, &c.State, &c.ClaimedAt, &confirmedAt, &revokedAt, &revoker, &revokeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OwnershipClaim{}, kredoerr.New(kredoerr.NotFound, "unknown claim_id")
	}
	if err != nil {
		return models.OwnershipClaim{}, err
	}
	c.ConfirmSignature, c.ConfirmedAt, c.RevokedAt, c.Revoker, c.RevokeReason =
		confirmSig.String, confirmedAt.String, revokedAt.String, revoker.String, revokeReason.String
	return c, nil
}

// GetActiveOwner returns the currently-active ownership claim for
// agentPubkey, if any.
func (d *DB) GetActiveOwner(agentPubkey string) (models.OwnershipClaim, bool, error) {
	var claimID string
	err := d.sqlDB.QueryRow(
		`SELECT claim_id FROM ownership_claims WHERE agent_pubkey = ? AND state = ?`,
		agentPubkey, models.OwnershipActive,
	).Scan(&claimID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OwnershipClaim{}, false, nil
	}
	if err != nil {
		return models.OwnershipClaim{}, false, err
	}
	c, err := d.GetOwnershipClaim(claimID)
	if err != nil {
		return models.OwnershipClaim{}, false, err
	}
	return c, true, nil
}

// ListOwnershipForAgent returns every claim (any state) ever filed for
// agentPubkey, newest first.
func (d *DB) ListOwnershipForAgent(agentPubkey string) ([]models.OwnershipClaim, error) {
	rows, err := d.sqlDB.Query(
		`SELECT claim_id, agent_pubkey, human_pubkey, claim_signature, confirm_signature, state, claimed_at, confirmed_at, revoked_at, revoker, revoke_reason
		 FROM ownership_claims WHERE agent_pubkey = ? ORDER BY claimed_at DESC`, agentPubkey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OwnershipClaim
	for rows.Next() {
		var c models.OwnershipClaim
		var confirmSig, confirmedAt, revokedAt, revoker, revokeReason sql.NullString
		if err := rows.Scan(&c.ClaimID, &c.AgentPubkey, &c.HumanPubkey, &c.ClaimSignature, &confirmSig, &c.State, &c.ClaimedAt, &confirmedAt, &revokedAt, &revoker, &revokeReason); err != nil {
			return nil, err
		}
		c.ConfirmSignature, c.ConfirmedAt, c.RevokedAt, c.Revoker, c.RevokeReason =
			confirmSig.String, confirmedAt.String, revokedAt.String, revoker.String, revokeReason.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY"))
}
