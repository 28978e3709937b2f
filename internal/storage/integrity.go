package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

// SetIntegrityBaseline installs a new owner-signed baseline for
// agentPubkey, superseding any previously-active one. The caller must have
// already verified that ownerPubkey is the currently-active owner (the
// store re-checks it here inside the same transaction to close the
// TOCTOU window).
func (d *DB) SetIntegrityBaseline(b models.IntegrityBaseline, audit models.AuditEvent) (models.IntegrityBaseline, error) {
	b.Status = models.BaselineActive
	fileHashesJSON, err := json.Marshal(b.FileHashes)
	if err != nil {
		return models.IntegrityBaseline{}, fmt.Errorf("marshal file hashes: %w", err)
	}

	err = d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		activeOwner, hasActive, err := activeOwnerTx(tx, b.AgentPubkey)
		if err != nil {
			return nil, err
		}
		if !hasActive || activeOwner != b.OwnerPubkey {
			return nil, kredoerr.New(kredoerr.Permission, "baseline must be set by the currently active owner")
		}

		if _, err := tx.Exec(
			`UPDATE integrity_baselines SET status = ? WHERE agent_pubkey = ? AND status = ?`,
			models.BaselineSuperseded, b.AgentPubkey, models.BaselineActive,
		); err != nil {
			return nil, fmt.Errorf("supersede previous baseline: %w", err)
		}

		if _, err := tx.Exec(
			`INSERT INTO integrity_baselines (baseline_id, agent_pubkey, owner_pubkey, file_hashes_json, owner_signature, set_at, status)
			 VALUES (?,?,?,?,?,?,?)`,
			b.BaselineID, b.AgentPubkey, b.OwnerPubkey, string(fileHashesJSON), b.OwnerSignature, b.SetAt, b.Status,
		); err != nil {
			return nil, fmt.Errorf("insert baseline: %w", err)
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return []string{b.AgentPubkey, b.OwnerPubkey}, nil
	})
	if err != nil {
		return models.IntegrityBaseline{}, err
	}
	return b, nil
}

func activeOwnerTx(tx *sql.Tx, agentPubkey string) (string, bool, error) {
	var humanPubkey string
	err := tx.QueryRow(
		`SELECT human_pubkey FROM ownership_claims WHERE agent_pubkey = ? AND state = ?`,
		agentPubkey, models.OwnershipActive,
	).Scan(&humanPubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return humanPubkey, true, nil
}

// GetActiveBaseline returns the active integrity baseline for agentPubkey,
// if one has been set.
func (d *DB) GetActiveBaseline(agentPubkey string) (models.IntegrityBaseline, bool, error) {
	var b models.IntegrityBaseline
	var fileHashesJSON string
	err := d.sqlDB.QueryRow(
		`SELECT baseline_id, agent_pubkey, owner_pubkey, file_hashes_json, owner_signature, set_at, status
		 FROM integrity_baselines WHERE agent_pubkey = ? AND status = ?`, agentPubkey, models.BaselineActive,
	).Scan(&b.BaselineID, &b.AgentPubkey, &b.OwnerPubkey, &fileHashesJSON, &b.OwnerSignature, &b.SetAt, &b.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IntegrityBaseline{}, false, nil
	}
	if err != nil {
		return models.IntegrityBaseline{}, false, err
	}
	if err := json.Unmarshal([]byte(fileHashesJSON), &b.FileHashes); err != nil {
		return models.IntegrityBaseline{}, false, fmt.Errorf("unmarshal file hashes: %w", err)
	}
	return b, true, nil
}

// RedThreshold is the number of changed-or-removed files at or above which
// a check is scored red rather than yellow. Policy default per §4.8.
const RedThreshold = 1

// ComputeIntegrityResult diffs current against baseline and assigns the
// traffic-light verdict. Exported standalone (not tx-bound) so the router
// can preview a result, and reused by RecordIntegrityCheck for the
// persisted verdict.
func ComputeIntegrityResult(baseline []models.FileHash, current []models.FileHash) models.IntegrityResult {
	baseByPath := make(map[string]string, len(baseline))
	for _, fh := range baseline {
		baseByPath[fh.Path] = fh.SHA256
	}
	curByPath := make(map[string]string, len(current))
	for _, fh := range current {
		curByPath[fh.Path] = fh.SHA256
	}

	var added, removed, changed []string
	for path, hash := range curByPath {
		baseHash, ok := baseByPath[path]
		if !ok {
			added = append(added, path)
		} else if baseHash != hash {
			changed = append(changed, path)
		}
	}
	for path := range baseByPath {
		if _, ok := curByPath[path]; !ok {
			removed = append(removed, path)
		}
	}

	diff := models.IntegrityDiff{Added: added, Removed: removed, Changed: changed}

	var status string
	switch {
	case len(added) == 0 && len(removed) == 0 && len(changed) == 0:
		status = models.TrafficGreen
	case len(changed)+len(removed) >= RedThreshold && (len(changed) > 0 || len(removed) > 0):
		status = models.TrafficRed
	default:
		status = models.TrafficYellow
	}

	var action string
	switch status {
	case models.TrafficGreen:
		action = models.ActionSafeToRun
	case models.TrafficYellow:
		action = models.ActionOwnerReviewRequired
	default:
		action = models.ActionBlockRun
	}

	return models.IntegrityResult{
		Status:                  status,
		Diff:                    diff,
		RecommendedAction:       action,
		RequiresOwnerReapproval: status != models.TrafficGreen,
	}
}

// RecordIntegrityCheck computes the diff against the active baseline (if
// any — an agent with no baseline yet is scored yellow, "no baseline set")
// and persists both the check and its verdict.
func (d *DB) RecordIntegrityCheck(c models.IntegrityCheck, audit models.AuditEvent) (models.IntegrityCheck, error) {
	fileHashesJSON, err := json.Marshal(c.FileHashes)
	if err != nil {
		return models.IntegrityCheck{}, fmt.Errorf("marshal file hashes: %w", err)
	}

	err = d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		var baselineJSON sql.NullString
		err := tx.QueryRow(
			`SELECT file_hashes_json FROM integrity_baselines WHERE agent_pubkey = ? AND status = ?`,
			c.AgentPubkey, models.BaselineActive,
		).Scan(&baselineJSON)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load active baseline: %w", err)
		}

		var baseline []models.FileHash
		if baselineJSON.Valid {
			if err := json.Unmarshal([]byte(baselineJSON.String), &baseline); err != nil {
				return nil, fmt.Errorf("unmarshal baseline: %w", err)
			}
		}

		var result models.IntegrityResult
		if baselineJSON.Valid {
			result = ComputeIntegrityResult(baseline, c.FileHashes)
		} else {
			result = models.IntegrityResult{
				Status:                  models.TrafficYellow,
				RecommendedAction:       models.ActionOwnerReviewRequired,
				RequiresOwnerReapproval: true,
			}
		}
		c.Result = result

		resultJSON, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}

		if _, err := tx.Exec(
			`INSERT INTO integrity_checks (check_id, agent_pubkey, file_hashes_json, agent_signature, checked_at, result_json)
			 VALUES (?,?,?,?,?,?)`,
			c.CheckID, c.AgentPubkey, string(fileHashesJSON), c.AgentSignature, c.CheckedAt, string(resultJSON),
		); err != nil {
			return nil, fmt.Errorf("insert integrity check: %w", err)
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return []string{c.AgentPubkey}, nil
	})
	if err != nil {
		return models.IntegrityCheck{}, err
	}
	return c, nil
}

// LatestIntegrityCheck returns the most recent check recorded for
// agentPubkey, if any.
func (d *DB) LatestIntegrityCheck(agentPubkey string) (models.IntegrityCheck, bool, error) {
	var c models.IntegrityCheck
	var fileHashesJSON, resultJSON string
	err := d.sqlDB.QueryRow(
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
