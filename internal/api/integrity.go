package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

type integrityBaselineRequest struct {
	BaselineID  string            `json:"baseline_id"`
	AgentPubkey string            `json:"agent_pubkey"`
	OwnerPubkey string            `json:"owner_pubkey"`
	FileHashes  []models.FileHash `json:"file_hashes"`
	Signature   string            `json:"signature"`
}

// handleIntegrityBaselineSet installs a new owner-signed known-good
// file-hash baseline for an agent, superseding any previously-active one.
// baseline_id is taken from the request; the server mints one only when
// the request omits it.
func (s *Server) handleIntegrityBaselineSet(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req integrityBaselineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "integrity_set_baseline", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "integrity_set_baseline", req.OwnerPubkey) {
		return
	}
	if len(req.FileHashes) == 0 {
		s.audit(r, "integrity_set_baseline", "failure", req.OwnerPubkey)
		writeDomainError(w, kredoerr.New(kredoerr.Validation, "file_hashes must not be empty"))
		return
	}

	baselineID := req.BaselineID
	if baselineID == "" {
		baselineID = uuid.NewString()
	}
	payload := map[string]any{
		"action": "integrity_set_baseline", "baseline_id": baselineID,
		"agent_pubkey": req.AgentPubkey, "owner_pubkey": req.OwnerPubkey, "file_hashes": fileHashesToAny(req.FileHashes),
	}
	if verr := verifyFields(payload, req.Signature, req.OwnerPubkey); verr != nil {
		s.audit(r, "integrity_set_baseline", "failure", req.OwnerPubkey)
		writeDomainError(w, verr)
		return
	}

	baseline, err := s.db.SetIntegrityBaseline(models.IntegrityBaseline{
		BaselineID: baselineID, AgentPubkey: req.AgentPubkey, OwnerPubkey: req.OwnerPubkey,
		FileHashes: req.FileHashes, OwnerSignature: req.Signature, SetAt: nowISO(),
	}, models.AuditEvent{
		Timestamp: nowISO(), Action: "integrity_set_baseline", Outcome: "success", ActorPubkey: req.OwnerPubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, baseline)
}

type integrityCheckRequest struct {
	AgentPubkey string            `json:"agent_pubkey"`
	FileHashes  []models.FileHash `json:"file_hashes"`
	Signature   string            `json:"signature"`
}

// handleIntegrityCheck records an agent-signed file-hash submission and
// scores it against the active baseline.
func (s *Server) handleIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req integrityCheckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "integrity_check", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "integrity_check", req.AgentPubkey) {
		return
	}

	payload := map[string]any{"action": "integrity_check", "agent_pubkey": req.AgentPubkey, "file_hashes": fileHashesToAny(req.FileHashes)}
	if verr := verifyFields(payload, req.Signature, req.AgentPubkey); verr != nil {
		s.audit(r, "integrity_check", "failure", req.AgentPubkey)
		writeDomainError(w, verr)
		return
	}

	check, err := s.db.RecordIntegrityCheck(models.IntegrityCheck{
		CheckID: uuid.NewString(), AgentPubkey: req.AgentPubkey, FileHashes: req.FileHashes,
		AgentSignature: req.Signature, CheckedAt: nowISO(),
	}, models.AuditEvent{
		Timestamp: nowISO(), Action: "integrity_check", Outcome: "success", ActorPubkey: req.AgentPubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// handleIntegrityStatus returns the active baseline and most recent check
// for an agent, if any.
func (s *Server) handleIntegrityStatus(w http.ResponseWriter, r *http.Request) {
	pubkey := r.PathValue("pubkey")

	baseline, hasBaseline, err := s.db.GetActiveBaseline(pubkey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	check, hasCheck, err := s.db.LatestIntegrityCheck(pubkey)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{"has_baseline": hasBaseline, "has_check": hasCheck}
	if hasBaseline {
		resp["baseline"] = baseline
	}
	if hasCheck {
		resp["latest_check"] = check
	}
	writeJSON(w, http.StatusOK, resp)
}

// fileHashesToAny converts a typed FileHash slice into the map shape the
// canonical encoder expects for a signing payload field.
func fileHashesToAny(hashes []models.FileHash) []any {
	out := make([]any, len(hashes))
	for i, h := range hashes {
		out[i] = map[string]any{"path": h.Path, "sha256": h.SHA256}
	}
	return out
}
