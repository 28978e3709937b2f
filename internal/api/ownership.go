package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

type ownershipClaimRequest struct {
	ClaimID     string `json:"claim_id"`
	AgentPubkey string `json:"agent_pubkey"`
	HumanPubkey string `json:"human_pubkey"`
	Signature   string `json:"signature"`
}

// handleOwnershipClaim files a new pending ownership claim, signed by the
// agent pubkey being claimed. claim_id is taken from the request; the
// server mints one only when the request omits it.
func (s *Server) handleOwnershipClaim(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req ownershipClaimRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "ownership_claim", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "ownership_claim", req.AgentPubkey) {
		return
	}
	if !validPubkeyFormat(req.AgentPubkey) || !validPubkeyFormat(req.HumanPubkey) {
		s.audit(r, "ownership_claim", "failure", req.AgentPubkey)
		writeDomainError(w, kredoerr.New(kredoerr.SignatureInvalid, "agent/human pubkey is not a valid ed25519: hex key"))
		return
	}

	claimID := req.ClaimID
	if claimID == "" {
		claimID = uuid.NewString()
	}
	payload := map[string]any{"action": "ownership_claim", "claim_id": claimID, "agent_pubkey": req.AgentPubkey, "human_pubkey": req.HumanPubkey}
	if verr := verifyFields(payload, req.Signature, req.AgentPubkey); verr != nil {
		s.audit(r, "ownership_claim", "failure", req.AgentPubkey)
		writeDomainError(w, verr)
		return
	}

	claim, err := s.db.ClaimOwnership(models.OwnershipClaim{
		ClaimID: claimID, AgentPubkey: req.AgentPubkey, HumanPubkey: req.HumanPubkey,
		ClaimSignature: req.Signature, ClaimedAt: nowISO(),
	}, models.AuditEvent{
		Timestamp: nowISO(), Action: "ownership_claim", Outcome: "success", ActorPubkey: req.AgentPubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

type ownershipConfirmRequest struct {
	ClaimID     string `json:"claim_id"`
	AgentPubkey string `json:"agent_pubkey"`
	HumanPubkey string `json:"human_pubkey"`
	Signature   string `json:"signature"`
}

// handleOwnershipConfirm transitions a pending claim to active; must be
// signed by the claim's human_pubkey.
func (s *Server) handleOwnershipConfirm(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req ownershipConfirmRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "ownership_confirm", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "ownership_confirm", req.HumanPubkey) {
		return
	}

	payload := map[string]any{"action": "ownership_confirm", "claim_id": req.ClaimID, "agent_pubkey": req.AgentPubkey, "human_pubkey": req.HumanPubkey}
	if verr := verifyFields(payload, req.Signature, req.HumanPubkey); verr != nil {
		s.audit(r, "ownership_confirm", "failure", req.HumanPubkey)
		writeDomainError(w, verr)
		return
	}

	claim, err := s.db.ConfirmOwnership(req.ClaimID, req.HumanPubkey, req.Signature, nowISO(), models.AuditEvent{
		Timestamp: nowISO(), Action: "ownership_confirm", Outcome: "success", ActorPubkey: req.HumanPubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

type ownershipRevokeRequest struct {
	ClaimID       string `json:"claim_id"`
	AgentPubkey   string `json:"agent_pubkey"`
	HumanPubkey   string `json:"human_pubkey"`
	RevokerPubkey string `json:"revoker_pubkey"`
	Reason        string `json:"reason"`
	Signature     string `json:"signature"`
}

// handleOwnershipRevoke transitions an active claim to revoked; the
// revoker must be either party on the claim.
func (s *Server) handleOwnershipRevoke(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req ownershipRevokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "ownership_revoke", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "ownership_revoke", req.RevokerPubkey) {
		return
	}

	payload := map[string]any{
		"action": "ownership_revoke", "claim_id": req.ClaimID, "agent_pubkey": req.AgentPubkey,
		"human_pubkey": req.HumanPubkey, "revoker_pubkey": req.RevokerPubkey, "reason": req.Reason,
	}
	if verr := verifyFields(payload, req.Signature, req.RevokerPubkey); verr != nil {
		s.audit(r, "ownership_revoke", "failure", req.RevokerPubkey)
		writeDomainError(w, verr)
		return
	}

	claim, err := s.db.RevokeOwnership(req.ClaimID, req.RevokerPubkey, req.Reason, nowISO(), models.AuditEvent{
		Timestamp: nowISO(), Action: "ownership_revoke", Outcome: "success", ActorPubkey: req.RevokerPubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// handleOwnershipForAgent lists every ownership claim ever filed for a
// given agent pubkey, newest first.
func (s *Server) handleOwnershipForAgent(w http.ResponseWriter, r *http.Request) {
	claims, err := s.db.ListOwnershipForAgent(r.PathValue("pubkey"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}
