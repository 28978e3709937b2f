package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kredo-network/kredo/internal/evidence"
	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
	"github.com/kredo-network/kredo/internal/storage"
)

// handleCreateAttestation accepts a full signed attestation document.
func (s *Server) handleCreateAttestation(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var doc map[string]any
	var a models.Attestation
	if err := json.Unmarshal(body, &doc); err != nil {
		s.audit(r, "attest", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if err := json.Unmarshal(body, &a); err != nil {
		s.audit(r, "attest", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}

	if !s.checkRateLimit(w, r, "attest", a.Attestor.Pubkey) {
		return
	}

	if err := s.validateAttestation(&a); err != nil {
		s.audit(r, "attest", "failure", a.Attestor.Pubkey)
		writeDomainError(w, err)
		return
	}
	if verr := verifyDocument(doc, a.Signature, a.Attestor.Pubkey); verr != nil {
		s.audit(r, "attest", "failure", a.Attestor.Pubkey)
		writeDomainError(w, verr)
		return
	}

	issued, _ := time.Parse(time.RFC3339, a.Issued)
	score := evidence.Score(a.Evidence, a.Skill, issued, timeNow())
	a.EvidenceScore = &score

	if a.Type == models.AttestationBehavioralWarning && score.Composite < evidence.BehavioralWarningThreshold {
		s.audit(r, "attest", "failure", a.Attestor.Pubkey)
		writeDomainError(w, kredoerr.Newf(kredoerr.EvidenceInsufficient,
			"behavioral_warning composite score %.3f is below the %.2f acceptance threshold", score.Composite, evidence.BehavioralWarningThreshold))
		return
	}

	stored, err := s.db.InsertAttestation(a, nowISO(), models.AuditEvent{
		Timestamp: nowISO(), Action: "attest", Outcome: "success", ActorPubkey: a.Attestor.Pubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = s.db.RegisterPinsFromArtifacts(stored.ID, stored.Evidence.Artifacts)

	writeJSON(w, http.StatusCreated, stored)
}

// validateAttestation enforces the invariants the store itself cannot
// check without the taxonomy registry or evidence scorer.
func (s *Server) validateAttestation(a *models.Attestation) error {
	if !validPubkeyFormat(a.Subject.Pubkey) || !validPubkeyFormat(a.Attestor.Pubkey) {
		return kredoerr.New(kredoerr.SignatureInvalid, "subject/attestor pubkey is not a valid ed25519: hex key")
	}
	switch a.Type {
	case models.AttestationSkill, models.AttestationIntellectual, models.AttestationCommunity, models.AttestationBehavioralWarning:
	default:
		return kredoerr.Newf(kredoerr.Validation, "unknown attestation type %q", a.Type)
	}

	issued, err := time.Parse(time.RFC3339, a.Issued)
	if err != nil {
		return kredoerr.New(kredoerr.Validation, "issued must be RFC3339")
	}
	expires, err := time.Parse(time.RFC3339, a.Expires)
	if err != nil {
		return kredoerr.New(kredoerr.Validation, "expires must be RFC3339")
	}
	if !expires.After(issued) {
		return kredoerr.New(kredoerr.Validation, "expires must be after issued")
	}
	if expires.After(issued.AddDate(2, 0, 0)) {
		return kredoerr.New(kredoerr.Validation, "expires must not exceed issued + 2 years")
	}

	if a.Skill != nil {
		if a.Skill.Proficiency < 1 || a.Skill.Proficiency > 5 {
			return kredoerr.New(kredoerr.Validation, "skill.proficiency must be between 1 and 5")
		}
		if err := s.taxonomy.ValidateSkill(a.Skill.Domain, a.Skill.Specific); err != nil {
			return err
		}
	}

	if a.Type == models.AttestationBehavioralWarning {
		if a.WarningCategory == "" {
			return kredoerr.New(kredoerr.Validation, "behavioral_warning requires warning_category")
		}
		switch a.WarningCategory {
		case models.WarningSpam, models.WarningMalware, models.WarningDeception, models.WarningDataExfiltration, models.WarningImpersonation:
		default:
			return kredoerr.Newf(kredoerr.Validation, "unknown warning_category %q", a.WarningCategory)
		}
		if len(a.Evidence.Context) < 100 {
			return kredoerr.New(kredoerr.Validation, "behavioral_warning requires evidence.context of at least 100 characters")
		}
		if !evidence.HasCategorizedWarningArtifact(a.Evidence.Artifacts) {
			return kredoerr.New(kredoerr.Validation, "behavioral_warning requires at least one log:/hash:/payload: artifact")
		}
	}
	return nil
}

// handleGetAttestation loads a single attestation by id.
func (s *Server) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	a, err := s.db.GetAttestation(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleVerify auto-detects attestation | revocation | dispute by shape
// and reports whether the embedded signature verifies, without persisting
// anything.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}

	signature, _ := doc["signature"].(string)
	var pubkey, kind string
	switch {
	case doc["warning_id"] != nil:
		kind = "dispute"
		if disputor, ok := doc["disputor"].(map[string]any); ok {
			pubkey, _ = disputor["pubkey"].(string)
		}
	case doc["attestation_id"] != nil:
		kind = "revocation"
		if revoker, ok := doc["revoker"].(map[string]any); ok {
			pubkey, _ = revoker["pubkey"].(string)
		}
	default:
		kind = "attestation"
		if attestor, ok := doc["attestor"].(map[string]any); ok {
			pubkey, _ = attestor["pubkey"].(string)
		}
	}

	if verr := verifyDocument(doc, signature, pubkey); verr != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "type": kind, "reason": verr.Message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "type": kind})
}

// handleSearch pushes every filter to the store layer.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pagination(r)

	f := storage.AttestationFilter{
		Subject:        q.Get("subject"),
		Attestor:       q.Get("attestor"),
		Domain:         q.Get("domain"),
		Skill:          q.Get("skill"),
		Type:           q.Get("type"),
		IncludeRevoked: q.Get("include_revoked") == "true",
	}
	if mp := q.Get("min_proficiency"); mp != "" {
		if n, err := strconv.Atoi(mp); err == nil {
			f.MinProficiency = n
		}
	}

	results, err := s.db.ListAttestationsFor(f, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attestations": results})
}

type revokeRequest struct {
	ID            string          `json:"id"`
	AttestationID string          `json:"attestation_id"`
	Revoker       models.PartyRef `json:"revoker"`
	Reason        string          `json:"reason"`
	Issued        string          `json:"issued"`
	Signature     string          `json:"signature"`
}

// handleRevoke accepts a signed revocation of a previously-accepted
// attestation; only the original attestor may revoke.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var doc map[string]any
	var req revokeRequest
	if err := json.Unmarshal(body, &doc); err != nil {
		s.audit(r, "revoke", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "revoke", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "revoke", req.Revoker.Pubkey) {
		return
	}
	if !validPubkeyFormat(req.Revoker.Pubkey) {
		s.audit(r, "revoke", "failure", req.Revoker.Pubkey)
		writeDomainError(w, kredoerr.New(kredoerr.SignatureInvalid, "revoker pubkey is not a valid ed25519: hex key"))
		return
	}
	if verr := verifyDocument(doc, req.Signature, req.Revoker.Pubkey); verr != nil {
		s.audit(r, "revoke", "failure", req.Revoker.Pubkey)
		writeDomainError(w, verr)
		return
	}

	rev := models.Revocation{ID: req.ID, AttestationID: req.AttestationID, Revoker: req.Revoker, Reason: req.Reason, Issued: req.Issued, Signature: req.Signature}
	stored, err := s.db.RevokeAttestation(rev, nowISO(), models.AuditEvent{
		Timestamp: nowISO(), Action: "revoke", Outcome: "success", ActorPubkey: req.Revoker.Pubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

type disputeRequest struct {
	ID        string          `json:"id"`
	WarningID string          `json:"warning_id"`
	Disputor  models.PartyRef `json:"disputor"`
	Response  string          `json:"response"`
	Issued    string          `json:"issued"`
	Signature string          `json:"signature"`
}

// handleDispute accepts a subject's signed response to a behavioral_warning.
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var doc map[string]any
	var req disputeRequest
	if err := json.Unmarshal(body, &doc); err != nil {
		s.audit(r, "dispute", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "dispute", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "dispute", req.Disputor.Pubkey) {
		return
	}
	if !validPubkeyFormat(req.Disputor.Pubkey) {
		s.audit(r, "dispute", "failure", req.Disputor.Pubkey)
		writeDomainError(w, kredoerr.New(kredoerr.SignatureInvalid, "disputor pubkey is not a valid ed25519: hex key"))
		return
	}
	if verr := verifyDocument(doc, req.Signature, req.Disputor.Pubkey); verr != nil {
		s.audit(r, "dispute", "failure", req.Disputor.Pubkey)
		writeDomainError(w, verr)
		return
	}

	disp := models.Dispute{ID: req.ID, WarningID: req.WarningID, Disputor: req.Disputor, Response: req.Response, Issued: req.Issued, Signature: req.Signature}
	stored, err := s.db.InsertDispute(disp, models.AuditEvent{
		Timestamp: nowISO(), Action: "dispute", Outcome: "success", ActorPubkey: req.Disputor.Pubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}
