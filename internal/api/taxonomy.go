package api

import (
	"encoding/json"
	"net/http"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
	"github.com/kredo-network/kredo/internal/taxonomy"
)

// handleTaxonomyList returns every domain, seed plus custom.
func (s *Server) handleTaxonomyList(w http.ResponseWriter, r *http.Request) {
	domains, err := s.taxonomy.Domains()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

// handleTaxonomySkills returns the skills under one domain.
func (s *Server) handleTaxonomySkills(w http.ResponseWriter, r *http.Request) {
	skills, err := s.taxonomy.Skills(r.PathValue("domain"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

type createDomainRequest struct {
	Slug      string `json:"slug"`
	Label     string `json:"label"`
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// handleTaxonomyCreateDomain adds a creator-owned custom domain. Rate
// limited under "taxonomy_propose_domain", matching ratelimit.DefaultRules.
func (s *Server) handleTaxonomyCreateDomain(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req createDomainRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "taxonomy_propose_domain", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "taxonomy_propose_domain", req.Pubkey) {
		return
	}
	if !taxonomy.ValidIdentifier(req.Slug) {
		s.audit(r, "taxonomy_propose_domain", "failure", req.Pubkey)
		writeDomainError(w, kredoerr.Newf(kredoerr.Validation, "slug %q is not a valid taxonomy identifier", req.Slug))
		return
	}

	payload := map[string]any{"action": "create_domain", "slug": req.Slug, "label": req.Label, "pubkey": req.Pubkey}
	if verr := verifyFields(payload, req.Signature, req.Pubkey); verr != nil {
		s.audit(r, "taxonomy_propose_domain", "failure", req.Pubkey)
		writeDomainError(w, verr)
		return
	}

	if err := s.db.CreateCustomDomain(req.Slug, req.Label, req.Pubkey, nowISO(), models.AuditEvent{
		Timestamp: nowISO(), Action: "taxonomy_propose_domain", Outcome: "success", ActorPubkey: req.Pubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	s.taxonomy.Invalidate()
	writeJSON(w, http.StatusCreated, map[string]any{"slug": req.Slug, "label": req.Label})
}

type deleteDomainRequest struct {
	Slug      string `json:"slug"`
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// handleTaxonomyDeleteDomain removes a custom domain; creator-only.
func (s *Server) handleTaxonomyDeleteDomain(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req deleteDomainRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "taxonomy_delete_domain", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	req.Slug = r.PathValue("slug")
	if !s.checkRateLimit(w, r, "taxonomy_delete_domain", req.Pubkey) {
		return
	}

	payload := map[string]any{"action": "delete_domain", "slug": req.Slug, "pubkey": req.Pubkey}
	if verr := verifyFields(payload, req.Signature, req.Pubkey); verr != nil {
		s.audit(r, "taxonomy_delete_domain", "failure", req.Pubkey)
		writeDomainError(w, verr)
		return
	}

	if err := s.db.DeleteCustomDomain(req.Slug, req.Pubkey, models.AuditEvent{
		Timestamp: nowISO(), Action: "taxonomy_delete_domain", Outcome: "success", ActorPubkey: req.Pubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	s.taxonomy.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

type createSkillRequest struct {
	Domain    string `json:"domain"`
	Slug      string `json:"slug"`
	Label     string `json:"label"`
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// handleTaxonomyCreateSkill adds a creator-owned custom skill under an
// existing domain.
func (s *Server) handleTaxonomyCreateSkill(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req createSkillRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "taxonomy_propose_skill", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "taxonomy_propose_skill", req.Pubkey) {
		return
	}
	if !taxonomy.ValidIdentifier(req.Slug) {
		s.audit(r, "taxonomy_propose_skill", "failure", req.Pubkey)
		writeDomainError(w, kredoerr.Newf(kredoerr.Validation, "slug %q is not a valid taxonomy identifier", req.Slug))
		return
	}

	domains, err := s.taxonomy.Domains()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	found := false
	for _, d := range domains {
		if d.Slug == req.Domain {
			found = true
			break
		}
	}
	if !found {
		s.audit(r, "taxonomy_propose_skill", "failure", req.Pubkey)
		writeDomainError(w, kredoerr.Newf(kredoerr.Validation, "unknown domain %q", req.Domain))
		return
	}

	payload := map[string]any{"action": "create_skill", "domain": req.Domain, "slug": req.Slug, "label": req.Label, "pubkey": req.Pubkey}
	if verr := verifyFields(payload, req.Signature, req.Pubkey); verr != nil {
		s.audit(r, "taxonomy_propose_skill", "failure", req.Pubkey)
		writeDomainError(w, verr)
		return
	}

	if err := s.db.CreateCustomSkill(req.Domain, req.Slug, req.Label, req.Pubkey, nowISO(), models.AuditEvent{
		Timestamp: nowISO(), Action: "taxonomy_propose_skill", Outcome: "success", ActorPubkey: req.Pubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	s.taxonomy.Invalidate()
	writeJSON(w, http.StatusCreated, map[string]any{"domain": req.Domain, "slug": req.Slug, "label": req.Label})
}

type deleteSkillRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// handleTaxonomyDeleteSkill removes a custom skill; creator-only.
func (s *Server) handleTaxonomyDeleteSkill(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req deleteSkillRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "taxonomy_delete_skill", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	domain := r.PathValue("domain")
	slug := r.PathValue("slug")
	if !s.checkRateLimit(w, r, "taxonomy_delete_skill", req.Pubkey) {
		return
	}

	payload := map[string]any{"action": "delete_skill", "domain": domain, "slug": slug, "pubkey": req.Pubkey}
	if verr := verifyFields(payload, req.Signature, req.Pubkey); verr != nil {
		s.audit(r, "taxonomy_delete_skill", "failure", req.Pubkey)
		writeDomainError(w, verr)
		return
	}

	if err := s.db.DeleteCustomSkill(domain, slug, req.Pubkey, models.AuditEvent{
		Timestamp: nowISO(), Action: "taxonomy_delete_skill", Outcome: "success", ActorPubkey: req.Pubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	s.taxonomy.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}
