package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

type registerUnsignedRequest struct {
	Pubkey string `json:"pubkey"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// handleRegisterUnsigned is the unauthenticated first-sight registration:
// 201 when the identity is newly created, 409 (existing, unchanged) when
// it already exists — RegisterUnsigned never overwrites name/type.
func (s *Server) handleRegisterUnsigned(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.checkRateLimit(w, r, "register_unsigned", ip) {
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req registerUnsignedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "register_unsigned", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if err := validateRegistration(req.Pubkey, req.Name, req.Type); err != nil {
		s.audit(r, "register_unsigned", "failure", req.Pubkey)
		writeDomainError(w, err)
		return
	}

	view, created, err := s.db.RegisterUnsigned(req.Pubkey, req.Name, req.Type, nowISO())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if created {
		writeJSON(w, http.StatusCreated, view)
		return
	}
	writeError(w, http.StatusConflict, "conflict", "pubkey already registered", map[string]any{"identity": view})
}

type registerUpdateRequest struct {
	Pubkey    string `json:"pubkey"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Signature string `json:"signature"`
}

// handleRegisterUpdate is the signed metadata-change path.
func (s *Server) handleRegisterUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req registerUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "register_update", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "register_update", req.Pubkey) {
		return
	}
	if err := validateRegistration(req.Pubkey, req.Name, req.Type); err != nil {
		s.audit(r, "register_update", "failure", req.Pubkey)
		writeDomainError(w, err)
		return
	}

	payload := map[string]any{"action": "register_update", "pubkey": req.Pubkey, "name": req.Name, "type": req.Type}
	if verr := verifyFields(payload, req.Signature, req.Pubkey); verr != nil {
		s.audit(r, "register_update", "failure", req.Pubkey)
		writeDomainError(w, verr)
		return
	}

	view, err := s.db.RegisterUpdate(req.Pubkey, req.Name, req.Type, nowISO())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func validateRegistration(pubkey, name, typ string) error {
	if len(name) > 120 {
		return kredoerr.New(kredoerr.Validation, "name must be at most 120 characters")
	}
	if typ != "agent" && typ != "human" {
		return kredoerr.Newf(kredoerr.Validation, "type must be agent or human, got %q", typ)
	}
	if !validPubkeyFormat(pubkey) {
		return kredoerr.New(kredoerr.SignatureInvalid, "pubkey is not a valid ed25519: hex key")
	}
	return nil
}

// handleListAgents returns the identity directory, newest-first, paginated.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	identities, err := s.db.ListIdentities(limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": identities})
}

// handleGetAgent returns a single identity by pubkey.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	pubkey := r.PathValue("pubkey")
	identity, err := s.db.GetIdentity(pubkey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// profileDTO is the full GET /agents/{pubkey}/profile response, layering
// the trust engine's derived analysis on top of the store's raw
// ProfileBundle join, per SPEC_FULL.md §4.6.
type profileDTO struct {
	Pubkey            string                 `json:"pubkey"`
	Name              string                 `json:"name"`
	Type              string                 `json:"type"`
	Registered        string                 `json:"registered"`
	LastSeen          string                 `json:"last_seen"`
	AttestationCount  attestationCountDTO    `json:"attestation_count"`
	EvidenceQualityAvg float64               `json:"evidence_quality_avg"`
	Skills            []skillDTO             `json:"skills"`
	Warnings          []warningDTO           `json:"warnings"`
	TrustNetwork      []trustNetworkDTO      `json:"trust_network"`
	TrustAnalysis     any                    `json:"trust_analysis"`
	Accountability    any                    `json:"accountability"`
	Integrity         any                    `json:"integrity"`
	DeployabilityScore float64               `json:"deployability_score"`
	DeployabilityMult  float64               `json:"deployability_multiplier"`
}

type attestationCountDTO struct {
	Total    int `json:"total"`
	ByAgents int `json:"by_agents"`
	ByHumans int `json:"by_humans"`
}

type skillDTO struct {
	Domain                 string  `json:"domain"`
	Specific                string  `json:"specific"`
	AvgProficiency          float64 `json:"avg_proficiency"`
	WeightedAvgProficiency  float64 `json:"weighted_avg_proficiency"`
	AttestationCount        int     `json:"attestation_count"`
}

type warningDTO struct {
	ID           string               `json:"id"`
	Category     models.WarningCategory `json:"category"`
	Attestor     models.AttestorRef   `json:"attestor"`
	Issued       string               `json:"issued"`
	IsRevoked    bool                 `json:"is_revoked"`
	DisputeCount int                  `json:"dispute_count"`
}

type trustNetworkDTO struct {
	Pubkey           string `json:"pubkey"`
	Type             string `json:"type"`
	AttestationCount int    `json:"attestation_count_for_subject"`
}

// handleAgentProfile assembles the full profile DTO.
func (s *Server) handleAgentProfile(w http.ResponseWriter, r *http.Request) {
	pubkey := r.PathValue("pubkey")

	bundle, err := s.db.GetProfileBundle(pubkey)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := timeNow()
	analysis, err := s.trust.Analyze(pubkey, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	acc, err := s.trust.Accountability(pubkey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	integ, err := s.trust.Integrity(pubkey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	score, multiplier, err := s.trust.Deployability(pubkey, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := profileDTO{
		Pubkey:     bundle.Identity.Pubkey,
		Name:       bundle.Identity.Name,
		Type:       bundle.Identity.Type,
		Registered: bundle.Identity.FirstSeen,
		LastSeen:   bundle.Identity.LastSeen,
		AttestationCount: attestationCountDTO{
			Total: bundle.AttestationTotal, ByAgents: bundle.AttestationByAgents, ByHumans: bundle.AttestationByHumans,
		},
		EvidenceQualityAvg: bundle.EvidenceQualityAvg,
		TrustAnalysis:      analysis,
		Accountability:     acc,
		Integrity:          integ,
		DeployabilityScore: score,
		DeployabilityMult:  multiplier,
	}
	for _, sk := range bundle.Skills {
		dto.Skills = append(dto.Skills, skillDTO{
			Domain: sk.Domain, Specific: sk.Specific, AvgProficiency: sk.AvgProficiency,
			WeightedAvgProficiency: sk.WeightedAvgProficiency, AttestationCount: sk.AttestationCount,
		})
	}
	for _, wn := range bundle.Warnings {
		dto.Warnings = append(dto.Warnings, warningDTO{
			ID: wn.ID, Category: wn.Category, Attestor: wn.Attestor, Issued: wn.Issued,
			IsRevoked: wn.IsRevoked, DisputeCount: wn.DisputeCount,
		})
	}
	for _, tn := range bundle.TrustNetwork {
		dto.TrustNetwork = append(dto.TrustNetwork, trustNetworkDTO{
			Pubkey: tn.Pubkey, Type: tn.Type, AttestationCount: tn.AttestationCountForSubject,
		})
	}

	writeJSON(w, http.StatusOK, dto)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
