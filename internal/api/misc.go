package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

// handleSourceAnomalies surfaces source IPs generating unusually high
// write-request volume across distinct actor pubkeys — a signal of
// coordinated sybil registration, not a verdict in itself.
func (s *Server) handleSourceAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	hours := 24
	if v := q.Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}
	minEvents := 10
	if v := q.Get("min_events"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			minEvents = n
		}
	}
	minUniqueActors := 3
	if v := q.Get("min_unique_actors"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			minUniqueActors = n
		}
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	since := timeNow().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339)
	signals, err := s.db.SourceAnomalySignals(since, minEvents, minUniqueActors, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": signals})
}

type setContactEmailRequest struct {
	Pubkey    string `json:"pubkey"`
	Email     string `json:"email"`
	Signature string `json:"signature"`
}

// handleSetContactEmail upserts a human-contact email, signed by the
// owning pubkey.
func (s *Server) handleSetContactEmail(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req setContactEmailRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.audit(r, "contact_email", "failure", "")
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if !s.checkRateLimit(w, r, "contact_email", req.Pubkey) {
		return
	}
	if !strings.Contains(req.Email, "@") {
		s.audit(r, "contact_email", "failure", req.Pubkey)
		writeDomainError(w, kredoerr.New(kredoerr.Validation, "email is not well-formed"))
		return
	}

	payload := map[string]any{"action": "set_contact_email", "pubkey": req.Pubkey, "email": req.Email}
	if verr := verifyFields(payload, req.Signature, req.Pubkey); verr != nil {
		s.audit(r, "contact_email", "failure", req.Pubkey)
		writeDomainError(w, verr)
		return
	}

	if err := s.db.SetContactEmail(req.Pubkey, req.Email, nowISO(), models.AuditEvent{
		Timestamp: nowISO(), Action: "contact_email", Outcome: "success", ActorPubkey: req.Pubkey,
		SourceIP: clientIP(r), SourceIPHash: hashIP(clientIP(r)), UserAgent: r.UserAgent(),
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pubkey": req.Pubkey})
}

// handleListUnpinned lists artifact CIDs still awaiting the external
// pinning helper.
func (s *Server) handleListUnpinned(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r)
	records, err := s.db.ListUnpinned(limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pins": records})
}

// handleMarkPinned records that the external pinning helper has confirmed
// a CID is pinned.
func (s *Server) handleMarkPinned(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	if err := s.db.MarkPinned(cid, nowISO()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cid": cid, "pin_status": models.PinPinned})
}
