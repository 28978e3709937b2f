// Package api is the Router (C8): request parsing, shape validation,
// rate-limit enforcement, delegation to the store and engines, error
// envelope assembly, and audit emission. It is built directly on the
// teacher's server.go idiom — a Server struct holding the store plus
// engine handles and an *http.ServeMux, Go 1.22+ "METHOD /path"
// registration in routes(), writeJSON/writeError helpers — generalized to
// the uniform {error, message, details?} envelope and wired to the domain
// error taxonomy in internal/kredoerr.
package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"time"

	"github.com/kredo-network/kredo/internal/ratelimit"
	"github.com/kredo-network/kredo/internal/signing"
	"github.com/kredo-network/kredo/internal/storage"
	"github.com/kredo-network/kredo/internal/taxonomy"
	"github.com/kredo-network/kredo/internal/trust"
)

// validPubkeyFormat reports whether pubkey is structurally well-formed.
func validPubkeyFormat(pubkey string) bool {
	return signing.ValidPubkeyFormat(pubkey)
}

// timeNow is the single indirection point for "now" across handlers.
func timeNow() time.Time {
	return time.Now().UTC()
}

// MaxBodyBytesDefault is the default cap on request body size, matching
// the teacher's 64 KiB content cap in handleAgentPublish.
const MaxBodyBytesDefault = 65536

// Server is the main HTTP server for the Kredo discovery/reputation API.
type Server struct {
	db       *storage.DB
	trust    *trust.Engine
	taxonomy *taxonomy.Registry
	limiter  *ratelimit.Limiter

	maxBodyBytes int64
	mux          *http.ServeMux
}

// New creates a Server with all routes registered. maxBodyBytes falls
// back to MaxBodyBytesDefault when <= 0.
func New(db *storage.DB, engine *trust.Engine, registry *taxonomy.Registry, limiter *ratelimit.Limiter, maxBodyBytes int64) *Server {
	if maxBodyBytes <= 0 {
		maxBodyBytes = MaxBodyBytesDefault
	}
	s := &Server{
		db:           db,
		trust:        engine,
		taxonomy:     registry,
		limiter:      limiter,
		maxBodyBytes: maxBodyBytes,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers every endpoint in the HTTP surface.
func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /register", s.handleRegisterUnsigned)
	s.mux.HandleFunc("POST /register/update", s.handleRegisterUpdate)
	s.mux.HandleFunc("GET /agents", s.handleListAgents)
	s.mux.HandleFunc("GET /agents/{pubkey}", s.handleGetAgent)
	s.mux.HandleFunc("GET /agents/{pubkey}/profile", s.handleAgentProfile)

	s.mux.HandleFunc("POST /attestations", s.handleCreateAttestation)
	s.mux.HandleFunc("GET /attestations/{id}", s.handleGetAttestation)
	s.mux.HandleFunc("POST /verify", s.handleVerify)
	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("POST /revoke", s.handleRevoke)
	s.mux.HandleFunc("POST /dispute", s.handleDispute)

	s.mux.HandleFunc("GET /trust/who-attested/{pubkey}", s.handleWhoAttested)
	s.mux.HandleFunc("GET /trust/attested-by/{pubkey}", s.handleAttestedBy)
	s.mux.HandleFunc("GET /trust/analysis/{pubkey}", s.handleTrustAnalysis)
	s.mux.HandleFunc("GET /trust/rings", s.handleTrustRings)
	s.mux.HandleFunc("GET /trust/network-health", s.handleNetworkHealth)

	s.mux.HandleFunc("POST /ownership/claim", s.handleOwnershipClaim)
	s.mux.HandleFunc("POST /ownership/confirm", s.handleOwnershipConfirm)
	s.mux.HandleFunc("POST /ownership/revoke", s.handleOwnershipRevoke)
	s.mux.HandleFunc("GET /ownership/agent/{pubkey}", s.handleOwnershipForAgent)

	s.mux.HandleFunc("POST /integrity/baseline/set", s.handleIntegrityBaselineSet)
	s.mux.HandleFunc("POST /integrity/check", s.handleIntegrityCheck)
	s.mux.HandleFunc("GET /integrity/status/{pubkey}", s.handleIntegrityStatus)

	s.mux.HandleFunc("GET /taxonomy", s.handleTaxonomyList)
	s.mux.HandleFunc("GET /taxonomy/{domain}", s.handleTaxonomySkills)
	s.mux.HandleFunc("POST /taxonomy/domains", s.handleTaxonomyCreateDomain)
	s.mux.HandleFunc("DELETE /taxonomy/domains/{slug}", s.handleTaxonomyDeleteDomain)
	s.mux.HandleFunc("POST /taxonomy/skills", s.handleTaxonomyCreateSkill)
	s.mux.HandleFunc("DELETE /taxonomy/domains/{domain}/skills/{slug}", s.handleTaxonomyDeleteSkill)

	s.mux.HandleFunc("GET /risk/source-anomalies", s.handleSourceAnomalies)

	s.mux.HandleFunc("POST /contact/email", s.handleSetContactEmail)
	s.mux.HandleFunc("GET /pins/unpinned", s.handleListUnpinned)
	s.mux.HandleFunc("POST /pins/{cid}/mark-pinned", s.handleMarkPinned)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": "1.0",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorEnvelope is the uniform {error, message, details?} shape every
// non-2xx response shares.
type errorEnvelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError writes the uniform error envelope with the given kind/status.
func writeError(w http.ResponseWriter, status int, kind, message string, details map[string]any) {
	writeJSON(w, status, errorEnvelope{Error: kind, Message: message, Details: details})
}

// readBody reads the full request body through the server's max-body-bytes
// limiter, mirroring the teacher's 64 KiB cap on handleAgentPublish.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		return []byte{}, true
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "validation_error", "request body too large or unreadable", nil)
		return nil, false
	}
	return body, true
}

// clientIP extracts the client IP from a request, respecting
// X-Forwarded-For for proxied deployments — the same rule the teacher's
// internal/server/ratelimit.go applies.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// hashIP returns the hex sha256 of ip, the form persisted as
// AuditEvent.SourceIPHash so raw IPs are never written to the audit log.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}
