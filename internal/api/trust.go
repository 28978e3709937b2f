package api

import (
	"net/http"

	"github.com/kredo-network/kredo/internal/storage"
)

// handleWhoAttested lists attestations where pubkey is the subject — the
// reputation a pubkey has received.
func (s *Server) handleWhoAttested(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	results, err := s.db.ListAttestationsFor(storage.AttestationFilter{Subject: r.PathValue("pubkey")}, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attestations": results})
}

// handleAttestedBy lists attestations where pubkey is the attestor — the
// reputation a pubkey has extended to others.
func (s *Server) handleAttestedBy(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	results, err := s.db.ListAttestationsFor(storage.AttestationFilter{Attestor: r.PathValue("pubkey")}, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attestations": results})
}

// handleTrustAnalysis returns the recursive reputation walk for one pubkey.
func (s *Server) handleTrustAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.trust.Analyze(r.PathValue("pubkey"), timeNow())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleTrustRings returns every detected mutual-pair or clique ring.
func (s *Server) handleTrustRings(w http.ResponseWriter, r *http.Request) {
	rings, err := s.trust.Rings()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rings": rings})
}

// handleNetworkHealth returns the network-wide reputation health summary.
func (s *Server) handleNetworkHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.trust.NetworkHealth()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}
