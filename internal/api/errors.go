package api

import (
	"net/http"
	"time"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

// statusFor maps a kredoerr.Kind to its HTTP status per SPEC_FULL.md §7.
// This is the single place that mapping lives.
func statusFor(kind kredoerr.Kind) int {
	switch kind {
	case kredoerr.Validation, kredoerr.EvidenceInsufficient:
		return http.StatusUnprocessableEntity
	case kredoerr.SignatureInvalid:
		return http.StatusBadRequest
	case kredoerr.NotFound:
		return http.StatusNotFound
	case kredoerr.Conflict:
		return http.StatusConflict
	case kredoerr.Permission:
		return http.StatusForbidden
	case kredoerr.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError translates err into the uniform error envelope. Any
// error that isn't a *kredoerr.Error is reported as server_error without
// leaking internal detail; the caller is expected to have already audited
// the failure with the untranslated message.
func writeDomainError(w http.ResponseWriter, err error) {
	var kerr *kredoerr.Error
	if !kredoerr.As(err, &kerr) {
		writeError(w, http.StatusInternalServerError, string(kredoerr.Server), "internal error", nil)
		return
	}
	if kerr.Kind == kredoerr.RateLimited {
		w.Header().Set("Retry-After", itoa(kerr.RetryAfterSeconds))
	}
	writeError(w, statusFor(kerr.Kind), string(kerr.Kind), kerr.Message, kerr.Details)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// nowISO is the single place the router stamps wall-clock time into
// documents and audit rows, so tests can be reasoned about in terms of
// what gets persisted.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// audit appends a standalone audit row for requests that never reach (or
// fail before) a store write transaction — rate-limited, malformed,
// signature_invalid — per §4.10's "one audit row per write request,
// including failed ones". Successful writes are audited transactionally
// by the store itself; this path only covers the failures that precede
// that transaction.
func (s *Server) audit(r *http.Request, action, outcome, actorPubkey string) {
	_ = s.db.AppendAudit(models.AuditEvent{
		Timestamp:    nowISO(),
		Action:       action,
		Outcome:      outcome,
		ActorPubkey:  actorPubkey,
		SourceIP:     clientIP(r),
		SourceIPHash: hashIP(clientIP(r)),
		UserAgent:    r.UserAgent(),
	})
}

// checkRateLimit enforces the limiter for action/key, writing a 429 and an
// audit row on denial. Returns true if the request may proceed.
func (s *Server) checkRateLimit(w http.ResponseWriter, r *http.Request, action, key string) bool {
	allowed, retryAfter := s.limiter.Allow(action, key)
	if allowed {
		return true
	}
	s.audit(r, action, "failure", key)
	rerr := kredoerr.RateLimit(int(retryAfter.Seconds()))
	writeDomainError(w, rerr)
	return false
}
