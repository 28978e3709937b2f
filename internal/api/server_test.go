package api

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kredo-network/kredo/internal/canonical"
	"github.com/kredo-network/kredo/internal/ratelimit"
	"github.com/kredo-network/kredo/internal/storage"
	"github.com/kredo-network/kredo/internal/taxonomy"
	"github.com/kredo-network/kredo/internal/trust"
)

// testServer wires a fresh in-memory-backed Server for each test, mirroring
// the teacher's testDB helper pattern.
func testServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := trust.NewEngine(db, time.Minute)
	registry := taxonomy.New(db)
	limiter := ratelimit.New(ratelimit.NewMemoryBackend(), ratelimit.DefaultRules())
	return New(db, engine, registry, limiter, 0)
}

type keypair struct {
	pub  string
	priv ed25519.PrivateKey
}

func genKeypair(t *testing.T) keypair {
	t.Helper()
	rawPub, rawPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return keypair{pub: "ed25519:" + hex.EncodeToString(rawPub), priv: rawPriv}
}

func (k keypair) signFields(t *testing.T, fields map[string]any) string {
	t.Helper()
	msg, err := canonical.Encode(fields)
	if err != nil {
		t.Fatalf("canonical.Encode: %v", err)
	}
	return hex.EncodeToString(ed25519.Sign(k.priv, msg))
}

func (k keypair) signDocument(t *testing.T, doc map[string]any) string {
	t.Helper()
	view := canonical.SignableView(doc, "evidence_score", "revoked_at", "revoker_pubkey")
	return k.signFields(t, view)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response body %q: %v", rr.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)
	rr := doJSON(t, s, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

// doJSONFromIP is like doJSON but lets the caller pin RemoteAddr, since
// register_unsigned is rate limited per source IP rather than per pubkey.
func doJSONFromIP(t *testing.T, s *Server, method, path, remoteAddr string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, jsonBody(t, body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestHandleRegisterUnsigned_CreatesThenConflicts(t *testing.T) {
	s := testServer(t)
	k := genKeypair(t)

	rr := doJSONFromIP(t, s, "POST", "/register", "198.51.100.1:1", map[string]string{"pubkey": k.pub, "name": "agent-1", "type": "agent"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("first register status = %d, want 201, body=%s", rr.Code, rr.Body.String())
	}

	rr2 := doJSONFromIP(t, s, "POST", "/register", "198.51.100.2:1", map[string]string{"pubkey": k.pub, "name": "renamed", "type": "agent"})
	if rr2.Code != http.StatusConflict {
		t.Fatalf("second register status = %d, want 409, body=%s", rr2.Code, rr2.Body.String())
	}
	var env errorEnvelope
	decodeBody(t, rr2, &env)
	if env.Error != "conflict" {
		t.Errorf("error kind = %q, want conflict", env.Error)
	}
}

func TestHandleRegisterUnsigned_RejectsBadType(t *testing.T) {
	s := testServer(t)
	k := genKeypair(t)
	rr := doJSONFromIP(t, s, "POST", "/register", "198.51.100.3:1", map[string]string{"pubkey": k.pub, "name": "x", "type": "robot"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleRegisterUnsigned_RateLimited(t *testing.T) {
	s := testServer(t)
	k1, k2 := genKeypair(t), genKeypair(t)

	req1 := httptest.NewRequest("POST", "/register", jsonBody(t, map[string]string{"pubkey": k1.pub, "name": "a", "type": "agent"}))
	req1.RemoteAddr = "203.0.113.1:1234"
	rr1 := httptest.NewRecorder()
	s.ServeHTTP(rr1, req1)
	if rr1.Code != http.StatusCreated {
		t.Fatalf("first request status = %d, want 201", rr1.Code)
	}

	req2 := httptest.NewRequest("POST", "/register", jsonBody(t, map[string]string{"pubkey": k2.pub, "name": "b", "type": "agent"}))
	req2.RemoteAddr = "203.0.113.1:5678"
	rr2 := httptest.NewRecorder()
	s.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same IP status = %d, want 429, body=%s", rr2.Code, rr2.Body.String())
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &buf
}

func TestHandleRegisterUpdate_RequiresValidSignature(t *testing.T) {
	s := testServer(t)
	k := genKeypair(t)
	doJSON(t, s, "POST", "/register", map[string]string{"pubkey": k.pub, "name": "a", "type": "agent"})

	sig := k.signFields(t, map[string]any{"action": "register_update", "pubkey": k.pub, "name": "b", "type": "agent"})
	rr := doJSON(t, s, "POST", "/register/update", map[string]string{"pubkey": k.pub, "name": "b", "type": "agent", "signature": sig})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}

	rr2 := doJSON(t, s, "POST", "/register/update", map[string]string{"pubkey": k.pub, "name": "c", "type": "agent", "signature": "00"})
	if rr2.Code != http.StatusBadRequest {
		t.Fatalf("bad signature status = %d, want 400, body=%s", rr2.Code, rr2.Body.String())
	}
}

func registerAndAttest(t *testing.T, s *Server, subject, attestor keypair) map[string]any {
	t.Helper()
	doJSONFromIP(t, s, "POST", "/register", "198.51.100.10:1", map[string]string{"pubkey": subject.pub, "name": "subject", "type": "agent"})
	doJSONFromIP(t, s, "POST", "/register", "198.51.100.11:1", map[string]string{"pubkey": attestor.pub, "name": "attestor", "type": "agent"})

	issued := "2026-01-01T00:00:00Z"
	expires := "2026-06-01T00:00:00Z"
	doc := map[string]any{
		"id":      "att-1",
		"kredo":   "1.0",
		"type":    "skill_attestation",
		"subject": map[string]any{"pubkey": subject.pub, "name": "subject"},
		"attestor": map[string]any{"pubkey": attestor.pub, "name": "attestor", "type": "agent"},
		"skill":   map[string]any{"domain": "code-generation", "specific": "code-review", "proficiency": 4},
		"evidence": map[string]any{
			"context":   "Reviewed and merged a 900-line refactor of the payment service's retry logic; caught a deadlock in code review. See https://example.com/pr/42",
			"artifacts": []any{"pr:https://example.com/pr/42"},
			"outcome":   "merged",
		},
		"issued":  issued,
		"expires": expires,
	}
	doc["signature"] = attestor.signDocument(t, doc)
	return doc
}

func TestHandleCreateAttestation_AndGet(t *testing.T) {
	s := testServer(t)
	subject, attestor := genKeypair(t), genKeypair(t)
	doc := registerAndAttest(t, s, subject, attestor)

	rr := doJSON(t, s, "POST", "/attestations", doc)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body=%s", rr.Code, rr.Body.String())
	}

	rr2 := doJSON(t, s, "GET", "/attestations/att-1", nil)
	if rr2.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200, body=%s", rr2.Code, rr2.Body.String())
	}
	var got map[string]any
	decodeBody(t, rr2, &got)
	if got["id"] != "att-1" {
		t.Errorf("id = %v, want att-1", got["id"])
	}
}

func TestHandleCreateAttestation_RejectsTamperedSignature(t *testing.T) {
	s := testServer(t)
	subject, attestor := genKeypair(t), genKeypair(t)
	doc := registerAndAttest(t, s, subject, attestor)
	doc["evidence"].(map[string]any)["outcome"] = "tampered after signing"

	rr := doJSON(t, s, "POST", "/attestations", doc)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleCreateAttestation_BehavioralWarningRequiresEvidence(t *testing.T) {
	s := testServer(t)
	subject, attestor := genKeypair(t), genKeypair(t)
	doJSONFromIP(t, s, "POST", "/register", "198.51.100.12:1", map[string]string{"pubkey": subject.pub, "name": "s", "type": "agent"})
	doJSONFromIP(t, s, "POST", "/register", "198.51.100.13:1", map[string]string{"pubkey": attestor.pub, "name": "a", "type": "agent"})

	doc := map[string]any{
		"id":               "warn-1",
		"kredo":            "1.0",
		"type":             "behavioral_warning",
		"subject":          map[string]any{"pubkey": subject.pub},
		"attestor":         map[string]any{"pubkey": attestor.pub, "type": "agent"},
		"warning_category": "spam",
		"evidence":         map[string]any{"context": "too short", "artifacts": []any{}},
		"issued":           "2026-01-01T00:00:00Z",
		"expires":          "2026-02-01T00:00:00Z",
	}
	doc["signature"] = attestor.signDocument(t, doc)

	rr := doJSON(t, s, "POST", "/attestations", doc)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleRevoke_OnlyOriginalAttestorMayRevoke(t *testing.T) {
	s := testServer(t)
	subject, attestor := genKeypair(t), genKeypair(t)
	impostor := genKeypair(t)
	doc := registerAndAttest(t, s, subject, attestor)
	doJSON(t, s, "POST", "/attestations", doc)

	revDoc := map[string]any{
		"id":             "rev-1",
		"attestation_id": "att-1",
		"revoker":        map[string]any{"pubkey": impostor.pub},
		"reason":         "mistaken identity",
		"issued":         "2026-01-02T00:00:00Z",
	}
	revDoc["signature"] = impostor.signDocument(t, revDoc)
	rr := doJSON(t, s, "POST", "/revoke", revDoc)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body=%s", rr.Code, rr.Body.String())
	}

	revDoc2 := map[string]any{
		"id":             "rev-2",
		"attestation_id": "att-1",
		"revoker":        map[string]any{"pubkey": attestor.pub},
		"reason":         "no longer stands",
		"issued":         "2026-01-02T00:00:00Z",
	}
	revDoc2["signature"] = attestor.signDocument(t, revDoc2)
	rr2 := doJSON(t, s, "POST", "/revoke", revDoc2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr2.Code, rr2.Body.String())
	}
}

func TestHandleOwnershipClaim_RejectsUnsignedClaim(t *testing.T) {
	s := testServer(t)
	agent, human := genKeypair(t), genKeypair(t)
	doJSONFromIP(t, s, "POST", "/register", "198.51.100.14:1", map[string]string{"pubkey": agent.pub, "name": "agent-1", "type": "agent"})
	doJSONFromIP(t, s, "POST", "/register", "198.51.100.15:1", map[string]string{"pubkey": human.pub, "name": "human-1", "type": "human"})

	// No claim_id is sent, so the server mints one; an empty signature
	// cannot verify against the resulting claim payload.
	rr := doJSON(t, s, "POST", "/ownership/claim", map[string]string{
		"agent_pubkey": agent.pub, "human_pubkey": human.pub,
		"signature": "",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unsigned claim, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleTaxonomyList(t *testing.T) {
	s := testServer(t)
	rr := doJSON(t, s, "GET", "/taxonomy", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	domains, ok := body["domains"].([]any)
	if !ok || len(domains) == 0 {
		t.Fatal("expected at least one seed domain")
	}
}

func TestHandleTaxonomyCreateDomain_RequiresValidIdentifier(t *testing.T) {
	s := testServer(t)
	k := genKeypair(t)
	doJSON(t, s, "POST", "/register", map[string]string{"pubkey": k.pub, "name": "a", "type": "human"})

	sig := k.signFields(t, map[string]any{"action": "create_domain", "slug": "Not Valid!", "label": "x", "pubkey": k.pub})
	rr := doJSON(t, s, "POST", "/taxonomy/domains", map[string]string{"slug": "Not Valid!", "label": "x", "pubkey": k.pub, "signature": sig})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleTaxonomyCreateDomain_ThenListsIt(t *testing.T) {
	s := testServer(t)
	k := genKeypair(t)
	doJSON(t, s, "POST", "/register", map[string]string{"pubkey": k.pub, "name": "a", "type": "human"})

	sig := k.signFields(t, map[string]any{"action": "create_domain", "slug": "test-domain", "label": "Test Domain", "pubkey": k.pub})
	rr := doJSON(t, s, "POST", "/taxonomy/domains", map[string]string{"slug": "test-domain", "label": "Test Domain", "pubkey": k.pub, "signature": sig})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rr.Code, rr.Body.String())
	}

	rr2 := doJSON(t, s, "GET", "/taxonomy", nil)
	var body map[string]any
	decodeBody(t, rr2, &body)
	found := false
	for _, d := range body["domains"].([]any) {
		if d.(map[string]any)["slug"] == "test-domain" {
			found = true
		}
	}
	if !found {
		t.Fatal("newly created domain not present in taxonomy listing")
	}
}
