package storage

import (
	"testing"

	"github.com/kredo-network/kredo/internal/models"
)

func sampleAttestation(id, subject, attestor string) models.Attestation {
	return models.Attestation{
		ID:      id,
		Kredo:   "1.0",
		Type:    models.AttestationSkill,
		Subject: models.PartyRef{Pubkey: subject, Name: "subject-agent"},
		Attestor: models.AttestorRef{Pubkey: attestor, Name: "attestor-agent", Type: "agent"},
		Skill:   &models.Skill{Domain: "code-generation", Specific: "refactoring", Proficiency: 4},
		Evidence: models.Evidence{
			Context:   "paired on a migration",
			Artifacts: []string{"https://example.test/pr/42"},
		},
		Issued:        "2026-01-01T00:00:00Z",
		Expires:       "2027-01-01T00:00:00Z",
		Signature:     mustRepeat("a", 128),
		EvidenceScore: &models.EvidenceScore{Specificity: 0.8, Verifiability: 0.7, Relevance: 0.9, Recency: 1.0, Composite: 0.8},
	}
}

func TestInsertAttestation_RoundTrips(t *testing.T) {
	db := testDB(t)
	a := sampleAttestation("att-1", "ed25519:"+mustRepeat("1", 64), "ed25519:"+mustRepeat("2", 64))

	if _, err := db.InsertAttestation(a, "2026-01-01T00:00:00Z", testAudit("attest")); err != nil {
		t.Fatalf("InsertAttestation: %v", err)
	}

	got, err := db.GetAttestation("att-1")
	if err != nil {
		t.Fatalf("GetAttestation: %v", err)
	}
	if got.Skill == nil || got.Skill.Domain != "code-generation" || got.Skill.Proficiency != 4 {
		t.Fatalf("skill not round-tripped: %+v", got.Skill)
	}
	if len(got.Evidence.Artifacts) != 1 || got.Evidence.Artifacts[0] != "https://example.test/pr/42" {
		t.Fatalf("artifacts not round-tripped: %+v", got.Evidence.Artifacts)
	}
	if got.EvidenceScore == nil || got.EvidenceScore.Composite != 0.8 {
		t.Fatalf("evidence score not round-tripped: %+v", got.EvidenceScore)
	}
}

func TestInsertAttestation_RejectsDuplicateID(t *testing.T) {
	db := testDB(t)
	a := sampleAttestation("dup-1", "ed25519:"+mustRepeat("1", 64), "ed25519:"+mustRepeat("2", 64))
	if _, err := db.InsertAttestation(a, "2026-01-01T00:00:00Z", testAudit("attest")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.InsertAttestation(a, "2026-01-01T00:00:00Z", testAudit("attest")); err == nil {
		t.Fatal("expected conflict on duplicate id")
	}
}

func TestRevokeAttestation_OnlyOriginalAttestor(t *testing.T) {
	db := testDB(t)
	subject := "ed25519:" + mustRepeat("1", 64)
	attestor := "ed25519:" + mustRepeat("2", 64)
	other := "ed25519:" + mustRepeat("3", 64)
	a := sampleAttestation("att-rev", subject, attestor)
	if _, err := db.InsertAttestation(a, "2026-01-01T00:00:00Z", testAudit("attest")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rev := models.Revocation{
		ID:            "rev-1",
		AttestationID: "att-rev",
		Revoker:       models.PartyRef{Pubkey: other},
		Reason:        "mistaken identity",
		Issued:        "2026-01-02T00:00:00Z",
		Signature:     mustRepeat("b", 128),
	}
	if _, err := db.RevokeAttestation(rev, "2026-01-02T00:00:00Z", testAudit("revoke")); err == nil {
		t.Fatal("expected permission error when revoker is not the attestor")
	}

	rev.Revoker.Pubkey = attestor
	if _, err := db.RevokeAttestation(rev, "2026-01-02T00:00:00Z", testAudit("revoke")); err != nil {
		t.Fatalf("RevokeAttestation: %v", err)
	}

	got, err := db.GetAttestation("att-rev")
	if err != nil {
		t.Fatalf("GetAttestation: %v", err)
	}
	if got.RevokedAt == "" {
		t.Fatal("expected revoked_at to be set")
	}

	if _, err := db.RevokeAttestation(rev, "2026-01-03T00:00:00Z", testAudit("revoke")); err == nil {
		t.Fatal("expected conflict on double revoke")
	}
}

func TestListAttestationsFor_FiltersByDomainAndExcludesRevoked(t *testing.T) {
	db := testDB(t)
	subject := "ed25519:" + mustRepeat("1", 64)
	attestor := "ed25519:" + mustRepeat("2", 64)

	a1 := sampleAttestation("a1", subject, attestor)
	a2 := sampleAttestation("a2", subject, attestor)
	a2.Skill = &models.Skill{Domain: "data-analysis", Specific: "etl", Proficiency: 3}

	if _, err := db.InsertAttestation(a1, "2026-01-01T00:00:00Z", testAudit("attest")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertAttestation(a2, "2026-01-01T00:00:00Z", testAudit("attest")); err != nil {
		t.Fatal(err)
	}

	results, err := db.ListAttestationsFor(AttestationFilter{Domain: "code-generation"}, 10, 0)
	if err != nil {
		t.Fatalf("ListAttestationsFor: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a1" {
		t.Fatalf("expected only a1, got %+v", results)
	}

	rev := models.Revocation{ID: "rev-a1", AttestationID: "a1", Revoker: models.PartyRef{Pubkey: attestor}, Reason: "x", Issued: "2026-01-02T00:00:00Z", Signature: mustRepeat("c", 128)}
	if _, err := db.RevokeAttestation(rev, "2026-01-02T00:00:00Z", testAudit("revoke")); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	results, err = db.ListAttestationsFor(AttestationFilter{Subject: subject}, 10, 0)
	if err != nil {
		t.Fatalf("ListAttestationsFor: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a2" {
		t.Fatalf("expected revoked a1 excluded by default, got %+v", results)
	}
}
