package storage

import (
	"testing"

	"github.com/kredo-network/kredo/internal/models"
)

func TestInsertDispute_RequiresWarningTarget(t *testing.T) {
	db := testDB(t)
	subject := "ed25519:" + mustRepeat("1", 64)
	attestor := "ed25519:" + mustRepeat("2", 64)

	skillAtt := sampleAttestation("not-a-warning", subject, attestor)
	if _, err := db.InsertAttestation(skillAtt, "2026-01-01T00:00:00Z", testAudit("attest")); err != nil {
		t.Fatal(err)
	}

	disp := models.Dispute{
		ID:        "disp-1",
		WarningID: "not-a-warning",
		Disputor:  models.PartyRef{Pubkey: subject},
		Response:  "that's not accurate",
		Issued:    "2026-01-02T00:00:00Z",
		Signature: mustRepeat("d", 128),
	}
	if _, err := db.InsertDispute(disp, testAudit("dispute")); err == nil {
		t.Fatal("expected validation error disputing a non-warning attestation")
	}
}

func TestInsertDispute_OnlySubjectMayDispute(t *testing.T) {
	db := testDB(t)
	subject := "ed25519:" + mustRepeat("1", 64)
	attestor := "ed25519:" + mustRepeat("2", 64)
	other := "ed25519:" + mustRepeat("3", 64)

	warning := sampleAttestation("warn-1", subject, attestor)
	warning.Type = models.AttestationBehavioralWarning
	warning.Skill = nil
	warning.WarningCategory = models.WarningSpam
	if _, err := db.InsertAttestation(warning, "2026-01-01T00:00:00Z", testAudit("attest")); err != nil {
		t.Fatal(err)
	}

	disp := models.Dispute{
		ID:        "disp-2",
		WarningID: "warn-1",
		Disputor:  models.PartyRef{Pubkey: other},
		Response:  "not me",
		Issued:    "2026-01-02T00:00:00Z",
		Signature: mustRepeat("e", 128),
	}
	if _, err := db.InsertDispute(disp, testAudit("dispute")); err == nil {
		t.Fatal("expected permission error when disputor != subject")
	}

	disp.Disputor.Pubkey = subject
	if _, err := db.InsertDispute(disp, testAudit("dispute")); err != nil {
		t.Fatalf("InsertDispute: %v", err)
	}

	disputes, err := db.DisputesFor("warn-1")
	if err != nil {
		t.Fatalf("DisputesFor: %v", err)
	}
	if len(disputes) != 1 || disputes[0].ID != "disp-2" {
		t.Fatalf("unexpected disputes: %+v", disputes)
	}

	counts, err := db.DisputeCountsFor([]string{"warn-1"})
	if err != nil {
		t.Fatalf("DisputeCountsFor: %v", err)
	}
	if counts["warn-1"] != 1 {
		t.Fatalf("expected 1 dispute counted, got %d", counts["warn-1"])
	}
}
