package storage

import (
	"testing"

	"github.com/kredo-network/kredo/internal/models"
)

func TestOwnershipLifecycle(t *testing.T) {
	db := testDB(t)
	agent := "ed25519:" + mustRepeat("1", 64)
	human := "ed25519:" + mustRepeat("2", 64)

	claim, err := db.ClaimOwnership(models.OwnershipClaim{
		ClaimID: "claim-1", AgentPubkey: agent, HumanPubkey: human,
		ClaimSignature: mustRepeat("a", 128), ClaimedAt: "2026-01-01T00:00:00Z",
	}, testAudit("ownership_claim"))
	if err != nil {
		t.Fatalf("ClaimOwnership: %v", err)
	}
	if claim.State != models.OwnershipPending {
		t.Fatalf("expected pending state, got %q", claim.State)
	}

	if _, err := db.ClaimOwnership(models.OwnershipClaim{
		ClaimID: "claim-2", AgentPubkey: agent, HumanPubkey: human,
		ClaimSignature: mustRepeat("b", 128), ClaimedAt: "2026-01-01T00:00:00Z",
	}, testAudit("ownership_claim")); err != nil {
		t.Logf("second pending claim allowed (no active yet): %v", err)
	}

	if _, err := db.ConfirmOwnership("claim-1", agent, mustRepeat("c", 128), "2026-01-02T00:00:00Z", testAudit("ownership_confirm")); err == nil {
		t.Fatal("expected permission error confirming as the agent, not the human")
	}

	confirmed, err := db.ConfirmOwnership("claim-1", human, mustRepeat("c", 128), "2026-01-02T00:00:00Z", testAudit("ownership_confirm"))
	if err != nil {
		t.Fatalf("ConfirmOwnership: %v", err)
	}
	if confirmed.State != models.OwnershipActive {
		t.Fatalf("expected active state, got %q", confirmed.State)
	}

	owner, ok, err := db.GetActiveOwner(agent)
	if err != nil {
		t.Fatalf("GetActiveOwner: %v", err)
	}
	if !ok || owner.ClaimID != "claim-1" {
		t.Fatalf("expected claim-1 active, got %+v ok=%v", owner, ok)
	}

	if _, err := db.RevokeOwnership("claim-1", "ed25519:"+mustRepeat("9", 64), "unauthorized", "2026-01-03T00:00:00Z", testAudit("ownership_revoke")); err == nil {
		t.Fatal("expected permission error revoking from a third party")
	}

	revoked, err := db.RevokeOwnership("claim-1", human, "handed off", "2026-01-03T00:00:00Z", testAudit("ownership_revoke"))
	if err != nil {
		t.Fatalf("RevokeOwnership: %v", err)
	}
	if revoked.State != models.OwnershipRevoked {
		t.Fatalf("expected revoked state, got %q", revoked.State)
	}

	if _, err := db.RevokeOwnership("claim-1", human, "again", "2026-01-04T00:00:00Z", testAudit("ownership_revoke")); err == nil {
		t.Fatal("expected validation error revoking an already-revoked claim")
	}

	_, ok, err = db.GetActiveOwner(agent)
	if err != nil {
		t.Fatalf("GetActiveOwner after revoke: %v", err)
	}
	if ok {
		t.Fatal("expected no active owner after revocation")
	}
}

func TestClaimOwnership_RejectsSecondActiveClaim(t *testing.T) {
	db := testDB(t)
	agent := "ed25519:" + mustRepeat("1", 64)
	human1 := "ed25519:" + mustRepeat("2", 64)
	human2 := "ed25519:" + mustRepeat("3", 64)

	if _, err := db.ClaimOwnership(models.OwnershipClaim{
		ClaimID: "c1", AgentPubkey: agent, HumanPubkey: human1,
		ClaimSignature: mustRepeat("a", 128), ClaimedAt: "2026-01-01T00:00:00Z",
	}, testAudit("ownership_claim")); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ConfirmOwnership("c1", human1, mustRepeat("b", 128), "2026-01-01T00:00:00Z", testAudit("ownership_confirm")); err != nil {
		t.Fatal(err)
	}

	if _, err := db.ClaimOwnership(models.OwnershipClaim{
		ClaimID: "c2", AgentPubkey: agent, HumanPubkey: human2,
		ClaimSignature: mustRepeat("c", 128), ClaimedAt: "2026-01-02T00:00:00Z",
	}, testAudit("ownership_claim")); err == nil {
		t.Fatal("expected conflict claiming ownership while another claim is active")
	}
}
