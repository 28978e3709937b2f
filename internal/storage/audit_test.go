package storage

import (
	"testing"

	"github.com/kredo-network/kredo/internal/models"
)

func TestAppendAudit_AndListFiltering(t *testing.T) {
	db := testDB(t)

	if err := db.AppendAudit(models.AuditEvent{
		Timestamp: "2026-01-01T00:00:00Z", Action: "attest", Outcome: "success", SourceIPHash: "h1",
	}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if err := db.AppendAudit(models.AuditEvent{
		Timestamp: "2026-01-02T00:00:00Z", Action: "rate_limited", Outcome: "failure", SourceIPHash: "h1",
	}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	all, err := db.ListAudit(AuditFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(all))
	}
	if all[0].Action != "rate_limited" {
		t.Fatalf("expected newest first, got %+v", all[0])
	}

	filtered, err := db.ListAudit(AuditFilter{Action: "attest"}, 10, 0)
	if err != nil {
		t.Fatalf("ListAudit filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Action != "attest" {
		t.Fatalf("unexpected filtered rows: %+v", filtered)
	}
}

func TestSourceAnomalySignals_ThresholdsApply(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 3; i++ {
		if err := db.AppendAudit(models.AuditEvent{
			Timestamp: "2026-01-01T00:00:0" + string(rune('0'+i)) + "Z",
			Action:    "attest", Outcome: "success", SourceIPHash: "busy",
			ActorPubkey: "ed25519:" + mustRepeat(string(rune('a'+i)), 64),
		}); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	signals, err := db.SourceAnomalySignals("2026-01-01T00:00:00Z", 3, 3, 10)
	if err != nil {
		t.Fatalf("SourceAnomalySignals: %v", err)
	}
	if len(signals) != 1 || signals[0].SourceIPHash != "busy" {
		t.Fatalf("expected busy source flagged, got %+v", signals)
	}

	none, err := db.SourceAnomalySignals("2026-01-01T00:00:00Z", 10, 10, 10)
	if err != nil {
		t.Fatalf("SourceAnomalySignals: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no signals at a higher threshold, got %+v", none)
	}
}
