package evidence

import (
	"strings"
	"testing"
	"time"

	"github.com/kredo-network/kredo/internal/models"
)

func TestScore_HappyPathMeetsFloor(t *testing.T) {
	ctx := "Reviewed the authentication refactor end to end, covering the code review " +
		"for the new session token rotation logic and verified the fix against pr:auth-47. " +
		"Confirmed edge cases around expiry and revocation were all handled correctly in review. " +
		"Follow-up notes on the token rotation tests were posted to the review thread."
	if len(ctx) < 280 {
		t.Fatalf("test fixture context too short: %d", len(ctx))
	}
	ev := models.Evidence{
		Context:   ctx,
		Artifacts: []string{"pr:auth-47"},
		Outcome:   "merged",
	}
	skill := &models.Skill{Domain: "code-generation", Specific: "code-review", Proficiency: 4}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	score := Score(ev, skill, now, now)
	if score.Composite < 0.6 {
		t.Errorf("composite = %v, want >= 0.6", score.Composite)
	}
}

func TestScore_NoArtifactsZeroVerifiability(t *testing.T) {
	ev := models.Evidence{Context: "short note", Artifacts: nil}
	skill := &models.Skill{Domain: "research", Specific: "peer-review"}
	now := time.Now()
	score := Score(ev, skill, now, now)
	if score.Verifiability != 0 {
		t.Errorf("expected 0 verifiability with no artifacts, got %v", score.Verifiability)
	}
}

func TestScore_RecencyDecaysWithAge(t *testing.T) {
	ev := models.Evidence{Context: "some context", Artifacts: []string{"hash:abc123"}}
	skill := &models.Skill{Domain: "operations", Specific: "incident-response"}
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	fresh := Score(ev, skill, issued, issued)
	aged := Score(ev, skill, issued, issued.AddDate(1, 0, 0))

	if !(fresh.Recency > aged.Recency) {
		t.Errorf("expected recency to decrease with age: fresh=%v aged=%v", fresh.Recency, aged.Recency)
	}
}

func TestScore_RelevanceMatchesSkillTerms(t *testing.T) {
	ev := models.Evidence{
		Context:   "Worked on capacity-planning for the Q3 rollout.",
		Artifacts: []string{"output:forecast-v2"},
	}
	skill := &models.Skill{Domain: "operations", Specific: "capacity-planning"}
	now := time.Now()
	score := Score(ev, skill, now, now)
	if score.Relevance == 0 {
		t.Error("expected nonzero relevance when context echoes the skill's specific slug")
	}
}

func TestHasCategorizedWarningArtifact(t *testing.T) {
	if HasCategorizedWarningArtifact([]string{"pr:123"}) {
		t.Error("pr: should not satisfy the warning-artifact requirement")
	}
	if !HasCategorizedWarningArtifact([]string{"pr:123", "hash:deadbeef"}) {
		t.Error("hash: should satisfy the warning-artifact requirement")
	}
	if !HasCategorizedWarningArtifact([]string{"log:session-7"}) {
		t.Error("log: should satisfy the warning-artifact requirement")
	}
}

func TestScore_BehavioralWarningThresholdContract(t *testing.T) {
	weak := models.Evidence{Context: strings.Repeat("x", 120), Artifacts: nil}
	score := Score(weak, nil, time.Now(), time.Now())
	if score.Composite >= BehavioralWarningThreshold {
		t.Errorf("expected weak evidence to fall below the behavioral_warning floor, got %v", score.Composite)
	}
}
