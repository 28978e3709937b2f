// Package evidence scores the support offered for an attestation into four
// sub-scores plus a weighted composite. The rules are specified so that
// independent implementations (this server, the CLI, the browser client)
// converge on the same verdict without needing to share code.
package evidence

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/kredo-network/kredo/internal/models"
)

const (
	weightSpecificity   = 0.3
	weightVerifiability = 0.3
	weightRelevance     = 0.25
	weightRecency       = 0.15

	recencyHalfLifeDays = 180.0

	// BehavioralWarningThreshold is the minimum composite score a
	// behavioral_warning must clear at accept time; below it the router
	// rejects with evidence_insufficient. Not numerically stated in the
	// reference implementation's prose; 0.4 is the contract here.
	BehavioralWarningThreshold = 0.4
)

var (
	identifierTokenPattern = regexp.MustCompile(`[a-z]+:[A-Za-z0-9-]+`)
	urlPattern             = regexp.MustCompile(`https?://\S+`)
	digitPattern           = regexp.MustCompile(`[0-9]`)

	ipfsPattern       = regexp.MustCompile(`^ipfs:(Qm[1-9A-HJ-NP-Za-km-z]+|bafy[0-9a-z]+)$`)
	categoryArtifact  = regexp.MustCompile(`^(chain|log|hash|output|pr|commit|report|post):\S+`)

	fillerMarkers = []string{"did a great job", "very good", "nice work", "great work", "lgtm"}
)

// warningCategoryPrefixes are the evidence.artifacts prefixes that satisfy the
// behavioral_warning "at least one log/hash/payload artifact" invariant.
var warningCategoryPrefixes = []string{"log:", "hash:", "payload:"}

// HasCategorizedWarningArtifact reports whether artifacts contains at
// least one entry categorized as log/hash/payload, required for
// behavioral_warning acceptance.
func HasCategorizedWarningArtifact(artifacts []string) bool {
	for _, a := range artifacts {
		for _, prefix := range warningCategoryPrefixes {
			if strings.HasPrefix(a, prefix) {
				return true
			}
		}
	}
	return false
}

// Score computes the four sub-scores and composite for ev, given the
// skill it is meant to support and the attestation's issued time (used
// when ev.InteractionDate is absent). now is injected for testability.
func Score(ev models.Evidence, skill *models.Skill, issued time.Time, now time.Time) models.EvidenceScore {
	spec := scoreSpecificity(ev)
	verif := scoreVerifiability(ev)
	rel := scoreRelevance(ev, skill)
	rec := scoreRecency(ev, issued, now)

	composite := weightSpecificity*spec + weightVerifiability*verif + weightRelevance*rel + weightRecency*rec

	return models.EvidenceScore{
		Specificity:   round3(spec),
		Verifiability: round3(verif),
		Relevance:     round3(rel),
		Recency:       round3(rec),
		Composite:     round3(composite),
	}
}

func scoreSpecificity(ev models.Evidence) float64 {
	n := len(ev.Context)
	var lengthScore float64
	switch {
	case n <= 0:
		lengthScore = 0
	case n >= 280:
		lengthScore = 1.0
	default:
		lengthScore = float64(n) / 280.0
	}

	entityBonus := 0.0
	if digitPattern.MatchString(ev.Context) {
		entityBonus += 0.15
	}
	if identifierTokenPattern.MatchString(ev.Context) {
		entityBonus += 0.15
	}
	if urlPattern.MatchString(ev.Context) {
		entityBonus += 0.15
	}

	outcomeBonus := 0.0
	if strings.TrimSpace(ev.Outcome) != "" {
		outcomeBonus = 0.1
	}

	penalty := 0.0
	lowerCtx := strings.ToLower(ev.Context)
	for _, marker := range fillerMarkers {
		if strings.Contains(lowerCtx, marker) {
			penalty += 0.2
		}
	}

	score := lengthScore*0.6 + entityBonus + outcomeBonus - penalty
	return clamp01(score)
}

func scoreVerifiability(ev models.Evidence) float64 {
	if len(ev.Artifacts) == 0 {
		return 0
	}
	matches := 0
	for _, a := range ev.Artifacts {
		if isVerifiableArtifact(a) {
			matches++
		}
	}
	return clamp01(float64(matches) / float64(len(ev.Artifacts)))
}

func isVerifiableArtifact(a string) bool {
	if urlPattern.MatchString(a) {
		return true
	}
	if ipfsPattern.MatchString(a) {
		return true
	}
	if categoryArtifact.MatchString(a) {
		return true
	}
	return false
}

// scoreRelevance cross-checks that some artifact token or context phrase
// echoes the skill's domain/specific slug, via substring or hyphen-split
// match. An attestation with no skill (not expected in practice, but
// defensive) scores a neutral 0.5.
func scoreRelevance(ev models.Evidence, skill *models.Skill) float64 {
	if skill == nil {
		return 0.5
	}
	terms := splitTerms(skill.Domain)
	terms = append(terms, splitTerms(skill.Specific)...)
	if len(terms) == 0 {
		return 0.5
	}

	haystacks := make([]string, 0, len(ev.Artifacts)+1)
	haystacks = append(haystacks, strings.ToLower(ev.Context))
	for _, a := range ev.Artifacts {
		haystacks = append(haystacks, strings.ToLower(a))
	}

	hits := 0
	for _, term := range terms {
		for _, h := range haystacks {
			if strings.Contains(h, term) {
				hits++
				break
			}
		}
	}
	return clamp01(float64(hits) / float64(len(terms)))
}

func splitTerms(slug string) []string {
	parts := strings.Split(strings.ToLower(slug), "-")
	out := make([]string, 0, len(parts)+1)
	out = append(out, strings.ToLower(slug))
	out = append(out, parts...)
	return out
}

func scoreRecency(ev models.Evidence, issued time.Time, now time.Time) float64 {
	ref := issued
	if ev.InteractionDate != "" {
		if t, err := time.Parse(time.RFC3339, ev.InteractionDate); err == nil {
			ref = t
		}
	}
	days := now.Sub(ref).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return clamp01(math.Pow(2, -days/recencyHalfLifeDays))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
