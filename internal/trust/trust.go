// Package trust computes the derived reputation and risk views layered on
// top of the stored attestation graph: per-attestation effective weight,
// recursive attestor reputation, ring detection, accountability tier,
// integrity multiplier, and deployability score. Nothing here mutates
// signed documents — it is read-only analytics over storage.DB.
package trust

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kredo-network/kredo/internal/models"
	"github.com/kredo-network/kredo/internal/storage"
)

const (
	decayHalfLifeDays = 180.0

	baseReputationWeight = 0.1
	mutualPairDiscount    = 0.5
	cliqueDiscount        = 0.3
	maxReputationDepth    = 3

	// maxEdgesForCliqueDetection is a safety valve, not a contracted
	// number: above this many edges Bron-Kerbosch is skipped and clique
	// ring_flags are simply empty for that pass.
	maxEdgesForCliqueDetection = 10_000

	// AccountabilityHumanLinked is the multiplier for a subject with a
	// currently active ownership claim; AccountabilityUnlinked otherwise.
	// Two tiers only — see SPEC_FULL.md §4.5 for why a third "org-backed"
	// tier is not implemented.
	AccountabilityHumanLinked = 1.0
	AccountabilityUnlinked    = 0.6

	IntegrityMultiplierGreen  = 1.0
	IntegrityMultiplierYellow = 0.5
	IntegrityMultiplierRed    = 0.0

	// DefaultCacheTTL matches the reference implementation's
	// KREDO_TRUST_CACHE_TTL_SECONDS default.
	DefaultCacheTTL = 30 * time.Second
)

// RingType discriminates the two ring_flags shapes.
type RingType string

const (
	RingMutualPair RingType = "mutual_pair"
	RingClique     RingType = "clique"
)

// Ring is one detected attestation ring.
type Ring struct {
	Members        []string `json:"members"`
	Size            int      `json:"size"`
	RingType        RingType `json:"ring_type"`
	AttestationIDs  []string `json:"attestation_ids"`
}

// AttestationWeight is the per-attestation breakdown backing a profile's
// trust_analysis.per_attestation[].
type AttestationWeight struct {
	AttestationID     string   `json:"attestation_id"`
	RawProficiency     int      `json:"raw_proficiency"`
	EvidenceQuality    float64  `json:"evidence_quality"`
	DecayFactor        float64  `json:"decay_factor"`
	AttestorReputation float64  `json:"attestor_reputation"`
	RingDiscount       float64  `json:"ring_discount"`
	EffectiveWeight    float64  `json:"effective_weight"`
	Flags              []string `json:"flags"`
}

// Analysis is the full trust computation for one subject pubkey.
type Analysis struct {
	Pubkey             string              `json:"pubkey"`
	ReputationScore    float64             `json:"reputation_score"`
	RingFlags          []Ring              `json:"ring_flags"`
	PerAttestation     []AttestationWeight `json:"per_attestation"`
	AnalysisTimestamp  string              `json:"analysis_timestamp"`
}

// Accountability is the ownership-linkage view of a subject.
type Accountability struct {
	Tier       string  `json:"tier"`
	Multiplier float64 `json:"multiplier"`
	Owner      string  `json:"owner,omitempty"`
}

// IntegrityView is the traffic-light-derived multiplier for a subject.
type IntegrityView struct {
	TrafficLight      string  `json:"traffic_light"`
	StatusLabel       string  `json:"status_label"`
	RecommendedAction string  `json:"recommended_action"`
	Multiplier        float64 `json:"multiplier"`
}

// NetworkHealth is the network-wide ring statistic served by
// /trust/network-health.
type NetworkHealth struct {
	TotalAgentsInGraph     int     `json:"total_agents_in_graph"`
	TotalDirectedEdges     int     `json:"total_directed_edges"`
	MutualPairCount        int     `json:"mutual_pair_count"`
	CliqueCount            int     `json:"clique_count"`
	AgentsInRings          int     `json:"agents_in_rings"`
	RingParticipationRate  float64 `json:"ring_participation_rate"`
}

// Engine computes and caches trust analytics over a storage.DB.
type Engine struct {
	db  *storage.DB
	ttl time.Duration

	mu          sync.Mutex
	perSubject  map[string]cacheEntry[Analysis]
	ringsCache  *cacheEntry[[]Ring]
	healthCache *cacheEntry[NetworkHealth]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// NewEngine constructs an Engine and wires it to invalidate its per-subject
// cache whenever db commits a write touching that pubkey. The ring and
// network-health caches are cleared on every write, since a new edge
// anywhere can change both.
func NewEngine(db *storage.DB, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	e := &Engine{
		db:         db,
		ttl:        ttl,
		perSubject: make(map[string]cacheEntry[Analysis]),
	}
	db.OnInvalidate(e.invalidate)
	return e
}

func (e *Engine) invalidate(pubkeys ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, pk := range pubkeys {
		delete(e.perSubject, pk)
	}
	e.ringsCache = nil
	e.healthCache = nil
}

// decay implements 2^(-days/180), clamped to [0,1]; future-dated issuance
// (clock skew) is treated as no decay rather than a bonus.
func decay(issuedISO string, now time.Time) float64 {
	issued, err := time.Parse(time.RFC3339, issuedISO)
	if err != nil {
		return 0
	}
	days := now.Sub(issued).Hours() / 24
	if days < 0 {
		return 1.0
	}
	d := math.Pow(2, -days/decayHalfLifeDays)
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

// rings returns the cached (mutual pairs + cliques) ring set, recomputing
// on expiry.
func (e *Engine) rings() ([]Ring, error) {
	e.mu.Lock()
	if e.ringsCache != nil && time.Now().Before(e.ringsCache.expiresAt) {
		v := e.ringsCache.value
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()

	edges, err := e.db.ListAttestationEdges()
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	all, err := detectAllRings(e.db, edges)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.ringsCache = &cacheEntry[[]Ring]{value: all, expiresAt: time.Now().Add(e.ttl)}
	e.mu.Unlock()
	return all, nil
}

func detectAllRings(db *storage.DB, edges []storage.AttestationEdge) ([]Ring, error) {
	pairs, err := detectMutualPairs(db, edges)
	if err != nil {
		return nil, err
	}
	cliques, err := detectCliques(db, edges, 3)
	if err != nil {
		return nil, err
	}
	return append(pairs, cliques...), nil
}

func detectMutualPairs(db *storage.DB, edges []storage.AttestationEdge) ([]Ring, error) {
	type pair struct{ a, b string }
	forward := make(map[pair]bool, len(edges))
	for _, ed := range edges {
		forward[pair{ed.AttestorPubkey, ed.SubjectPubkey}] = true
	}

	seen := make(map[pair]bool)
	var out []Ring
	for _, ed := range edges {
		a, b := ed.AttestorPubkey, ed.SubjectPubkey
		key := pair{a, b}
		if a > b {
			key = pair{b, a}
		}
		if seen[key] {
			continue
		}
		if forward[pair{b, a}] {
			seen[key] = true
			members := sortedPair(a, b)
			ids, err := attestationIDsBetween(db, a, b, b, a)
			if err != nil {
				return nil, err
			}
			out = append(out, Ring{Members: members, Size: 2, RingType: RingMutualPair, AttestationIDs: ids})
		}
	}
	return out, nil
}

func sortedPair(a, b string) []string {
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}

func attestationIDsBetween(db *storage.DB, a1, b1, a2, b2 string) ([]string, error) {
	var ids []string
	first, err := db.ListAttestationsFor(storage.AttestationFilter{Attestor: a1, Subject: b1}, 200, 0)
	if err != nil {
		return nil, err
	}
	for _, a := range first {
		ids = append(ids, a.ID)
	}
	second, err := db.ListAttestationsFor(storage.AttestationFilter{Attestor: a2, Subject: b2}, 200, 0)
	if err != nil {
		return nil, err
	}
	for _, a := range second {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func detectCliques(db *storage.DB, edges []storage.AttestationEdge, minSize int) ([]Ring, error) {
	if len(edges) > maxEdgesForCliqueDetection {
		return nil, nil
	}

	type pair struct{ a, b string }
	forward := make(map[pair]bool, len(edges))
	for _, ed := range edges {
		forward[pair{ed.AttestorPubkey, ed.SubjectPubkey}] = true
	}

	graph := make(map[string]map[string]bool)
	for _, ed := range edges {
		a, b := ed.AttestorPubkey, ed.SubjectPubkey
		if forward[pair{b, a}] {
			if graph[a] == nil {
				graph[a] = make(map[string]bool)
			}
			if graph[b] == nil {
				graph[b] = make(map[string]bool)
			}
			graph[a][b] = true
			graph[b][a] = true
		}
	}
	if len(graph) == 0 {
		return nil, nil
	}

	vertices := make(map[string]bool, len(graph))
	for v := range graph {
		vertices[v] = true
	}

	var cliques [][]string
	bronKerbosch(map[string]bool{}, vertices, map[string]bool{}, graph, &cliques)

	var out []Ring
	for _, clique := range cliques {
		if len(clique) < minSize {
			continue
		}
		sort.Strings(clique)
		var ids []string
		for i, a := range clique {
			for _, b := range clique[i+1:] {
				pairIDs, err := attestationIDsBetween(db, a, b, b, a)
				if err != nil {
					return nil, err
				}
				ids = append(ids, pairIDs...)
			}
		}
		out = append(out, Ring{Members: clique, Size: len(clique), RingType: RingClique, AttestationIDs: ids})
	}
	return out, nil
}

// bronKerbosch is the classic algorithm without pivoting, matched to the
// reference implementation's small-graph assumption.
func bronKerbosch(r, p, x map[string]bool, graph map[string]map[string]bool, out *[][]string) {
	if len(p) == 0 && len(x) == 0 {
		if len(r) >= 2 {
			members := make([]string, 0, len(r))
			for v := range r {
				members = append(members, v)
			}
			*out = append(*out, members)
		}
		return
	}
	for v := range copySet(p) {
		neighbors := graph[v]
		nr := copySet(r)
		nr[v] = true
		bronKerbosch(nr, intersect(p, neighbors), intersect(x, neighbors), graph, out)
		delete(p, v)
		x[v] = true
	}
}

func copySet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func ringDiscount(subject, attestor string, rings []Ring) float64 {
	both := map[string]bool{subject: true, attestor: true}
	for _, r := range rings {
		if r.RingType != RingClique {
			continue
		}
		if containsAll(r.Members, both) {
			return cliqueDiscount
		}
	}
	for _, r := range rings {
		if r.RingType != RingMutualPair {
			continue
		}
		if len(r.Members) == 2 && both[r.Members[0]] && both[r.Members[1]] {
			return mutualPairDiscount
		}
	}
	return 1.0
}

func containsAll(members []string, need map[string]bool) bool {
	present := make(map[string]bool, len(members))
	for _, m := range members {
		present[m] = true
	}
	for k := range need {
		if !present[k] {
			return false
		}
	}
	return true
}

// attestorReputation is R(p, depth) from the spec's recursion: R(p,0) = 0,
// R(p,d>0) = 1 - exp(-sum of incoming attestation weights at depth d-1).
func attestorReputation(db *storage.DB, pubkey string, depth int, visited map[string]bool, rings []Ring, now time.Time) (float64, error) {
	if depth >= maxReputationDepth || visited[pubkey] {
		return 0, nil
	}
	visited = copySet(visited)
	visited[pubkey] = true

	nowISO := now.Format(time.RFC3339)
	incoming, err := db.IncomingAttestations(pubkey, nowISO)
	if err != nil {
		return 0, err
	}
	if len(incoming) == 0 {
		return 0, nil
	}

	var total float64
	for _, a := range incoming {
		attestorRep, err := attestorReputation(db, a.Attestor.Pubkey, depth+1, visited, rings, now)
		if err != nil {
			return 0, err
		}
		attestorWeight := baseReputationWeight + (1-baseReputationWeight)*attestorRep
		d := decay(a.Issued, now)
		disc := ringDiscount(a.Subject.Pubkey, a.Attestor.Pubkey, rings)
		evidenceQuality := 0.5
		if a.EvidenceScore != nil {
			evidenceQuality = a.EvidenceScore.Composite
		}
		total += attestorWeight * d * disc * evidenceQuality
	}
	return 1.0 - math.Exp(-total), nil
}

// attestationWeight computes the full per-attestation breakdown.
func attestationWeight(db *storage.DB, a models.Attestation, rings []Ring, now time.Time) (AttestationWeight, error) {
	rawProf := 1
	if a.Skill != nil {
		rawProf = a.Skill.Proficiency
	}
	evidenceQuality := 0.5
	if a.EvidenceScore != nil {
		evidenceQuality = a.EvidenceScore.Composite
	}
	d := decay(a.Issued, now)
	attestorRep, err := attestorReputation(db, a.Attestor.Pubkey, 0, map[string]bool{}, rings, now)
	if err != nil {
		return AttestationWeight{}, err
	}
	attestorWeight := baseReputationWeight + (1-baseReputationWeight)*attestorRep
	disc := ringDiscount(a.Subject.Pubkey, a.Attestor.Pubkey, rings)
	effective := float64(rawProf) * evidenceQuality * d * attestorWeight * disc

	var flags []string
	if disc < 1.0 {
		flags = append(flags, "ring_member")
	}
	if d < 0.25 {
		flags = append(flags, "decayed")
	}
	if attestorRep < 0.01 {
		flags = append(flags, "unattested_attestor")
	}

	return AttestationWeight{
		AttestationID:      a.ID,
		RawProficiency:     rawProf,
		EvidenceQuality:    round4(evidenceQuality),
		DecayFactor:        round4(d),
		AttestorReputation: round4(attestorRep),
		RingDiscount:       round2(disc),
		EffectiveWeight:    round4(effective),
		Flags:              flags,
	}, nil
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Analyze computes (or returns a cached) full trust analysis for pubkey.
func (e *Engine) Analyze(pubkey string, now time.Time) (Analysis, error) {
	e.mu.Lock()
	if entry, ok := e.perSubject[pubkey]; ok && time.Now().Before(entry.expiresAt) {
		v := entry.value
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()

	rings, err := e.rings()
	if err != nil {
		return Analysis{}, err
	}

	repScore, err := attestorReputation(e.db, pubkey, 0, map[string]bool{}, rings, now)
	if err != nil {
		return Analysis{}, err
	}

	nowISO := now.Format(time.RFC3339)
	incoming, err := e.db.IncomingAttestations(pubkey, nowISO)
	if err != nil {
		return Analysis{}, err
	}

	weights := make([]AttestationWeight, 0, len(incoming))
	for _, a := range incoming {
		w, err := attestationWeight(e.db, a, rings, now)
		if err != nil {
			return Analysis{}, err
		}
		weights = append(weights, w)
	}

	var agentRings []Ring
	for _, r := range rings {
		for _, m := range r.Members {
			if m == pubkey {
				agentRings = append(agentRings, r)
				break
			}
		}
	}

	analysis := Analysis{
		Pubkey:            pubkey,
		ReputationScore:   round4(repScore),
		RingFlags:         agentRings,
		PerAttestation:    weights,
		AnalysisTimestamp: now.Format(time.RFC3339),
	}

	e.mu.Lock()
	e.perSubject[pubkey] = cacheEntry[Analysis]{value: analysis, expiresAt: time.Now().Add(e.ttl)}
	e.mu.Unlock()
	return analysis, nil
}

// Accountability reports whether pubkey currently has an active owner.
func (e *Engine) Accountability(pubkey string) (Accountability, error) {
	owner, ok, err := e.db.GetActiveOwner(pubkey)
	if err != nil {
		return Accountability{}, err
	}
	if !ok {
		return Accountability{Tier: "unlinked", Multiplier: AccountabilityUnlinked}, nil
	}
	return Accountability{Tier: "human-linked", Multiplier: AccountabilityHumanLinked, Owner: owner.HumanPubkey}, nil
}

// Integrity reports the multiplier derived from pubkey's latest integrity
// check. An agent with no check yet is treated as yellow (unknown state,
// matching RecordIntegrityCheck's own no-baseline default).
func (e *Engine) Integrity(pubkey string) (IntegrityView, error) {
	check, ok, err := e.db.LatestIntegrityCheck(pubkey)
	if err != nil {
		return IntegrityView{}, err
	}
	if !ok {
		return IntegrityView{
			TrafficLight:      models.TrafficYellow,
			StatusLabel:       "no integrity check recorded",
			RecommendedAction: models.ActionOwnerReviewRequired,
			Multiplier:        IntegrityMultiplierYellow,
		}, nil
	}

	var mult float64
	var label string
	switch check.Result.Status {
	case models.TrafficGreen:
		mult, label = IntegrityMultiplierGreen, "matches active baseline"
	case models.TrafficYellow:
		mult, label = IntegrityMultiplierYellow, "additions since active baseline"
	default:
		mult, label = IntegrityMultiplierRed, "changed or removed files since active baseline"
	}
	return IntegrityView{
		TrafficLight:      check.Result.Status,
		StatusLabel:       label,
		RecommendedAction: check.Result.RecommendedAction,
		Multiplier:        mult,
	}, nil
}

// Deployability combines reputation, accountability, and integrity into
// the single score the profile DTO surfaces as deployability_score.
func (e *Engine) Deployability(pubkey string, now time.Time) (score float64, multiplier float64, err error) {
	analysis, err := e.Analyze(pubkey, now)
	if err != nil {
		return 0, 0, err
	}
	acc, err := e.Accountability(pubkey)
	if err != nil {
		return 0, 0, err
	}
	integ, err := e.Integrity(pubkey)
	if err != nil {
		return 0, 0, err
	}
	multiplier = acc.Multiplier * integ.Multiplier
	score = round4(analysis.ReputationScore * multiplier)
	return score, multiplier, nil
}

// NetworkHealth reports network-wide ring statistics for
// /trust/network-health, cached like Rings.
func (e *Engine) NetworkHealth() (NetworkHealth, error) {
	e.mu.Lock()
	if e.healthCache != nil && time.Now().Before(e.healthCache.expiresAt) {
		v := e.healthCache.value
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()

	edges, err := e.db.ListAttestationEdges()
	if err != nil {
		return NetworkHealth{}, err
	}
	rings, err := e.rings()
	if err != nil {
		return NetworkHealth{}, err
	}

	agents := make(map[string]bool)
	for _, ed := range edges {
		agents[ed.AttestorPubkey] = true
		agents[ed.SubjectPubkey] = true
	}

	var mutualPairs, cliques int
	ringAgents := make(map[string]bool)
	for _, r := range rings {
		if r.RingType == RingMutualPair {
			mutualPairs++
		} else {
			cliques++
		}
		for _, m := range r.Members {
			ringAgents[m] = true
		}
	}

	var participation float64
	if len(agents) > 0 {
		participation = round4(float64(len(ringAgents)) / float64(len(agents)))
	}

	health := NetworkHealth{
		TotalAgentsInGraph:    len(agents),
		TotalDirectedEdges:    len(edges),
		MutualPairCount:       mutualPairs,
		CliqueCount:           cliques,
		AgentsInRings:         len(ringAgents),
		RingParticipationRate: participation,
	}

	e.mu.Lock()
	e.healthCache = &cacheEntry[NetworkHealth]{value: health, expiresAt: time.Now().Add(e.ttl)}
	e.mu.Unlock()
	return health, nil
}

// Rings returns every currently-detected ring, cached like Analyze.
func (e *Engine) Rings() ([]Ring, error) {
	return e.rings()
}
