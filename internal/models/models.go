// Package models defines the shared document types exchanged between the
// store, the trust engine, and the router. Documents round-trip through
// map[string]any for canonical encoding (see internal/canonical) but carry
// typed Go structs everywhere else for clarity and cheap validation.
package models

// PartyRef identifies a pubkey-holder by pubkey and optionally a
// directory-cached display name.
type PartyRef struct {
	Pubkey string `json:"pubkey"`
	Name   string `json:"name,omitempty"`
}

// AttestorRef additionally carries the attestor's registered type, since
// the reputation engine treats agent and human attestors identically but
// the profile DTO surfaces the distinction.
type AttestorRef struct {
	Pubkey string `json:"pubkey"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type"`
}

// Skill names the taxonomy leaf an attestation speaks to, plus the claimed
// proficiency level.
type Skill struct {
	Domain      string `json:"domain"`
	Specific    string `json:"specific"`
	Proficiency int    `json:"proficiency"`
}

// Evidence is the raw, unscored support offered for an attestation.
type Evidence struct {
	Context         string   `json:"context"`
	Artifacts       []string `json:"artifacts"`
	Outcome         string   `json:"outcome,omitempty"`
	InteractionDate string   `json:"interaction_date,omitempty"`
}

// EvidenceScore is the derived, stored-at-accept-time scoring of Evidence.
type EvidenceScore struct {
	Specificity   float64 `json:"specificity"`
	Verifiability float64 `json:"verifiability"`
	Relevance     float64 `json:"relevance"`
	Recency       float64 `json:"recency"`
	Composite     float64 `json:"composite"`
}

const (
	AttestationSkill               = "skill_attestation"
	AttestationIntellectual        = "intellectual_contribution"
	AttestationCommunity           = "community_contribution"
	AttestationBehavioralWarning   = "behavioral_warning"
)

// WarningCategory classifies a behavioral_warning attestation. Dropped from
// the distilled spec's prose but required by the profile DTO's
// warnings[].category field.
type WarningCategory string

const (
	WarningSpam            WarningCategory = "spam"
	WarningMalware         WarningCategory = "malware"
	WarningDeception       WarningCategory = "deception"
	WarningDataExfiltration WarningCategory = "data_exfiltration"
	WarningImpersonation   WarningCategory = "impersonation"
)

// Attestation is a signed declaration of demonstrated skill (or a
// behavioral warning) about a subject, issued by an attestor.
type Attestation struct {
	ID              string          `json:"id"`
	Kredo           string          `json:"kredo"`
	Type            string          `json:"type"`
	Subject         PartyRef        `json:"subject"`
	Attestor        AttestorRef     `json:"attestor"`
	Skill           *Skill          `json:"skill,omitempty"`
	WarningCategory WarningCategory `json:"warning_category,omitempty"`
	Evidence        Evidence        `json:"evidence"`
	Issued          string          `json:"issued"`
	Expires         string          `json:"expires"`
	Signature       string          `json:"signature"`

	// Server-derived, stored at accept time.
	EvidenceScore *EvidenceScore `json:"evidence_score,omitempty"`
	RevokedAt     string         `json:"revoked_at,omitempty"`
	RevokerPubkey string         `json:"revoker_pubkey,omitempty"`
}

// Revocation terminates a previously-accepted attestation. Only the
// original attestor may revoke.
type Revocation struct {
	ID            string   `json:"id"`
	AttestationID string   `json:"attestation_id"`
	Revoker       PartyRef `json:"revoker"`
	Reason        string   `json:"reason"`
	Issued        string   `json:"issued"`
	Signature     string   `json:"signature"`
}

// Dispute is the subject's signed response to a behavioral_warning issued
// about them.
type Dispute struct {
	ID        string   `json:"id"`
	WarningID string   `json:"warning_id"`
	Disputor  PartyRef `json:"disputor"`
	Response  string   `json:"response"`
	Issued    string   `json:"issued"`
	Signature string   `json:"signature"`
}

const (
	OwnershipPending        = "pending"
	OwnershipActive         = "active"
	OwnershipRevoked        = "revoked"
	OwnershipPendingExpired = "pending-expired"
)

// OwnershipClaim links an agent pubkey to a human pubkey through a
// pending -> active -> revoked state machine.
type OwnershipClaim struct {
	ClaimID         string `json:"claim_id"`
	AgentPubkey     string `json:"agent_pubkey"`
	HumanPubkey     string `json:"human_pubkey"`
	ClaimSignature  string `json:"claim_signature"`
	ConfirmSignature string `json:"confirm_signature,omitempty"`
	State           string `json:"state"`
	ClaimedAt       string `json:"claimed_at"`
	ConfirmedAt     string `json:"confirmed_at,omitempty"`
	RevokedAt       string `json:"revoked_at,omitempty"`
	Revoker         string `json:"revoker,omitempty"`
	RevokeReason    string `json:"revoke_reason,omitempty"`
}

// FileHash is one entry of an integrity baseline or check's file list.
type FileHash struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

const (
	BaselineActive    = "active"
	BaselineSuperseded = "superseded"
)

// IntegrityBaseline is the owner-signed known-good file-hash set for an
// agent. At most one is active per agent at a time.
type IntegrityBaseline struct {
	BaselineID     string     `json:"baseline_id"`
	AgentPubkey    string     `json:"agent_pubkey"`
	OwnerPubkey    string     `json:"owner_pubkey"`
	FileHashes     []FileHash `json:"file_hashes"`
	OwnerSignature string     `json:"owner_signature"`
	SetAt          string     `json:"set_at"`
	Status         string     `json:"status"`
}

const (
	TrafficGreen  = "green"
	TrafficYellow = "yellow"
	TrafficRed    = "red"

	ActionSafeToRun          = "safe_to_run"
	ActionOwnerReviewRequired = "owner_review_required"
	ActionBlockRun           = "block_run"
)

// IntegrityDiff is the per-path difference between a check and the active
// baseline.
type IntegrityDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// IntegrityResult is the traffic-light verdict attached to a check.
type IntegrityResult struct {
	Status                 string        `json:"status"`
	Diff                   IntegrityDiff `json:"diff"`
	RecommendedAction      string        `json:"recommended_action"`
	RequiresOwnerReapproval bool         `json:"requires_owner_reapproval"`
}

// IntegrityCheck is an agent-signed submission of the current file-hash
// state, scored against the active baseline.
type IntegrityCheck struct {
	CheckID        string          `json:"check_id"`
	AgentPubkey    string          `json:"agent_pubkey"`
	FileHashes     []FileHash      `json:"file_hashes"`
	AgentSignature string          `json:"agent_signature"`
	CheckedAt      string          `json:"checked_at"`
	Result         IntegrityResult `json:"result"`
}

// AuditEvent is an append-only log row written for every write request,
// success or failure.
type AuditEvent struct {
	Timestamp     string `json:"timestamp"`
	Action        string `json:"action"`
	Outcome       string `json:"outcome"`
	ActorPubkey   string `json:"actor_pubkey,omitempty"`
	SourceIP      string `json:"source_ip,omitempty"`
	SourceIPHash  string `json:"source_ip_hash"`
	UserAgent     string `json:"user_agent,omitempty"`
	DetailsJSON   string `json:"details_json,omitempty"`
}

// Identity is the directory record for any pubkey that has registered or
// been referenced by an accepted document.
type Identity struct {
	Pubkey    string `json:"pubkey"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
}

const (
	PinUnpinned     = "unpinned"
	PinRequested    = "pin_requested"
	PinPinned       = "pinned"
)

// PinRecord tracks an IPFS-style artifact CID referenced by an accepted
// attestation. The core service never pins content itself; this is a work
// queue for the external pinning helper.
type PinRecord struct {
	CID           string `json:"cid"`
	AttestationID string `json:"attestation_id"`
	PinStatus     string `json:"pin_status"`
	PinnedAt      string `json:"pinned_at,omitempty"`
}
