// Package taxonomy implements the in-store versioned skill taxonomy: a
// bundled seed of domains/skills merged with signed, creator-owned custom
// additions, cached in memory with copy-on-write invalidation.
package taxonomy

import (
	"regexp"
	"sync"

	"github.com/kredo-network/kredo/internal/kredoerr"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidIdentifier reports whether s is a legal domain or skill slug.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Domain is a taxonomy domain as served to clients, seed or custom.
type Domain struct {
	Slug     string `json:"slug"`
	Label    string `json:"label"`
	Custom   bool   `json:"custom"`
	Creator  string `json:"creator_pubkey,omitempty"`
}

// SkillEntry is a taxonomy skill as served to clients, seed or custom.
type SkillEntry struct {
	DomainSlug string `json:"domain"`
	Slug       string `json:"slug"`
	Label      string `json:"label"`
	Custom     bool   `json:"custom"`
	Creator    string `json:"creator_pubkey,omitempty"`
}

// CustomSource supplies store-held custom domains/skills. It is satisfied
// by internal/storage.DB; kept as an interface here so taxonomy has no
// import-time dependency on the storage package.
type CustomSource interface {
	ListCustomDomains() ([]Domain, error)
	ListCustomSkills() ([]SkillEntry, error)
}

// Registry serves the merged seed+custom taxonomy, cached in memory and
// invalidated (copy-on-write) whenever a mutation is applied.
type Registry struct {
	mu      sync.RWMutex
	version int
	domains []Domain
	skills  map[string][]SkillEntry // keyed by domain slug

	source CustomSource
}

// New builds a Registry seeded from the bundled taxonomy and backed by
// source for custom entries. The cache is populated lazily on first read.
func New(source CustomSource) *Registry {
	return &Registry{source: source}
}

// Version returns the current cache generation, bumped on every mutation.
func (r *Registry) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Invalidate forces the next read to rebuild the merged view from the seed
// plus the current store-held custom entries.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains = nil
	r.skills = nil
	r.version++
}

func (r *Registry) ensureLoaded() error {
	r.mu.RLock()
	loaded := r.domains != nil
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	domains := make([]Domain, 0, len(seedDomains))
	skills := make(map[string][]SkillEntry, len(seedDomains))
	for _, d := range seedDomains {
		domains = append(domains, Domain{Slug: d.Slug, Label: d.Label})
		entries := make([]SkillEntry, 0, len(d.Skills))
		for _, s := range d.Skills {
			entries = append(entries, SkillEntry{DomainSlug: d.Slug, Slug: s.Slug, Label: s.Label})
		}
		skills[d.Slug] = entries
	}

	if r.source != nil {
		customDomains, err := r.source.ListCustomDomains()
		if err != nil {
			return err
		}
		domains = append(domains, customDomains...)

		customSkills, err := r.source.ListCustomSkills()
		if err != nil {
			return err
		}
		for _, s := range customSkills {
			skills[s.DomainSlug] = append(skills[s.DomainSlug], s)
		}
	}

	r.mu.Lock()
	r.domains = domains
	r.skills = skills
	r.mu.Unlock()
	return nil
}

// Domains returns all domains, seed plus custom.
func (r *Registry) Domains() ([]Domain, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Domain, len(r.domains))
	copy(out, r.domains)
	return out, nil
}

// Skills returns the skills under domainSlug, or an empty slice if the
// domain does not exist.
func (r *Registry) Skills(domainSlug string) ([]SkillEntry, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SkillEntry, len(r.skills[domainSlug]))
	copy(out, r.skills[domainSlug])
	return out, nil
}

// IsValidSkill reports whether domainSlug/specificSlug exists in the
// merged taxonomy.
func (r *Registry) IsValidSkill(domainSlug, specificSlug string) (bool, error) {
	skills, err := r.Skills(domainSlug)
	if err != nil {
		return false, err
	}
	for _, s := range skills {
		if s.Slug == specificSlug {
			return true, nil
		}
	}
	return false, nil
}

// ValidateSkill returns a validation_error if domain/specific is not a
// recognized taxonomy entry.
func (r *Registry) ValidateSkill(domainSlug, specificSlug string) error {
	domains, err := r.Domains()
	if err != nil {
		return err
	}
	found := false
	for _, d := range domains {
		if d.Slug == domainSlug {
			found = true
			break
		}
	}
	if !found {
		return kredoerr.Newf(kredoerr.Validation, "unknown domain %q", domainSlug)
	}
	ok, err := r.IsValidSkill(domainSlug, specificSlug)
	if err != nil {
		return err
	}
	if !ok {
		return kredoerr.Newf(kredoerr.Validation, "unknown skill %q under domain %q", specificSlug, domainSlug)
	}
	return nil
}
