package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
	"github.com/kredo-network/kredo/internal/taxonomy"
)

// CreateCustomDomain inserts a creator-owned taxonomy domain.
func (d *DB) CreateCustomDomain(slug, label, creatorPubkey, now string, audit models.AuditEvent) error {
	return d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		if _, err := tx.Exec(
			`INSERT INTO custom_domains (slug, label, creator_pubkey, created_at) VALUES (?,?,?,?)`,
			slug, label, creatorPubkey, now,
		); err != nil {
			if isUniqueViolation(err) {
				return nil, kredoerr.Newf(kredoerr.Conflict, "domain %q already exists", slug)
			}
			return nil, fmt.Errorf("insert custom domain: %w", err)
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// CreateCustomSkill inserts a creator-owned skill under domainSlug, which
// must already exist (seed or custom) per the caller's taxonomy check.
func (d *DB) CreateCustomSkill(domainSlug, slug, label, creatorPubkey, now string, audit models.AuditEvent) error {
	return d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		if _, err := tx.Exec(
			`INSERT INTO custom_skills (domain_slug, slug, label, creator_pubkey, created_at) VALUES (?,?,?,?,?)`,
			domainSlug, slug, label, creatorPubkey, now,
		); err != nil {
			if isUniqueViolation(err) {
				return nil, kredoerr.Newf(kredoerr.Conflict, "skill %q already exists under %q", slug, domainSlug)
			}
			return nil, fmt.Errorf("insert custom skill: %w", err)
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// DeleteCustomDomain removes a custom domain, creator-only.
func (d *DB) DeleteCustomDomain(slug, requesterPubkey string, audit models.AuditEvent) error {
	return d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		var creator string
		err := tx.QueryRow(`SELECT creator_pubkey FROM custom_domains WHERE slug = ?`, slug).Scan(&creator)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kredoerr.New(kredoerr.NotFound, "unknown custom domain")
		}
		if err != nil {
			return nil, err
		}
		if creator != requesterPubkey {
			return nil, kredoerr.New(kredoerr.Permission, "only the creator may delete a custom domain")
		}
		if _, err := tx.Exec(`DELETE FROM custom_domains WHERE slug = ?`, slug); err != nil {
			return nil, fmt.Errorf("delete custom domain: %w", err)
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// DeleteCustomSkill removes a custom skill, creator-only.
func (d *DB) DeleteCustomSkill(domainSlug, slug, requesterPubkey string, audit models.AuditEvent) error {
	return d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		var creator string
		err := tx.QueryRow(`SELECT creator_pubkey FROM custom_skills WHERE domain_slug = ? AND slug = ?`, domainSlug, slug).Scan(&creator)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kredoerr.New(kredoerr.NotFound, "unknown custom skill")
		}
		if err != nil {
			return nil, err
		}
		if creator != requesterPubkey {
			return nil, kredoerr.New(kredoerr.Permission, "only the creator may delete a custom skill")
		}
		if _, err := tx.Exec(`DELETE FROM custom_skills WHERE domain_slug = ? AND slug = ?`, domainSlug, slug); err != nil {
			return nil, fmt.Errorf("delete custom skill: %w", err)
		}
		if err := insertAuditTx(tx, audit); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// ListCustomDomains implements taxonomy.CustomSource.
func (d *DB) ListCustomDomains() ([]taxonomy.Domain, error) {
	rows, err := d.sqlDB.Query(`SELECT slug, label, creator_pubkey FROM custom_domains`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []taxonomy.Domain
	for rows.Next() {
		var dm taxonomy.Domain
		if err := rows.Scan(&dm.Slug, &dm.Label, &dm.Creator); err != nil {
			return nil, err
		}
		dm.Custom = true
		out = append(out, dm)
	}
	return out, rows.Err()
}

// ListCustomSkills implements taxonomy.CustomSource.
func (d *DB) ListCustomSkills() ([]taxonomy.SkillEntry, error) {
	rows, err := d.sqlDB.Query(`SELECT domain_slug, slug, label, creator_pubkey FROM custom_skills`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []taxonomy.SkillEntry
	for rows.Next() {
		var s taxonomy.SkillEntry
		if err := rows.Scan(&s.DomainSlug, &s.Slug, &s.Label, &s.Creator); err != nil {
			return nil, err
		}
		s.Custom = true
		out = append(out, s)
	}
	return out, rows.Err()
}
