package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/kredo-network/kredo/internal/kredoerr"
	"github.com/kredo-network/kredo/internal/models"
)

// RegisterUnsigned creates the identity row on first sight and never
// overwrites an existing name/type; it only bumps last_seen to now.
func (d *DB) RegisterUnsigned(pubkey, name, typ, now string) (models.Identity, bool, error) {
	var created bool
	var view models.Identity

	err := d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		existing, err := getIdentityTx(tx, pubkey)
		if err == nil {
			if _, err := tx.Exec(`UPDATE identities SET last_seen = ? WHERE pubkey = ?`, now, pubkey); err != nil {
				return nil, fmt.Errorf("touch identity: %w", err)
			}
			view = existing
			view.LastSeen = now
			created = false
			return []string{pubkey}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		if _, err := tx.Exec(
			`INSERT INTO identities (pubkey, name, type, first_seen, last_seen) VALUES (?, ?, ?, ?, ?)`,
			pubkey, name, typ, now, now,
		); err != nil {
			return nil, fmt.Errorf("insert identity: %w", err)
		}
		view = models.Identity{Pubkey: pubkey, Name: name, Type: typ, FirstSeen: now, LastSeen: now}
		created = true
		return []string{pubkey}, nil
	})
	if err != nil {
		return models.Identity{}, false, err
	}
	return view, created, nil
}

// RegisterUpdate applies a signature-verified metadata change. The caller
// is responsible for verifying the signature before calling this; the
// store only enforces that the pubkey already exists.
func (d *DB) RegisterUpdate(pubkey, name, typ, now string) (models.Identity, error) {
	var view models.Identity
	err := d.withWriteTx(func(tx *sql.Tx) ([]string, error) {
		existing, err := getIdentityTx(tx, pubkey)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kredoerr.New(kredoerr.NotFound, "unknown pubkey")
		}
		if err != nil {
			return nil, err
		}
		_ = existing

		if _, err := tx.Exec(
			`UPDATE identities SET name = ?, type = ?, last_seen = ? WHERE pubkey = ?`,
			name, typ, now, pubkey,
		); err != nil {
			return nil, fmt.Errorf("update identity: %w", err)
		}
		view = models.Identity{Pubkey: pubkey, Name: name, Type: typ, FirstSeen: existing.FirstSeen, LastSeen: now}
		return []string{pubkey}, nil
	})
	if err != nil {
		return models.Identity{}, err
	}
	return view, nil
}

// TouchKnownKey upserts the known-key directory cache for pubkey: creates
// the row with the given defaults if unseen, otherwise only bumps
// last_seen. It never overrides registration, matching RegisterUnsigned's
// contract — in fact it shares the same underlying table.
func (d *DB) TouchKnownKey(tx *sql.Tx, pubkey, defaultName, defaultType, now string) error {
	_, err := getIdentityTx(tx, pubkey)
	if err == nil {
		_, err := tx.Exec(`UPDATE identities SET last_seen = ? WHERE pubkey = ?`, now, pubkey)
		return err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO identities (pubkey, name, type, first_seen, last_seen) VALUES (?, ?, ?, ?, ?)`,
		pubkey, defaultName, defaultType, now, now,
	)
	return err
}

func getIdentityTx(tx *sql.Tx, pubkey string) (models.Identity, error) {
	var id models.Identity
	err := tx.QueryRow(
		`SELECT pubkey, name, type, first_seen, last_seen FROM identities WHERE pubkey = ?`, pubkey,
	).Scan(&id.Pubkey, &id.Name, &id.Type, &id.FirstSeen, &id.LastSeen)
	return id, err
}

// GetIdentity looks up a single identity by pubkey.
func (d *DB) GetIdentity(pubkey string) (models.Identity, error) {
	var id models.Identity
	err := d.sqlDB.QueryRow(
		`SELECT pubkey, name, type, first_seen, last_seen FROM identities WHERE pubkey = ?`, pubkey,
	).Scan(&id.Pubkey, &id.Name, &id.Type, &id.FirstSeen, &id.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Identity{}, kredoerr.New(kredoerr.NotFound, "unknown pubkey")
	}
	if err != nil {
		return models.Identity{}, err
	}
	return id, nil
}

// ListIdentities returns registered identities, newest-first, paginated.
func (d *DB) ListIdentities(limit, offset int) ([]models.Identity, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := d.sqlDB.Query(
		`SELECT pubkey, name, type, first_seen, last_seen FROM identities ORDER BY last_seen DESC, pubkey ASC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		var id models.Identity
		if err := rows.Scan(&id.Pubkey, &id.Name, &id.Type, &id.FirstSeen, &id.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
