// Package storage is the Store (C3): the single transactional database
// owning every persistent Kredo invariant. All document inserts follow the
// same three-step shape inside one transaction — uniqueness/state checks,
// row insert, audit row insert — mirroring the teacher's sqlite.go idiom of
// a thin *sql.DB wrapper plus an inline migration string.
package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database. Writers are
// additionally serialized through an in-process mutex: SQLite allows only
// one writer at a time regardless of connection count, and taking the lock
// in Go avoids surfacing SQLITE_BUSY to callers under normal load.
type DB struct {
	sqlDB *sql.DB
	wmu   sync.Mutex

	invalidate []func(pubkeys ...string)
}

// NewDB opens (or creates) a SQLite database at path and runs schema
// migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{sqlDB: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.sqlDB.Close()
}

// OnInvalidate registers a callback invoked after any committed write that
// touches the given pubkeys, so the Trust Engine cache can drop stale
// entries. Called once per write transaction, not per row.
func (d *DB) OnInvalidate(fn func(pubkeys ...string)) {
	d.invalidate = append(d.invalidate, fn)
}

func (d *DB) notifyInvalidate(pubkeys ...string) {
	for _, fn := range d.invalidate {
		fn(pubkeys...)
	}
}

// withWriteTx runs fn inside a transaction while holding the write mutex,
// committing on success and rolling back on any error, then firing
// invalidation callbacks for touchedPubkeys (collected by fn via the
// returned slice).
func (d *DB) withWriteTx(fn func(tx *sql.Tx) ([]string, error)) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()

	tx, err := d.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	touched, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	if len(touched) > 0 {
		d.notifyInvalidate(touched...)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func migrations() []string {
	return []string{
		// v1: core document and directory tables.
		`
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
    pubkey TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attestations (
    id TEXT PRIMARY KEY,
    kredo TEXT NOT NULL,
    type TEXT NOT NULL,
    subject_pubkey TEXT NOT NULL,
    subject_name TEXT,
    attestor_pubkey TEXT NOT NULL,
    attestor_name TEXT,
    attestor_type TEXT NOT NULL,
    domain TEXT,
    specific TEXT,
    proficiency INTEGER,
    warning_category TEXT,
    context TEXT NOT NULL,
    artifacts_json TEXT NOT NULL,
    outcome TEXT,
    interaction_date TEXT,
    issued TEXT NOT NULL,
    expires TEXT NOT NULL,
    signature TEXT NOT NULL,
    score_specificity REAL NOT NULL,
    score_verifiability REAL NOT NULL,
    score_relevance REAL NOT NULL,
    score_recency REAL NOT NULL,
    score_composite REAL NOT NULL,
    revoked_at TEXT,
    revoker_pubkey TEXT
);
CREATE INDEX IF NOT EXISTS idx_attestations_subject ON attestations(subject_pubkey);
CREATE INDEX IF NOT EXISTS idx_attestations_attestor ON attestations(attestor_pubkey);
CREATE INDEX IF NOT EXISTS idx_attestations_issued ON attestations(issued);

CREATE TABLE IF NOT EXISTS revocations (
    id TEXT PRIMARY KEY,
    attestation_id TEXT NOT NULL,
    revoker_pubkey TEXT NOT NULL,
    revoker_name TEXT,
    reason TEXT,
    issued TEXT NOT NULL,
    signature TEXT NOT NULL,
    FOREIGN KEY (attestation_id) REFERENCES attestations(id)
);

CREATE TABLE IF NOT EXISTS disputes (
    id TEXT PRIMARY KEY,
    warning_id TEXT NOT NULL,
    disputor_pubkey TEXT NOT NULL,
    disputor_name TEXT,
    response TEXT NOT NULL,
    issued TEXT NOT NULL,
    signature TEXT NOT NULL,
    FOREIGN KEY (warning_id) REFERENCES attestations(id)
);

CREATE TABLE IF NOT EXISTS ownership_claims (
    claim_id TEXT PRIMARY KEY,
    agent_pubkey TEXT NOT NULL,
    human_pubkey TEXT NOT NULL,
    claim_signature TEXT NOT NULL,
    confirm_signature TEXT,
    state TEXT NOT NULL,
    claimed_at TEXT NOT NULL,
    confirmed_at TEXT,
    revoked_at TEXT,
    revoker TEXT,
    revoke_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_ownership_agent ON ownership_claims(agent_pubkey);

CREATE TABLE IF NOT EXISTS integrity_baselines (
    baseline_id TEXT PRIMARY KEY,
    agent_pubkey TEXT NOT NULL,
    owner_pubkey TEXT NOT NULL,
    file_hashes_json TEXT NOT NULL,
    owner_signature TEXT NOT NULL,
    set_at TEXT NOT NULL,
    status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_integrity_baselines_agent ON integrity_baselines(agent_pubkey, status);

CREATE TABLE IF NOT EXISTS integrity_checks (
    check_id TEXT PRIMARY KEY,
    agent_pubkey TEXT NOT NULL,
    file_hashes_json TEXT NOT NULL,
    agent_signature TEXT NOT NULL,
    checked_at TEXT NOT NULL,
    result_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_integrity_checks_agent ON integrity_checks(agent_pubkey, checked_at);

CREATE TABLE IF NOT EXISTS audit_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    action TEXT NOT NULL,
    outcome TEXT NOT NULL,
    actor_pubkey TEXT,
    source_ip TEXT,
    source_ip_hash TEXT NOT NULL,
    user_agent TEXT,
    details_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_source_hash ON audit_events(source_ip_hash, timestamp);

CREATE TABLE IF NOT EXISTS custom_domains (
    slug TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    creator_pubkey TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS custom_skills (
    domain_slug TEXT NOT NULL,
    slug TEXT NOT NULL,
    label TEXT NOT NULL,
    creator_pubkey TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (domain_slug, slug)
);

CREATE TABLE IF NOT EXISTS human_contacts (
    pubkey TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    set_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pin_records (
    cid TEXT PRIMARY KEY,
    attestation_id TEXT NOT NULL,
    pin_status TEXT NOT NULL,
    pinned_at TEXT
);
`,
	}
}

// migrate applies every migration whose version has not yet been recorded
// in schema_migrations, in order, each within its own transaction.
func (d *DB) migrate() error {
	if _, err := d.sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	var applied int
	if err := d.sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("count migrations: %w", err)
	}

	all := migrations()
	for v := applied; v < len(all); v++ {
		tx, err := d.sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(all[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, strftime('%s','now'))`, v+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
	}
	return nil
}
