// Package registry persists content records and verification events in
// SQLite.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"virtius.io/virtius/errs"
)

// timeLayout keeps a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("registry: not found")

// ContentRecord is one protected upload. Locators are storage.Locator
// strings (cas://<cid>/<name>).
type ContentRecord struct {
	ID                 string
	UserID             string
	Filename           string
	OriginalHash       string
	ProtectedHash      string
	Signature          string
	PublicKey          string
	KeyFingerprint     string
	ManipulationScore  float64
	CloakingScore      float64
	CloakingLevel      string
	OriginalLocator    string
	ProtectedLocator   string
	CertificateLocator string
	CreatedAt          time.Time
}

// Verification is one lookup of a record by hash.
type Verification struct {
	ID          string
	ContentID   string
	QueriedHash string
	VerifiedAt  time.Time
}

// Registry is a SQLite-backed record store. It is safe for concurrent use.
type Registry struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and migrates the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "registry-open", "open database", err)
	}
	// One connection serialises writers and keeps ":memory:" databases whole.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindStorage, "registry-open", "set WAL mode", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindStorage, "registry-open", "migrate", err)
	}
	return &Registry{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS content (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL,
			filename            TEXT NOT NULL DEFAULT '',
			original_hash       TEXT NOT NULL,
			protected_hash      TEXT NOT NULL,
			signature           TEXT NOT NULL,
			public_key          TEXT NOT NULL,
			key_fingerprint     TEXT NOT NULL DEFAULT '',
			manipulation_score  REAL NOT NULL,
			cloaking_score      REAL NOT NULL,
			cloaking_level      TEXT NOT NULL,
			original_locator    TEXT NOT NULL DEFAULT '',
			protected_locator   TEXT NOT NULL DEFAULT '',
			certificate_locator TEXT NOT NULL DEFAULT '',
			created_at          TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS content_original_hash ON content (original_hash);
		CREATE INDEX IF NOT EXISTS content_protected_hash ON content (protected_hash);
		CREATE INDEX IF NOT EXISTS content_user ON content (user_id);
		CREATE TABLE IF NOT EXISTS verifications (
			id           TEXT PRIMARY KEY,
			content_id   TEXT NOT NULL REFERENCES content (id),
			queried_hash TEXT NOT NULL,
			verified_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS verifications_content ON verifications (content_id);
	`)
	return err
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

const contentColumns = `id, user_id, filename, original_hash, protected_hash, signature, public_key,
	key_fingerprint, manipulation_score, cloaking_score, cloaking_level,
	original_locator, protected_locator, certificate_locator, created_at`

// Put inserts rec. An empty ID is filled with a new ULID and a zero
// CreatedAt with the current time; both are written back to rec.
func (r *Registry) Put(ctx context.Context, rec *ContentRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO content (`+contentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Filename, rec.OriginalHash, rec.ProtectedHash, rec.Signature, rec.PublicKey,
		rec.KeyFingerprint, rec.ManipulationScore, rec.CloakingScore, rec.CloakingLevel,
		rec.OriginalLocator, rec.ProtectedLocator, rec.CertificateLocator,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "registry-put", "insert content", err)
	}
	return nil
}

// Get returns the record with the given ID.
func (r *Registry) Get(ctx context.Context, id string) (*ContentRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content WHERE id = ?`, id)
	return scanContent(row)
}

// FindByHash returns the earliest record whose original or protected hash
// equals hash.
func (r *Registry) FindByHash(ctx context.Context, hash string) (*ContentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM content
		WHERE original_hash = ? OR protected_hash = ?
		ORDER BY created_at, id LIMIT 1`, hash, hash)
	return scanContent(row)
}

// ListByUser returns a user's records, newest first.
func (r *Registry) ListByUser(ctx context.Context, userID string) ([]*ContentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM content WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "registry-list", "query content", err)
	}
	defer rows.Close()

	var out []*ContentRecord
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "registry-list", "iterate content", err)
	}
	return out, nil
}

// RecordVerification logs that contentID was looked up by hash.
func (r *Registry) RecordVerification(ctx context.Context, contentID, hash string) (*Verification, error) {
	v := &Verification{
		ID:          ulid.Make().String(),
		ContentID:   contentID,
		QueriedHash: hash,
		VerifiedAt:  r.now().UTC(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verifications (id, content_id, queried_hash, verified_at) VALUES (?, ?, ?, ?)`,
		v.ID, v.ContentID, v.QueriedHash, v.VerifiedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "registry-verify", "insert verification", err)
	}
	return v, nil
}

// Verifications lists the verification events of a record, oldest first.
func (r *Registry) Verifications(ctx context.Context, contentID string) ([]*Verification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, content_id, queried_hash, verified_at FROM verifications
		WHERE content_id = ? ORDER BY verified_at, id`, contentID)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "registry-verifications", "query verifications", err)
	}
	defer rows.Close()

	var out []*Verification
	for rows.Next() {
		var v Verification
		var at string
		if err := rows.Scan(&v.ID, &v.ContentID, &v.QueriedHash, &at); err != nil {
			return nil, errs.Wrap(errs.KindStorage, "registry-verifications", "scan verification", err)
		}
		t, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, errs.Wrap(errs.KindStorage, "registry-verifications", "parse timestamp", err)
		}
		v.VerifiedAt = t
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "registry-verifications", "iterate verifications", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContent(s scanner) (*ContentRecord, error) {
	var rec ContentRecord
	var created string
	err := s.Scan(
		&rec.ID, &rec.UserID, &rec.Filename, &rec.OriginalHash, &rec.ProtectedHash, &rec.Signature, &rec.PublicKey,
		&rec.KeyFingerprint, &rec.ManipulationScore, &rec.CloakingScore, &rec.CloakingLevel,
		&rec.OriginalLocator, &rec.ProtectedLocator, &rec.CertificateLocator, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "registry-scan", "scan content", err)
	}
	rec.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("registry: parse created_at %q: %w", created, err)
	}
	return &rec, nil
}
