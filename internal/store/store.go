// Package store persists clipboard history in SQLite.
//
// Every selection becomes one row in the selection table plus one row per
// offer in the offer table. Offer bytes live outside the database in a
// content directory, one file per offer named by the offer id, optionally
// sealed by a Cipher. Text and link offers are indexed in an FTS5 table.
//
// Writes stage content files before the transaction commits and move them
// into place afterwards, so a crash can leave orphan files but never rows
// that point at missing content. SweepOrphans removes the leftovers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"go.klb.dev/clipvault/internal/selection"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

const (
	dbFile     = "history.db"
	contentDir = "content"
	tmpSuffix  = ".tmp"
)

var (
	// ErrNotFound is returned when no selection has the given id.
	ErrNotFound = errors.New("store: selection not found")
	// ErrEmptySelection is returned when inserting a selection without offers.
	ErrEmptySelection = errors.New("store: selection has no offers")
	// ErrNoCipher is returned when reading sealed content without a Cipher.
	ErrNoCipher = errors.New("store: content is encrypted and no cipher is configured")
)

// Encryption records how an offer's content file was written.
type Encryption string

const (
	EncryptionNone  Encryption = "none"
	EncryptionLocal Encryption = "local"
)

// Cipher seals content before it is written and opens it when read back.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(sealed []byte) ([]byte, error)
}

// StoredSelection is a persisted selection row.
type StoredSelection struct {
	ID                string
	Hash              string
	PreferredMimeType string
	Kind              selection.Kind
	OfferCount        int
	Source            string
	Keywords          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PinnedAt          *time.Time
}

// Pinned reports whether the selection is pinned.
func (s StoredSelection) Pinned() bool { return s.PinnedAt != nil }

// StoredOffer is a persisted offer row. Its bytes are in the content file
// named by ID.
type StoredOffer struct {
	ID          string
	SelectionID string
	Position    int
	MimeType    string
	TextPreview string
	ContentHash string
	Size        int64
	Encryption  Encryption
	URLHost     string
}

// Store is the history database plus its content directory.
type Store struct {
	db         *sql.DB
	dir        string
	contentDir string
	cipher     Cipher
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCipher sets the cipher used for encrypted inserts and reads.
func WithCipher(c Cipher) Option {
	return func(s *Store) { s.cipher = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the store rooted at dir.
// The dir parameter allows tests to use t.TempDir().
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	_ = os.Chmod(dir, 0o700)

	s := &Store{
		dir:        dir,
		contentDir: filepath.Join(dir, contentDir),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.contentDir, 0o700); err != nil {
		return nil, fmt.Errorf("create content directory: %w", err)
	}
	_ = os.Chmod(s.contentDir, 0o700)

	// Pragmas in the DSN apply to every pooled connection.
	dbPath := filepath.Join(dir, dbFile)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(dbPath, 0o600)

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// ContentPath returns the content file path of an offer.
func (s *Store) ContentPath(offerID string) string {
	return filepath.Join(s.contentDir, offerID)
}

func (s *Store) migrate() error {
	version, err := s.userVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS selection (
		  id                  TEXT PRIMARY KEY,
		  hash                TEXT NOT NULL UNIQUE,
		  preferred_mime_type TEXT NOT NULL,
		  kind                TEXT NOT NULL,
		  offer_count         INTEGER NOT NULL,
		  source              TEXT,
		  keywords            TEXT NOT NULL DEFAULT '',
		  created_at          INTEGER NOT NULL,
		  updated_at          INTEGER NOT NULL,
		  pinned_at           INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_selection_order
		ON selection(pinned_at DESC, updated_at DESC);

		CREATE TABLE IF NOT EXISTS offer (
		  id              TEXT PRIMARY KEY,
		  selection_id    TEXT NOT NULL REFERENCES selection(id) ON DELETE CASCADE,
		  position        INTEGER NOT NULL,
		  mime_type       TEXT NOT NULL,
		  text_preview    TEXT NOT NULL,
		  content_hash    TEXT NOT NULL,
		  encryption_kind TEXT NOT NULL,
		  size            INTEGER NOT NULL,
		  url_host        TEXT
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_offer_selection_mime
		ON offer(selection_id, mime_type);
		`
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := s.setUserVersion(1); err != nil {
			return err
		}
	}

	if version < 2 {
		schema := `
		CREATE VIRTUAL TABLE IF NOT EXISTS selection_fts USING fts5(
		  selection_id UNINDEXED,
		  content
		);
		`
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := s.setUserVersion(2); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) userVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func (s *Store) setUserVersion(version int) error {
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Count returns the number of stored selections.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM selection`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count selections: %w", err)
	}
	return n, nil
}

// SweepOrphans removes content files that no offer row refers to, including
// files staged by an insert that never committed. It returns how many files
// were removed.
func (s *Store) SweepOrphans(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.contentDir)
	if err != nil {
		return 0, fmt.Errorf("read content directory: %w", err)
	}

	known := make(map[string]struct{})
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM offer`)
	if err != nil {
		return 0, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan offer id: %w", err)
		}
		known[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("list offers: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := known[e.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.contentDir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove orphan %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := millis(v.Int64)
	return &t
}

func millis(v int64) time.Time { return time.UnixMilli(v) }
