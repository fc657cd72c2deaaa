package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"omniacore/internal/logging"
	"omniacore/internal/types"
)

// SQLiteStore persists extractors and bindings in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the store at path and initializes the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("registry store opened at %s", path)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS extractors (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		locale TEXT NOT NULL,
		version INTEGER NOT NULL,
		engine TEXT NOT NULL,
		pre_normalize_rules TEXT NOT NULL DEFAULT '[]',
		post_sanitize_rules TEXT NOT NULL DEFAULT '[]',
		options TEXT NOT NULL DEFAULT '{}',
		test_cases TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_extractors_kind_locale ON extractors(kind, locale, active);

	CREATE TABLE IF NOT EXISTS bindings (
		scope TEXT NOT NULL,
		target_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		locale TEXT NOT NULL,
		extractor_id TEXT NOT NULL,
		PRIMARY KEY (scope, target_id, kind, locale)
	);

	CREATE TABLE IF NOT EXISTS test_feedback (
		extractor_id TEXT NOT NULL,
		phrase_key TEXT NOT NULL,
		value TEXT NOT NULL,
		expected TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (extractor_id, phrase_key)
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the handle for sibling stores (feedback) sharing the file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// GetExtractor returns an extractor by id.
func (s *SQLiteStore) GetExtractor(id string) (*Extractor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT id, kind, locale, version, engine,
		pre_normalize_rules, post_sanitize_rules, options, test_cases, active
		FROM extractors WHERE id = ?`, id)
	return scanExtractor(row)
}

// ActiveExtractor looks up the global binding for (kind, locale) and loads
// the referenced extractor filtered by active.
func (s *SQLiteStore) ActiveExtractor(kind types.Kind, locale string) (*Extractor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var extractorID string
	err := s.db.QueryRow(`SELECT extractor_id FROM bindings
		WHERE scope = ? AND target_id = ? AND kind = ? AND locale = ?`,
		ScopeGlobal, TargetAny, kind.String(), locale).Scan(&extractorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrExtractorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("binding lookup failed: %w", err)
	}

	// The binding points at a lineage; the active version may be a newer
	// record for the same kind/locale published after the binding was made.
	row := s.db.QueryRow(`SELECT id, kind, locale, version, engine,
		pre_normalize_rules, post_sanitize_rules, options, test_cases, active
		FROM extractors
		WHERE kind = ? AND locale = ? AND active = 1
		ORDER BY version DESC LIMIT 1`, kind.String(), locale)
	e, err := scanExtractor(row)
	if errors.Is(err, types.ErrExtractorNotFound) {
		return nil, types.ErrExtractorNotFound
	}
	return e, err
}

// PutExtractor inserts a new extractor record.
func (s *SQLiteStore) PutExtractor(e *Extractor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertExtractor(s.db, e)
}

// Publish inserts a new version and flips the active flag from any older
// version of the same (kind, locale) in a single transaction.
func (s *SQLiteStore) Publish(e *Extractor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin publish: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE extractors SET active = 0 WHERE kind = ? AND locale = ?`,
		e.Kind.String(), e.Locale); err != nil {
		return fmt.Errorf("failed to deactivate old versions: %w", err)
	}
	e.Active = true
	if err := insertExtractor(tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit publish: %w", err)
	}
	logging.Store("published extractor %s (%s/%s v%d)", e.ID, e.Kind, e.Locale, e.Version)
	return nil
}

// PutBinding upserts a binding.
func (s *SQLiteStore) PutBinding(b *Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO bindings (scope, target_id, kind, locale, extractor_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, target_id, kind, locale) DO UPDATE SET extractor_id = excluded.extractor_id`,
		b.Scope, b.TargetID, b.Kind.String(), b.Locale, b.ExtractorID)
	if err != nil {
		return fmt.Errorf("failed to upsert binding: %w", err)
	}
	return nil
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insertExtractor(db execer, e *Extractor) error {
	pre, _ := json.Marshal(e.PreNormalizeRules)
	post, _ := json.Marshal(e.PostSanitizeRules)
	opts, _ := json.Marshal(e.Options)
	cases, _ := json.Marshal(e.TestCases)
	_, err := db.Exec(`INSERT INTO extractors
		(id, kind, locale, version, engine, pre_normalize_rules, post_sanitize_rules, options, test_cases, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind.String(), e.Locale, e.Version, string(e.Engine),
		string(pre), string(post), string(opts), string(cases), boolToInt(e.Active))
	if err != nil {
		return fmt.Errorf("failed to insert extractor %s: %w", e.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExtractor(row rowScanner) (*Extractor, error) {
	var e Extractor
	var kind, engine, pre, post, opts, cases string
	var active int
	err := row.Scan(&e.ID, &kind, &e.Locale, &e.Version, &engine, &pre, &post, &opts, &cases, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrExtractorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan extractor: %w", err)
	}
	e.Kind = types.ParseKind(kind)
	if ek, ok := types.ParseEngineKind(engine); ok {
		e.Engine = ek
	} else {
		return nil, fmt.Errorf("extractor %s has unknown engine %q: %w", e.ID, engine, types.ErrSchemaInvalid)
	}
	_ = json.Unmarshal([]byte(pre), &e.PreNormalizeRules)
	_ = json.Unmarshal([]byte(post), &e.PostSanitizeRules)
	_ = json.Unmarshal([]byte(opts), &e.Options)
	_ = json.Unmarshal([]byte(cases), &e.TestCases)
	e.Active = active != 0
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
