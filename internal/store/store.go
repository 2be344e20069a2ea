package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/text/cases"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Driver names accepted by New.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("store: unique constraint violated")
	// ErrSessionExists is returned by CreateSession when the user already has a session.
	ErrSessionExists = errors.New("store: user already has a session")
	// ErrSessionClosed is returned by RecordAnswer for a missing or completed session.
	ErrSessionClosed = errors.New("store: session is not active")
	// ErrOptionMismatch is returned by RecordAnswer when the option does not belong to the question.
	ErrOptionMismatch = errors.New("store: option does not belong to question")
	// ErrAlreadyRegistered is returned by RegisterUser when the chat identity is already linked.
	ErrAlreadyRegistered = errors.New("store: telegram account already registered")
	// ErrPINNotFound is returned by RegisterUser when no roster record has the PIN.
	ErrPINNotFound = errors.New("store: pin not found")
	// ErrPINTaken is returned by RegisterUser when the roster record is linked to another account.
	ErrPINTaken = errors.New("store: pin already linked")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db     *sql.DB
	driver string
}

// New opens the database for the given driver and applies the schema.
// For sqlite the dsn is a file path or ":memory:".
func New(driver, dsn string) (*Store, error) {
	var db *sql.DB
	var err error
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err == nil {
			// One connection serializes writers and keeps ":memory:" databases alive.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports which database driver the store uses.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interns (
		id {{ID}},
		pin TEXT NOT NULL,
		pin_key TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		eligibility_day TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interns_eligibility_day ON interns(eligibility_day);

	CREATE TABLE IF NOT EXISTS users (
		id {{ID}},
		telegram_id BIGINT NOT NULL UNIQUE,
		username TEXT NOT NULL DEFAULT '',
		intern_id BIGINT NOT NULL UNIQUE,
		created_at {{TS}} NOT NULL,
		FOREIGN KEY (intern_id) REFERENCES interns(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id {{ID}},
		text TEXT NOT NULL,
		image_path TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS answer_options (
		id {{ID}},
		question_id BIGINT NOT NULL,
		text TEXT NOT NULL,
		is_correct BOOLEAN NOT NULL DEFAULT FALSE,
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS test_sessions (
		id {{ID}},
		user_id BIGINT NOT NULL UNIQUE,
		start_time {{TS}} NOT NULL,
		end_time {{TS}},
		score INTEGER NOT NULL DEFAULT 0,
		max_score INTEGER NOT NULL,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS user_answers (
		id {{ID}},
		session_id BIGINT NOT NULL,
		question_id BIGINT NOT NULL,
		selected_option_id BIGINT NOT NULL,
		is_correct BOOLEAN NOT NULL,
		answered_at {{TS}} NOT NULL,
		UNIQUE (session_id, question_id),
		FOREIGN KEY (session_id) REFERENCES test_sessions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id),
		FOREIGN KEY (selected_option_id) REFERENCES answer_options(id)
	);

	CREATE TABLE IF NOT EXISTS test_progress (
		telegram_id BIGINT PRIMARY KEY,
		session_id BIGINT NOT NULL,
		question_ids TEXT NOT NULL,
		current_index INTEGER NOT NULL DEFAULT 0,
		updated_at {{TS}} NOT NULL
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME"
	if s.driver == DriverPostgres {
		id, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	schema = strings.NewReplacer("{{ID}}", id, "{{TS}}", ts).Replace(schema)
	_, err := s.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders into the driver's syntax.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn inside a transaction and commits when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapConstraint(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapConstraint wraps unique violations from either driver with ErrConflict.
func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

// PINKey normalizes a PIN for case-insensitive matching.
func PINKey(pin string) string {
	return cases.Fold().String(strings.TrimSpace(pin))
}
