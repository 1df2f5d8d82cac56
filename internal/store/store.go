package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/rolodex/internal/contact"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - Initial rolodex schema
const currentSchemaVersion = 1

// OOB scope and key holding the per-database identifier.
const (
	metaScope       = "rolodex"
	databaseUUIDKey = "database_uuid"
)

// Store provides durable storage for contacts, relationships and OOB data.
// Uses SQLite with WAL mode so reads never block on the writer.
type Store struct {
	db     *sqlx.DB // single write connection
	read   *sqlx.DB // read-only pool
	path   string
	logger *slog.Logger
}

// fileDSN builds a file: URI for path. The path is percent-escaped so a
// '?', '#' or '%' in it is not read as part of the query; SQLite decodes
// it again.
func fileDSN(path string, params url.Values) string {
	u := url.URL{
		Scheme:   "file",
		Opaque:   (&url.URL{Path: path}).EscapedPath(),
		RawQuery: params.Encode(),
	}
	return u.String()
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Failures are reported as contact.CodeStorageUnavailable.
func Open(path string) (*Store, error) {
	// Writer transactions take the write lock up front so a deferred
	// upgrade never fails with SQLITE_BUSY mid-transaction.
	db, err := sqlx.Open("sqlite3", fileDSN(path, url.Values{"_txlock": {"immediate"}}))
	if err != nil {
		return nil, contact.NewStorageUnavailable("open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, contact.NewStorageUnavailable("connect to database", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, contact.NewStorageUnavailable("apply pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, contact.NewStorageUnavailable("apply schema", err)
	}

	// Pragmas are per connection, so the pool gets them through the DSN.
	read, err := sqlx.Open("sqlite3", fileDSN(path, url.Values{
		"mode":          {"ro"},
		"_busy_timeout": {"5000"},
		"_foreign_keys": {"on"},
	}))
	if err != nil {
		db.Close()
		return nil, contact.NewStorageUnavailable("open read pool", err)
	}
	read.SetMaxOpenConns(4)

	if err := read.Ping(); err != nil {
		db.Close()
		read.Close()
		return nil, contact.NewStorageUnavailable("connect read pool", err)
	}

	s := &Store{db: db, read: read, path: path, logger: slog.Default()}
	if err := s.ensureDatabaseUUID(context.Background()); err != nil {
		s.Close()
		return nil, contact.NewStorageUnavailable("initialize database uuid", err)
	}

	return s, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	var errs []error
	if s.read != nil {
		errs = append(errs, s.read.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Update runs fn inside a write transaction. Any error returned by fn
// rolls the whole transaction back.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return contact.NewStorageUnavailable("begin write transaction", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapError(err))
	}
	return nil
}

// View runs fn against a consistent snapshot of committed state.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.read.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return contact.NewStorageUnavailable("begin read transaction", err)
	}
	defer sqlTx.Rollback()

	return fn(&Tx{q: sqlTx})
}

// DatabaseUUID returns the identifier generated when the database was created.
func (s *Store) DatabaseUUID(ctx context.Context) (string, error) {
	var id string
	err := s.View(ctx, func(tx *Tx) error {
		v, ok, err := tx.FetchOOB(ctx, metaScope, databaseUUIDKey)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("database uuid missing")
		}
		id = string(v)
		return nil
	})
	return id, err
}

func (s *Store) ensureDatabaseUUID(ctx context.Context) error {
	return s.Update(ctx, func(tx *Tx) error {
		_, ok, err := tx.FetchOOB(ctx, metaScope, databaseUUIDKey)
		if err != nil || ok {
			return err
		}
		id := uuid.Must(uuid.NewV7()).String()
		s.logger.Info("initialized database", "path", s.path, "uuid", id)
		return tx.StoreOOB(ctx, metaScope, map[string][]byte{databaseUUIDKey: []byte(id)})
	})
}

// applyPragmas sets required SQLite configuration on the writer connection.
func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sqlx.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations records the schema version in user_version. Future
// incremental migrations slot in before the final PRAGMA.
func runMigrations(db *sqlx.DB) error {
	var version int
	if err := db.Get(&version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.Get(&value, fmt.Sprintf("PRAGMA %s", name)); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// mapError converts SQLite constraint failures into contact errors.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return &contact.Error{
			Code:    contact.CodeConstraintViolation,
			Message: "storage constraint failed",
			Err:     err,
		}
	}
	return err
}
