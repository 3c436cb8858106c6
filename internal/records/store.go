// Package records is the relational lookup path for PCR documents: a SQLite
// table of catalog records searched by keyword.
package records

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	// ErrNotFound is returned by Get for an unknown registration number.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidQuery rejects out-of-range skip or limit values.
	ErrInvalidQuery = errors.New("invalid query")
)

// MaxLimit bounds ListOptions.Limit.
const MaxLimit = 1000

//go:embed migrations/*.sql
var migrationsFS embed.FS

const columns = "pcr_reg_no, pcr_source_type, document_name, developer, version, " +
	"approval_date, effective_date, product_scope, download_link, feedback_link, ccc_codes"

const upsertSQL = "INSERT OR REPLACE INTO pcr_records (" + columns + ") " +
	"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

// Store keeps PCR records in SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies
// migrations. The parent directory is created.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, errors.New("records path is required")
	}
	path, err := config.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("records store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(filepath.Base(name), "%d_", &version); err != nil || version <= current {
			continue
		}
		body, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", zap.String("name", name))
	}
	return nil
}

// UpsertResult reports what Upsert wrote.
type UpsertResult struct {
	Written int `json:"written"`
	// Skipped counts records without a registration number.
	Skipped int `json:"skipped"`
}

// Upsert inserts or replaces recs in one transaction, keyed by registration
// number. Records without one are skipped.
func (s *Store) Upsert(ctx context.Context, recs []pcr.Record) (UpsertResult, error) {
	var res UpsertResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return res, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if strings.TrimSpace(r.RegNo) == "" {
			res.Skipped++
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			r.RegNo, r.SourceType, r.DocumentName, r.Developer, r.Version,
			r.ApprovalDate, r.EffectiveDate, r.ProductScope, r.DownloadLink,
			r.FeedbackLink, r.CCCCodes,
		); err != nil {
			return UpsertResult{}, fmt.Errorf("upserting %s: %w", r.RegNo, err)
		}
		res.Written++
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("committing: %w", err)
	}
	if res.Skipped > 0 {
		s.logger.Warn("skipped records without registration number", zap.Int("skipped", res.Skipped))
	}
	return res, nil
}

// ListOptions selects a page of records.
type ListOptions struct {
	Skip  int
	Limit int
	// Search matches document name, developer or product scope, case-insensitively.
	Search string
}

// Validate checks Skip >= 0 and 1 <= Limit <= MaxLimit.
func (o ListOptions) Validate() error {
	if o.Skip < 0 {
		return fmt.Errorf("%w: skip must be >= 0, got %d", ErrInvalidQuery, o.Skip)
	}
	if o.Limit < 1 || o.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be in [1, %d], got %d", ErrInvalidQuery, MaxLimit, o.Limit)
	}
	return nil
}

// likePattern escapes LIKE metacharacters in term.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// List returns a page of records in insertion order.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]pcr.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	query := "SELECT " + columns + " FROM pcr_records"
	var args []any
	if term := strings.TrimSpace(opts.Search); term != "" {
		query += ` WHERE document_name LIKE ? ESCAPE '\' OR developer LIKE ? ESCAPE '\' OR product_scope LIKE ? ESCAPE '\'`
		p := likePattern(term)
		args = append(args, p, p, p)
	}
	query += " ORDER BY rowid LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	out := []pcr.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns the record with the given registration number.
func (s *Store) Get(ctx context.Context, regNo string) (pcr.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM pcr_records WHERE pcr_reg_no = ?", regNo)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pcr.Record{}, fmt.Errorf("%w: %s", ErrNotFound, regNo)
	}
	return r, err
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pcr_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (pcr.Record, error) {
	var r pcr.Record
	err := sc.Scan(
		&r.RegNo, &r.SourceType, &r.DocumentName, &r.Developer, &r.Version,
		&r.ApprovalDate, &r.EffectiveDate, &r.ProductScope, &r.DownloadLink,
		&r.FeedbackLink, &r.CCCCodes,
	)
	return r, err
}
