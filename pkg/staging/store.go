// Package staging stages exported store-info and journal tables in SQLite.
//
// Every load drops and recreates its destination table, then inserts the
// source records in order with a gap-free sequence starting at 1. Nothing
// accumulates across runs.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/eunmann/tenders-report/pkg/logging"
	"github.com/eunmann/tenders-report/pkg/source"
	"github.com/eunmann/tenders-report/pkg/sysmem"
	_ "github.com/mattn/go-sqlite3"
)

// Source field names.
const (
	FieldName        = "NAME"
	FieldLine        = "LINE"
	FieldPrice       = "PRICE"
	FieldDate        = "DATE"
	FieldDescription = "DESCRIPT"
)

// Table names in the staging database.
const (
	StoreTable   = "str"
	JournalTable = "jnl"
)

// Config holds configuration for the staging database.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
	// Synchronous sets the SQLite synchronous pragma: OFF, NORMAL or FULL.
	Synchronous string
	// CacheSizeKB is the SQLite page cache size in KiB. Zero keeps the
	// SQLite default.
	CacheSizeKB int
}

// Page cache bounds for DefaultConfig.
const (
	minCacheKB = 8 * 1024
	maxCacheKB = 256 * 1024
)

// DefaultConfig returns a configuration suited to a throwaway staging file.
// The page cache gets 1/64 of physical memory within [8 MiB, 256 MiB].
func DefaultConfig(dbPath string) Config {
	total, _ := sysmem.Total()
	return Config{
		DBPath:      dbPath,
		Synchronous: "NORMAL",
		CacheSizeKB: cacheKBFor(total),
	}
}

func cacheKBFor(totalBytes uint64) int {
	kb := totalBytes / 1024 / 64
	return int(min(max(kb, minCacheKB), maxCacheKB))
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("DBPath is required")
	}
	switch c.Synchronous {
	case "", "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("invalid Synchronous value %q: must be OFF, NORMAL, or FULL", c.Synchronous)
	}
	if c.CacheSizeKB < 0 {
		return fmt.Errorf("CacheSizeKB must be >= 0, got %d", c.CacheSizeKB)
	}
	return nil
}

// JournalRecord is one staged row of the journal table.
type JournalRecord struct {
	Sequence    int64
	Line        string
	Price       string
	Date        string
	Description string
}

// Store is an open staging database.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Open creates or opens the staging database.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Synchronous == "" {
		cfg.Synchronous = "NORMAL"
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single writer, single reader, one control path.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA synchronous=%s", cfg.Synchronous),
		"PRAGMA temp_store=MEMORY",
	}
	if cfg.CacheSizeKB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size=-%d", cfg.CacheSizeKB))
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma %q: %w", pragma, err)
		}
	}

	log := logging.WithPhase(logging.PhaseStaging)
	log.Debug().
		Str("db_path", cfg.DBPath).
		Str("synchronous", cfg.Synchronous).
		Int("cache_kb", cfg.CacheSizeKB).
		Msg("opened staging database")

	return &Store{db: db, cfg: cfg}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// tableSpec describes how one source table is staged.
type tableSpec struct {
	name    string
	columns []string // staged columns after seq
	fields  []string // source fields, parallel to columns
}

var (
	storeSpec = tableSpec{
		name:    StoreTable,
		columns: []string{"name"},
		fields:  []string{FieldName},
	}
	journalSpec = tableSpec{
		name:    JournalTable,
		columns: []string{"line", "price", "date", "descript"},
		fields:  []string{FieldLine, FieldPrice, FieldDate, FieldDescription},
	}
)

func (t tableSpec) createSQL() string {
	cols := ""
	for _, c := range t.columns {
		cols += fmt.Sprintf(",\n\t\t\t%s TEXT NOT NULL DEFAULT ''", c)
	}
	return fmt.Sprintf(`
		CREATE TABLE %s (
			seq INTEGER PRIMARY KEY%s
		)
	`, t.name, cols)
}

func (t tableSpec) insertSQL() string {
	cols, marks := "seq", "?"
	for _, c := range t.columns {
		cols += ", " + c
		marks += ", ?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, cols, marks)
}

// LoadStores replaces the store-info table with the records from r.
// A nil r leaves the table recreated and empty. Returns the row count.
func (s *Store) LoadStores(ctx context.Context, r source.Reader) (int, error) {
	return s.load(ctx, storeSpec, r)
}

// LoadJournal replaces the journal table with the records from r.
// A nil r leaves the table recreated and empty. Returns the row count.
func (s *Store) LoadJournal(ctx context.Context, r source.Reader) (int, error) {
	return s.load(ctx, journalSpec, r)
}

func (s *Store) load(ctx context.Context, spec tableSpec, r source.Reader) (int, error) {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+spec.name); err != nil {
		return 0, fmt.Errorf("drop %s table: %w", spec.name, err)
	}
	if _, err := tx.ExecContext(ctx, spec.createSQL()); err != nil {
		return 0, fmt.Errorf("create %s table: %w", spec.name, err)
	}

	var count int
	if r != nil {
		stmt, err := tx.PrepareContext(ctx, spec.insertSQL())
		if err != nil {
			return 0, fmt.Errorf("prepare %s insert: %w", spec.name, err)
		}
		defer stmt.Close()

		args := make([]interface{}, 1+len(spec.fields))
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return 0, fmt.Errorf("read %s record %d: %w", spec.name, count+1, err)
			}

			count++
			args[0] = count
			for i, field := range spec.fields {
				args[1+i] = rec.Get(field)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, fmt.Errorf("insert %s record %d: %w", spec.name, count, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s load: %w", spec.name, err)
	}

	logging.PhaseComplete(*logging.L(), logging.PhaseStaging, time.Since(start)).
		Str("table", spec.name).
		Count("rows", int64(count)).
		LogDebug("staged table")

	return count, nil
}

// StoreCount returns the number of staged store-info rows.
func (s *Store) StoreCount(ctx context.Context) (int, error) {
	return s.count(ctx, StoreTable)
}

// JournalCount returns the number of staged journal rows.
func (s *Store) JournalCount(ctx context.Context) (int, error) {
	return s.count(ctx, JournalTable)
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// StoreName returns the name on the lowest-sequence store-info row, or
// fallback when the table has no rows.
func (s *Store) StoreName(ctx context.Context, fallback string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT name FROM "+StoreTable+" ORDER BY seq LIMIT 1").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("query store name: %w", err)
	}
	return name, nil
}

// IterateJournal returns the staged journal in sequence order.
func (s *Store) IterateJournal(ctx context.Context) (*JournalIterator, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, line, price, date, descript FROM "+JournalTable+" ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return &JournalIterator{rows: rows}, nil
}

// JournalIterator iterates over journal rows in sequence order.
type JournalIterator struct {
	rows    *sql.Rows
	current JournalRecord
	err     error
}

// Next advances to the next row. Returns false when done.
func (it *JournalIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	c := &it.current
	if err := it.rows.Scan(&c.Sequence, &c.Line, &c.Price, &c.Date, &c.Description); err != nil {
		it.err = fmt.Errorf("scan journal row: %w", err)
		return false
	}
	return true
}

// Record returns the current row.
func (it *JournalIterator) Record() JournalRecord {
	return it.current
}

// Err returns any error encountered during iteration.
func (it *JournalIterator) Err() error {
	return it.err
}

// Close closes the iterator.
func (it *JournalIterator) Close() error {
	return it.rows.Close()
}
