package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"newswave/internal/ledger/migrations"
	"newswave/internal/nw"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DefaultPollInterval is how often polling subscriptions check for appends.
const DefaultPollInterval = 2 * time.Second

// SQLiteLedger is a durable single-node ledger. Rows are append-only: the
// schema aborts every UPDATE and DELETE on the publications table.
type SQLiteLedger struct {
	db           *sql.DB
	path         string
	clock        nw.Clock
	logger       nw.Logger
	pollInterval time.Duration
}

// NewSQLiteLedger opens the ledger at path and migrates its schema.
// path can be a file path or ":memory:".
func NewSQLiteLedger(path string, clock nw.Clock, logger nw.Logger) (*SQLiteLedger, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating ledger database: %w", err)
	}
	return &SQLiteLedger{
		db:           db,
		path:         path,
		clock:        clock,
		logger:       logger,
		pollInterval: DefaultPollInterval,
	}, nil
}

// OpenConnection opens and configures a SQLite connection for the ledger.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes appends within the process, and every
	// connection to ":memory:" would otherwise be a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	return db, nil
}

// SetPollInterval changes how often Subscribe checks for new records.
func (s *SQLiteLedger) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

func (s *SQLiteLedger) Append(ctx context.Context, signer nw.Identity, contentRef, title string) (uint64, error) {
	if err := validateEntry(signer, contentRef, title); err != nil {
		return 0, err
	}

	// The next index is computed inside the insert, so concurrent writers
	// never share an index.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO publications (seq, content_ref, title, recorded_at, author)
		 SELECT COALESCE(MAX(seq) + 1, 0), ?, ?, ?, ? FROM publications`,
		contentRef, title, s.clock.Now().Unix(), signer.Address)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", nw.ErrSubmissionTimeout, err)
		}
		return 0, fmt.Errorf("appending publication: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading appended index: %w", err)
	}
	return uint64(seq), nil
}

func (s *SQLiteLedger) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM publications`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting publications: %w", err)
	}
	return uint64(n), nil
}

func (s *SQLiteLedger) GetByIndex(ctx context.Context, i uint64) (*nw.PublicationRecord, error) {
	rec := nw.PublicationRecord{SequenceIndex: i}
	err := s.db.QueryRowContext(ctx,
		`SELECT content_ref, title, recorded_at, author FROM publications WHERE seq = ?`, int64(i)).
		Scan(&rec.ContentRef, &rec.Title, &rec.RecordedAt, &rec.Author)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			n, cerr := s.Count(ctx)
			if cerr != nil {
				return nil, cerr
			}
			return nil, outOfRange(i, n)
		}
		return nil, fmt.Errorf("reading publication %d: %w", i, err)
	}
	return &rec, nil
}

// Subscribe polls the table, so appends from other processes sharing the
// database file are observed too.
func (s *SQLiteLedger) Subscribe(ctx context.Context) (<-chan nw.LedgerEvent, error) {
	return pollEvents(ctx, s, s.pollInterval, s.logger)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteLedger) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a complete copy of the ledger to destPath using VACUUM INTO.
func (s *SQLiteLedger) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up ledger: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteLedger) Path() string {
	return s.path
}

func (s *SQLiteLedger) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteLedger implements nw.Ledger interface
var _ nw.Ledger = (*SQLiteLedger)(nil)
