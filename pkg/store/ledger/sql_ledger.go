package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/database"
)

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite; the UNIQUE constraint on
// contract_id makes check-then-append atomic across processes.
type SQLLedger struct {
	db      *sql.DB
	dialect database.Dialect
	clock   func() time.Time
}

func NewSQLLedger(db *database.DB) *SQLLedger {
	return NewSQLLedgerWithClock(db, time.Now)
}

func NewSQLLedgerWithClock(db *database.DB, clock func() time.Time) *SQLLedger {
	return &SQLLedger{db: db.DB, dialect: db.Dialect, clock: clock}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS contracts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	contract_id TEXT NOT NULL UNIQUE,
	contract_type TEXT NOT NULL,
	raw_json TEXT NOT NULL,
	status TEXT NOT NULL,
	validation_log TEXT,
	integrity_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS contracts_type_status ON contracts (contract_type, status);
`

const pgSchema = `
CREATE TABLE IF NOT EXISTS contracts (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	contract_id TEXT NOT NULL UNIQUE,
	contract_type TEXT NOT NULL,
	raw_json TEXT NOT NULL,
	status TEXT NOT NULL,
	validation_log TEXT,
	integrity_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS contracts_type_status ON contracts (contract_type, status);
`

const selectColumns = `id, contract_id, contract_type, raw_json, status, validation_log, integrity_hash, created_at`

// Init creates the contracts table when it does not exist.
func (s *SQLLedger) Init(ctx context.Context) error {
	ddl := sqliteSchema
	if s.dialect == database.DialectPostgres {
		ddl = pgSchema
	}
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger init: %w", err)
		}
	}
	return nil
}

func (s *SQLLedger) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	e.CreatedAt = NormalizeTime(e.CreatedAt)

	query := s.dialect.Rebind(`
		INSERT INTO contracts (id, contract_id, contract_type, raw_json, status, validation_log, integrity_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.ContractID, string(e.ContractType), e.RawJSON, string(e.Status),
		nullString(e.ValidationLog), e.IntegrityHash, e.CreatedAt.Format(TimeLayout),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return Entry{}, fmt.Errorf("%w: %s", ErrDuplicate, e.ContractID)
		}
		return Entry{}, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return e, nil
}

func (s *SQLLedger) FindByContractID(ctx context.Context, contractID string) (Entry, error) {
	query := s.dialect.Rebind(`SELECT ` + selectColumns + ` FROM contracts WHERE contract_id = ?`)
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, contractID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (s *SQLLedger) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "contract_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + selectColumns + ` FROM contracts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLLedger) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Ping reports whether the backing store is reachable.
func (s *SQLLedger) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e         Entry
		typ       string
		status    string
		log       sql.NullString
		createdAt string
	)
	if err := r.Scan(&e.ID, &e.ContractID, &typ, &e.RawJSON, &status, &log, &e.IntegrityHash, &createdAt); err != nil {
		return Entry{}, err
	}
	e.ContractType = contracts.Type(typ)
	e.Status = contracts.Status(status)
	e.ValidationLog = log.String
	ts, err := parseTime(createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger entry %s: %w", e.ContractID, err)
	}
	e.CreatedAt = ts
	return e, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad created_at %q", s)
	}
	return NormalizeTime(t), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
