package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/database"
)

var t0 = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func newMockLedger(t *testing.T, dialect database.Dialect) (*SQLLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLLedgerWithClock(database.Wrap(db, dialect), func() time.Time { return t0 }), mock
}

func TestSQLLedger_Append(t *testing.T) {
	l, mock := newMockLedger(t, database.DialectPostgres)

	e := Entry{
		ID:            "led-1",
		ContractID:    "ORD-2026-W02",
		ContractType:  contracts.TypeOrder,
		RawJSON:       `{"id":"ORD-2026-W02"}`,
		Status:        contracts.StatusAccepted,
		IntegrityHash: "abc",
	}

	mock.ExpectExec(`INSERT INTO contracts .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)`).
		WithArgs("led-1", "ORD-2026-W02", "Order", `{"id":"ORD-2026-W02"}`, "ACCEPTED", nil, "abc", "2026-01-05T08:00:00.000000Z").
		WillReturnResult(sqlmock.NewResult(1, 1))

	got, err := l.Append(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, t0, got.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_AppendDuplicate(t *testing.T) {
	l, mock := newMockLedger(t, database.DialectPostgres)

	mock.ExpectExec("INSERT INTO contracts").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := l.Append(context.Background(), Entry{ContractID: "P-1", ContractType: contracts.TypePulse, Status: contracts.StatusRejected, ValidationLog: "[Root] Missing required field: week"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_FindNotFound(t *testing.T) {
	l, mock := newMockLedger(t, database.DialectSQLite)

	mock.ExpectQuery(`SELECT .* FROM contracts WHERE contract_id = \?`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "contract_id", "contract_type", "raw_json", "status", "validation_log", "integrity_hash", "created_at"}))

	_, err := l.FindByContractID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_ListFilterQuery(t *testing.T) {
	l, mock := newMockLedger(t, database.DialectPostgres)

	mock.ExpectQuery(`SELECT .* FROM contracts WHERE contract_type = \$1 AND status = \$2 ORDER BY created_at DESC, seq DESC LIMIT \$3`).
		WithArgs("Pulse", "REJECTED", DefaultLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "contract_id", "contract_type", "raw_json", "status", "validation_log", "integrity_hash", "created_at"}).
			AddRow("led-9", "P-9", "Pulse", "{}", "REJECTED", "[Root] Missing required field: week", "ff", "2026-01-05T08:00:00.000000Z"))

	entries, err := l.List(context.Background(), Filter{Type: contracts.TypePulse, Status: contracts.StatusRejected})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "P-9", entries[0].ContractID)
	assert.Equal(t, t0, entries[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newSQLiteLedger(t *testing.T) *SQLLedger {
	t.Helper()
	db, err := database.Open(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l := NewSQLLedger(db)
	require.NoError(t, l.Init(context.Background()))
	return l
}

func TestSQLLedger_SQLiteRoundTrip(t *testing.T) {
	l := newSQLiteLedger(t)
	ctx := context.Background()

	in := Entry{
		ContractID:    "DEC-7",
		ContractType:  contracts.TypeDecision,
		RawJSON:       `{"id":"DEC-7"}`,
		Status:        contracts.StatusRejected,
		ValidationLog: "[Root] Missing required field: options",
		IntegrityHash: "00ff",
		CreatedAt:     t0.Add(1500 * time.Nanosecond),
	}
	stored, err := l.Append(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)

	got, err := l.FindByContractID(ctx, "DEC-7")
	require.NoError(t, err)
	assert.Equal(t, stored, got)
	assert.Equal(t, t0.Add(time.Microsecond), got.CreatedAt)

	_, err = l.Append(ctx, in)
	assert.ErrorIs(t, err, ErrDuplicate)

	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLLedger_SQLiteListNewestFirst(t *testing.T) {
	l := newSQLiteLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		status := contracts.StatusAccepted
		if i%2 == 1 {
			status = contracts.StatusRejected
		}
		_, err := l.Append(ctx, Entry{
			ContractID:   fmt.Sprintf("P-%d", i),
			ContractType: contracts.TypePulse,
			RawJSON:      "{}",
			Status:       status,
			CreatedAt:    t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "P-4", all[0].ContractID)
	assert.Equal(t, "P-0", all[4].ContractID)

	rejected, err := l.List(ctx, Filter{Status: contracts.StatusRejected, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "P-3", rejected[0].ContractID)

	orders, err := l.List(ctx, Filter{Type: contracts.TypeOrder})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestMemoryLedger_ConcurrentSameID(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, Entry{ContractID: "INT-1", ContractType: contracts.TypeIntent, Status: contracts.StatusAccepted})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	n, _ := l.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryLedger_ListOrderAndFilter(t *testing.T) {
	l := NewMemoryLedgerWithClock(func() time.Time { return t0 })
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		_, err := l.Append(ctx, Entry{ContractID: id, ContractType: contracts.TypeUplink, Status: contracts.StatusAccepted})
		require.NoError(t, err)
	}

	got, err := l.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].ContractID)
	assert.Equal(t, "B", got[1].ContractID)

	_, err = l.FindByContractID(ctx, "Z")
	assert.ErrorIs(t, err, ErrNotFound)
}
