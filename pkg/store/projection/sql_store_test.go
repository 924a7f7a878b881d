package projection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/database"
)

var created = time.Date(2025, 7, 21, 8, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func TestSQLStore_CreatePulseStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(database.Wrap(db, database.DialectPostgres))

	mock.ExpectExec(`INSERT INTO pulses \(pulse_id, .*, notes\) VALUES \(\$1, .*\$14\)`).
		WithArgs("PULSE-1", "1.0.0", "2025-07-21T08:00:00.000000Z", "Jerry", "ASPACE", 1, "YELLOW",
			4200.5, 6000.0, 7.5, 0.0, `[]`, `["DEC-1"]`, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = s.CreatePulse(context.Background(), &PulseRow{
		PulseID:              "PULSE-1",
		Meta:                 Meta{SchemaVersion: "1.0.0", CreatedAt: created, CreatedBy: "Jerry"},
		ProjectID:            "ASPACE",
		Week:                 1,
		SignalLevel:          "YELLOW",
		KPITMICurrent:        4200.5,
		KPITMITarget:         6000,
		KPITVRScore:          7.5,
		Domains:              json.RawMessage(`[]`),
		Type4DecisionsNeeded: json.RawMessage(`["DEC-1"]`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.Open(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewSQLStore(db)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestSQLStore_RoundTripEveryKind(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	meta := Meta{SchemaVersion: "1.0.0", CreatedAt: created, CreatedBy: "A0"}
	week := 2

	order := &OrderRow{OrderID: "ORD-1", Meta: meta, ProjectID: "ASPACE", CycleType: "12WY", CycleWeek: 1, RockTitle: "Rock",
		RockDoD: json.RawMessage(`["done"]`), Tactics: json.RawMessage(`[{"id":"T-01"}]`), Constraints: json.RawMessage(`[]`),
		EscalationRules: json.RawMessage(`[]`), LinkedDecisionID: strp("DEC-1")}
	pulse := &PulseRow{PulseID: "PULSE-1", Meta: meta, ProjectID: "ASPACE", Week: 1, SignalLevel: "GREEN", KPITMICurrent: 1.5,
		KPITMITarget: 2, KPITVRScore: 7, KPI12WYCompletionPct: 12.5, Domains: json.RawMessage(`[]`), Type4DecisionsNeeded: json.RawMessage(`[]`)}
	decision := &DecisionRow{DecisionID: "DEC-1", Meta: meta, LinkedIntentID: "INT-1", SignalLevel: "RED", Gate: strp("G1"),
		Type4Question: "Which way?", Options: json.RawMessage(`[{"id":"OPT-A"}]`), Recommendation: "OPT-A",
		Rationale: json.RawMessage(`["because"]`), Deadline: created.Add(96 * time.Hour), A0Decision: json.RawMessage(`{"choice":"OPT-A"}`)}
	intent := &IntentRow{IntentID: "INT-1", Meta: meta, Title: "Self-host", IntentText: "text", DomainsTouched: json.RawMessage(`["IT"]`),
		ExpectedEnergyCost: "LOW", TimeHorizon: "WEEK", RiskLevel: "LOW", Constraints: json.RawMessage(`[]`),
		SuccessCriteria: json.RawMessage(`["works"]`), NeedsType4Decision: true}
	uplink := &UplinkRow{UplinkID: "UPLINK-1", Meta: meta, Week: &week, Lines: json.RawMessage(`["line"]`),
		LinkedPulseIDs: json.RawMessage(`["PULSE-1"]`), Type4Required: true}

	require.NoError(t, s.CreateOrder(ctx, order))
	require.NoError(t, s.CreatePulse(ctx, pulse))
	require.NoError(t, s.CreateDecision(ctx, decision))
	require.NoError(t, s.CreateIntent(ctx, intent))
	require.NoError(t, s.CreateUplink(ctx, uplink))

	for _, want := range []Row{order, pulse, decision, intent, uplink} {
		got, err := s.FindUnique(ctx, want.Kind(), want.RowID())
		require.NoError(t, err, want.Kind())
		assert.Equal(t, want, got, want.Kind())

		n, err := s.Count(ctx, want.Kind())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	err := s.CreateOrder(ctx, order)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.FindUnique(ctx, contracts.TypePulse, "PULSE-404")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Count(ctx, contracts.Type("Memo"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSQLStore_FindManyNewestFirst(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	for i, id := range []string{"UPLINK-A", "UPLINK-B", "UPLINK-C"} {
		require.NoError(t, s.CreateUplink(ctx, &UplinkRow{
			UplinkID:       id,
			Meta:           Meta{SchemaVersion: "1.0.0", CreatedAt: created.Add(time.Duration(i) * time.Hour), CreatedBy: "R"},
			Lines:          json.RawMessage(`[]`),
			LinkedPulseIDs: json.RawMessage(`[]`),
		}))
	}

	rows, err := s.FindMany(ctx, contracts.TypeUplink, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "UPLINK-C", rows[0].RowID())
	assert.Equal(t, "UPLINK-B", rows[1].RowID())
	assert.Nil(t, rows[0].(*UplinkRow).Week)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.CreateIntent(ctx, &IntentRow{IntentID: "INT-1", Meta: Meta{CreatedAt: created}}))
	require.NoError(t, m.CreateIntent(ctx, &IntentRow{IntentID: "INT-2", Meta: Meta{CreatedAt: created.Add(time.Hour)}}))
	assert.ErrorIs(t, m.CreateIntent(ctx, &IntentRow{IntentID: "INT-1"}), ErrDuplicate)

	rows, err := m.FindMany(ctx, contracts.TypeIntent, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "INT-2", rows[0].RowID())

	m.FailNext = assert.AnError
	assert.ErrorIs(t, m.CreatePulse(ctx, &PulseRow{PulseID: "PULSE-1"}), assert.AnError)
	require.NoError(t, m.CreatePulse(ctx, &PulseRow{PulseID: "PULSE-1"}))

	assert.Equal(t, 3, m.Total())
	_, err = m.FindUnique(ctx, contracts.TypeOrder, "ORD-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
