package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/database"
)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	schema_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	created_by TEXT NOT NULL,
	project_id TEXT NOT NULL,
	cycle_type TEXT NOT NULL,
	cycle_week INTEGER NOT NULL,
	rock_title TEXT NOT NULL,
	rock_dod TEXT NOT NULL,
	tactics TEXT NOT NULL,
	constraints TEXT NOT NULL,
	escalation_rules TEXT NOT NULL,
	linked_decision_id TEXT,
	notes TEXT
);
CREATE TABLE IF NOT EXISTS pulses (
	pulse_id TEXT PRIMARY KEY,
	schema_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	created_by TEXT NOT NULL,
	project_id TEXT NOT NULL,
	week INTEGER NOT NULL,
	signal_level TEXT NOT NULL,
	kpi_tmi_current DOUBLE PRECISION NOT NULL,
	kpi_tmi_target DOUBLE PRECISION NOT NULL,
	kpi_tvr_score DOUBLE PRECISION NOT NULL,
	kpi_12wy_completion_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	domains TEXT NOT NULL,
	type4_decisions_needed TEXT NOT NULL,
	notes TEXT
);
CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	schema_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	created_by TEXT NOT NULL,
	linked_intent_id TEXT NOT NULL,
	project_id TEXT,
	signal_level TEXT NOT NULL,
	gate TEXT,
	type4_question TEXT NOT NULL,
	options TEXT NOT NULL,
	recommendation TEXT NOT NULL,
	rationale TEXT NOT NULL,
	deadline TEXT NOT NULL,
	a0_decision TEXT
);
CREATE TABLE IF NOT EXISTS intents (
	intent_id TEXT PRIMARY KEY,
	schema_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	created_by TEXT NOT NULL,
	project_id TEXT,
	title TEXT NOT NULL,
	intent_text TEXT NOT NULL,
	domains_touched TEXT NOT NULL,
	expected_energy_cost TEXT NOT NULL,
	time_horizon TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	constraints TEXT NOT NULL,
	success_criteria TEXT NOT NULL,
	needs_type4_decision BOOLEAN NOT NULL,
	attachments TEXT,
	notes TEXT
);
CREATE TABLE IF NOT EXISTS uplinks (
	uplink_id TEXT PRIMARY KEY,
	schema_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	created_by TEXT NOT NULL,
	week INTEGER,
	project_id TEXT,
	lines TEXT NOT NULL,
	linked_pulse_ids TEXT NOT NULL,
	type4_required BOOLEAN NOT NULL
)
`

type table struct {
	name    string
	columns []string
	scan    func(rowScanner) (Row, error)
}

var tables = map[contracts.Type]table{
	contracts.TypeOrder: {
		name: "orders",
		columns: []string{"order_id", "schema_version", "created_at", "created_by", "project_id", "cycle_type", "cycle_week",
			"rock_title", "rock_dod", "tactics", "constraints", "escalation_rules", "linked_decision_id", "notes"},
		scan: scanOrder,
	},
	contracts.TypePulse: {
		name: "pulses",
		columns: []string{"pulse_id", "schema_version", "created_at", "created_by", "project_id", "week", "signal_level",
			"kpi_tmi_current", "kpi_tmi_target", "kpi_tvr_score", "kpi_12wy_completion_pct", "domains", "type4_decisions_needed", "notes"},
		scan: scanPulse,
	},
	contracts.TypeDecision: {
		name: "decisions",
		columns: []string{"decision_id", "schema_version", "created_at", "created_by", "linked_intent_id", "project_id", "signal_level",
			"gate", "type4_question", "options", "recommendation", "rationale", "deadline", "a0_decision"},
		scan: scanDecision,
	},
	contracts.TypeIntent: {
		name: "intents",
		columns: []string{"intent_id", "schema_version", "created_at", "created_by", "project_id", "title", "intent_text",
			"domains_touched", "expected_energy_cost", "time_horizon", "risk_level", "constraints", "success_criteria",
			"needs_type4_decision", "attachments", "notes"},
		scan: scanIntent,
	},
	contracts.TypeUplink: {
		name: "uplinks",
		columns: []string{"uplink_id", "schema_version", "created_at", "created_by", "week", "project_id", "lines",
			"linked_pulse_ids", "type4_required"},
		scan: scanUplink,
	},
}

// SQLStore implements Store on the same database as the ledger.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db.DB, dialect: db.Dialect}
}

// Init creates the projection tables when they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("projection init: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) insert(ctx context.Context, kind contracts.Type, args ...any) error {
	t := tables[kind]
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	query := s.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(t.columns, ", "), marks))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s %v", ErrDuplicate, kind, args[0])
		}
		return fmt.Errorf("failed to insert %s: %w", t.name, err)
	}
	return nil
}

func (s *SQLStore) CreateOrder(ctx context.Context, r *OrderRow) error {
	return s.insert(ctx, contracts.TypeOrder,
		r.OrderID, r.SchemaVersion, formatTime(r.CreatedAt), r.CreatedBy, r.ProjectID, r.CycleType, r.CycleWeek,
		r.RockTitle, jsonArg(r.RockDoD), jsonArg(r.Tactics), jsonArg(r.Constraints), jsonArg(r.EscalationRules),
		strArg(r.LinkedDecisionID), strArg(r.Notes))
}

func (s *SQLStore) CreatePulse(ctx context.Context, r *PulseRow) error {
	return s.insert(ctx, contracts.TypePulse,
		r.PulseID, r.SchemaVersion, formatTime(r.CreatedAt), r.CreatedBy, r.ProjectID, r.Week, r.SignalLevel,
		r.KPITMICurrent, r.KPITMITarget, r.KPITVRScore, r.KPI12WYCompletionPct,
		jsonArg(r.Domains), jsonArg(r.Type4DecisionsNeeded), strArg(r.Notes))
}

func (s *SQLStore) CreateDecision(ctx context.Context, r *DecisionRow) error {
	return s.insert(ctx, contracts.TypeDecision,
		r.DecisionID, r.SchemaVersion, formatTime(r.CreatedAt), r.CreatedBy, r.LinkedIntentID, strArg(r.ProjectID), r.SignalLevel,
		strArg(r.Gate), r.Type4Question, jsonArg(r.Options), r.Recommendation, jsonArg(r.Rationale), formatTime(r.Deadline),
		jsonArg(r.A0Decision))
}

func (s *SQLStore) CreateIntent(ctx context.Context, r *IntentRow) error {
	return s.insert(ctx, contracts.TypeIntent,
		r.IntentID, r.SchemaVersion, formatTime(r.CreatedAt), r.CreatedBy, strArg(r.ProjectID), r.Title, r.IntentText,
		jsonArg(r.DomainsTouched), r.ExpectedEnergyCost, r.TimeHorizon, r.RiskLevel, jsonArg(r.Constraints),
		jsonArg(r.SuccessCriteria), r.NeedsType4Decision, jsonArg(r.Attachments), strArg(r.Notes))
}

func (s *SQLStore) CreateUplink(ctx context.Context, r *UplinkRow) error {
	var week any
	if r.Week != nil {
		week = *r.Week
	}
	return s.insert(ctx, contracts.TypeUplink,
		r.UplinkID, r.SchemaVersion, formatTime(r.CreatedAt), r.CreatedBy, week, strArg(r.ProjectID),
		jsonArg(r.Lines), jsonArg(r.LinkedPulseIDs), r.Type4Required)
}

func (s *SQLStore) FindUnique(ctx context.Context, kind contracts.Type, id string) (Row, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	query := s.dialect.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", strings.Join(t.columns, ", "), t.name, t.columns[0]))
	row, err := t.scan(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row, nil
}

func (s *SQLStore) FindMany(ctx context.Context, kind contracts.Type, limit int) ([]Row, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if limit <= 0 {
		limit = 100
	}
	query := s.dialect.Rebind(fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at DESC LIMIT ?", strings.Join(t.columns, ", "), t.name))
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Row, 0)
	for rows.Next() {
		r, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) Count(ctx context.Context, kind contracts.Type) (int, error) {
	t, ok := tables[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Ping reports whether the backing store is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(rs rowScanner) (Row, error) {
	var (
		r                                     OrderRow
		createdAt                             string
		dod, tactics, constraints, escalation string
		linked, notes                         sql.NullString
	)
	err := rs.Scan(&r.OrderID, &r.SchemaVersion, &createdAt, &r.CreatedBy, &r.ProjectID, &r.CycleType, &r.CycleWeek,
		&r.RockTitle, &dod, &tactics, &constraints, &escalation, &linked, &notes)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.RockDoD, r.Tactics, r.Constraints, r.EscalationRules = raw(dod), raw(tactics), raw(constraints), raw(escalation)
	r.LinkedDecisionID, r.Notes = strPtr(linked), strPtr(notes)
	return &r, nil
}

func scanPulse(rs rowScanner) (Row, error) {
	var (
		r               PulseRow
		createdAt       string
		domains, needed string
		notes           sql.NullString
	)
	err := rs.Scan(&r.PulseID, &r.SchemaVersion, &createdAt, &r.CreatedBy, &r.ProjectID, &r.Week, &r.SignalLevel,
		&r.KPITMICurrent, &r.KPITMITarget, &r.KPITVRScore, &r.KPI12WYCompletionPct, &domains, &needed, &notes)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.Domains, r.Type4DecisionsNeeded = raw(domains), raw(needed)
	r.Notes = strPtr(notes)
	return &r, nil
}

func scanDecision(rs rowScanner) (Row, error) {
	var (
		r                   DecisionRow
		createdAt, deadline string
		options, rationale  string
		project, gate, a0   sql.NullString
	)
	err := rs.Scan(&r.DecisionID, &r.SchemaVersion, &createdAt, &r.CreatedBy, &r.LinkedIntentID, &project, &r.SignalLevel,
		&gate, &r.Type4Question, &options, &r.Recommendation, &rationale, &deadline, &a0)
	if err != nil {
		return nil, err
	}
	r.CreatedAt, r.Deadline = parseTime(createdAt), parseTime(deadline)
	r.Options, r.Rationale = raw(options), raw(rationale)
	r.ProjectID, r.Gate = strPtr(project), strPtr(gate)
	if a0.Valid {
		r.A0Decision = raw(a0.String)
	}
	return &r, nil
}

func scanIntent(rs rowScanner) (Row, error) {
	var (
		r                              IntentRow
		createdAt                      string
		domains, constraints, criteria string
		project, attachments, notes    sql.NullString
	)
	err := rs.Scan(&r.IntentID, &r.SchemaVersion, &createdAt, &r.CreatedBy, &project, &r.Title, &r.IntentText,
		&domains, &r.ExpectedEnergyCost, &r.TimeHorizon, &r.RiskLevel, &constraints, &criteria,
		&r.NeedsType4Decision, &attachments, &notes)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.DomainsTouched, r.Constraints, r.SuccessCriteria = raw(domains), raw(constraints), raw(criteria)
	r.ProjectID, r.Notes = strPtr(project), strPtr(notes)
	if attachments.Valid {
		r.Attachments = raw(attachments.String)
	}
	return &r, nil
}

func scanUplink(rs rowScanner) (Row, error) {
	var (
		r            UplinkRow
		createdAt    string
		week         sql.NullInt64
		project      sql.NullString
		lines, pulse string
	)
	err := rs.Scan(&r.UplinkID, &r.SchemaVersion, &createdAt, &r.CreatedBy, &week, &project, &lines, &pulse, &r.Type4Required)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	if week.Valid {
		w := int(week.Int64)
		r.Week = &w
	}
	r.ProjectID = strPtr(project)
	r.Lines, r.LinkedPulseIDs = raw(lines), raw(pulse)
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func jsonArg(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

func strArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}
