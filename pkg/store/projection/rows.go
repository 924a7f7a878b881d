// Package projection holds the durable read models built from accepted
// contracts, one table per contract kind. Rows are created once and never
// deleted here.
package projection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/aspace-os/contractguard/pkg/contracts"
)

var (
	// ErrNotFound is returned by FindUnique when no row has the id.
	ErrNotFound = errors.New("projection row not found")
	// ErrDuplicate is returned when a row with the same id already exists.
	ErrDuplicate = errors.New("projection row already exists")
	// ErrUnknownKind is returned for a kind with no table.
	ErrUnknownKind = errors.New("unknown projection kind")
)

// Row is any projection record.
type Row interface {
	Kind() contracts.Type
	RowID() string
	Created() time.Time
}

// Meta is the provenance shared by every row.
type Meta struct {
	SchemaVersion string    `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
}

func (m Meta) Created() time.Time { return m.CreatedAt }

type OrderRow struct {
	OrderID string `json:"order_id"`
	Meta
	ProjectID        string          `json:"project_id"`
	CycleType        string          `json:"cycle_type"`
	CycleWeek        int             `json:"cycle_week"`
	RockTitle        string          `json:"rock_title"`
	RockDoD          json.RawMessage `json:"rock_dod"`
	Tactics          json.RawMessage `json:"tactics"`
	Constraints      json.RawMessage `json:"constraints"`
	EscalationRules  json.RawMessage `json:"escalation_rules"`
	LinkedDecisionID *string         `json:"linked_decision_id"`
	Notes            *string         `json:"notes"`
}

type PulseRow struct {
	PulseID string `json:"pulse_id"`
	Meta
	ProjectID            string          `json:"project_id"`
	Week                 int             `json:"week"`
	SignalLevel          string          `json:"signal_level"`
	KPITMICurrent        float64         `json:"kpi_tmi_current"`
	KPITMITarget         float64         `json:"kpi_tmi_target"`
	KPITVRScore          float64         `json:"kpi_tvr_score"`
	KPI12WYCompletionPct float64         `json:"kpi_12wy_completion_pct"`
	Domains              json.RawMessage `json:"domains"`
	Type4DecisionsNeeded json.RawMessage `json:"type4_decisions_needed"`
	Notes                *string         `json:"notes"`
}

type DecisionRow struct {
	DecisionID string `json:"decision_id"`
	Meta
	LinkedIntentID string          `json:"linked_intent_id"`
	ProjectID      *string         `json:"project_id"`
	SignalLevel    string          `json:"signal_level"`
	Gate           *string         `json:"gate"`
	Type4Question  string          `json:"type4_question"`
	Options        json.RawMessage `json:"options"`
	Recommendation string          `json:"recommendation"`
	Rationale      json.RawMessage `json:"rationale"`
	Deadline       time.Time       `json:"deadline"`
	A0Decision     json.RawMessage `json:"a0_decision,omitempty"`
}

type IntentRow struct {
	IntentID string `json:"intent_id"`
	Meta
	ProjectID          *string         `json:"project_id"`
	Title              string          `json:"title"`
	IntentText         string          `json:"intent_text"`
	DomainsTouched     json.RawMessage `json:"domains_touched"`
	ExpectedEnergyCost string          `json:"expected_energy_cost"`
	TimeHorizon        string          `json:"time_horizon"`
	RiskLevel          string          `json:"risk_level"`
	Constraints        json.RawMessage `json:"constraints"`
	SuccessCriteria    json.RawMessage `json:"success_criteria"`
	NeedsType4Decision bool            `json:"needs_type4_decision"`
	Attachments        json.RawMessage `json:"attachments,omitempty"`
	Notes              *string         `json:"notes"`
}

type UplinkRow struct {
	UplinkID string `json:"uplink_id"`
	Meta
	Week           *int            `json:"week"`
	ProjectID      *string         `json:"project_id"`
	Lines          json.RawMessage `json:"lines"`
	LinkedPulseIDs json.RawMessage `json:"linked_pulse_ids"`
	Type4Required  bool            `json:"type4_required"`
}

func (r *OrderRow) Kind() contracts.Type    { return contracts.TypeOrder }
func (r *PulseRow) Kind() contracts.Type    { return contracts.TypePulse }
func (r *DecisionRow) Kind() contracts.Type { return contracts.TypeDecision }
func (r *IntentRow) Kind() contracts.Type   { return contracts.TypeIntent }
func (r *UplinkRow) Kind() contracts.Type   { return contracts.TypeUplink }

func (r *OrderRow) RowID() string    { return r.OrderID }
func (r *PulseRow) RowID() string    { return r.PulseID }
func (r *DecisionRow) RowID() string { return r.DecisionID }
func (r *IntentRow) RowID() string   { return r.IntentID }
func (r *UplinkRow) RowID() string   { return r.UplinkID }
