package contracts

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Payload is the closed set of typed contract bodies. Only the five variants
// declared in this package implement it, so a type switch over Payload is
// exhaustive by construction.
type Payload interface {
	ContractType() Type
	ContractID() string
	sealed()
}

// Header carries the fields every contract kind shares.
type Header struct {
	ID            string
	SchemaVersion string
	CreatedAt     time.Time
	CreatedBy     string
}

// ContractID returns the contract's own id field.
func (h Header) ContractID() string { return h.ID }

// OrderPayload is a weekly execution order.
type OrderPayload struct {
	Header
	ProjectID        string
	CycleType        string
	CycleWeek        int
	RockTitle        string
	RockDoD          json.RawMessage
	Tactics          json.RawMessage
	Constraints      json.RawMessage
	EscalationRules  json.RawMessage
	LinkedDecisionID *string
	Notes            *string
}

// PulsePayload is a weekly business pulse report.
type PulsePayload struct {
	Header
	ProjectID            string
	Week                 int
	SignalLevel          string
	KPITMICurrent        float64
	KPITMITarget         float64
	KPITVRScore          float64
	KPI12WYCompletionPct float64
	Domains              json.RawMessage
	Type4DecisionsNeeded json.RawMessage
	Notes                *string
}

// DecisionPayload is a type-4 decision record.
type DecisionPayload struct {
	Header
	LinkedIntentID string
	ProjectID      *string
	SignalLevel    string
	Gate           *string
	Type4Question  string
	Options        json.RawMessage
	Recommendation string
	Rationale      json.RawMessage
	Deadline       time.Time
	A0Decision     json.RawMessage
}

// IntentPayload is a declared intent awaiting planning.
type IntentPayload struct {
	Header
	ProjectID          *string
	Title              string
	IntentText         string
	DomainsTouched     json.RawMessage
	ExpectedEnergyCost string
	TimeHorizon        string
	RiskLevel          string
	Constraints        json.RawMessage
	SuccessCriteria    json.RawMessage
	NeedsType4Decision bool
	Attachments        json.RawMessage
	Notes              *string
}

// UplinkPayload is an upward summary linking pulses.
type UplinkPayload struct {
	Header
	Week           *int
	ProjectID      *string
	Lines          json.RawMessage
	LinkedPulseIDs json.RawMessage
	Type4Required  bool
}

func (OrderPayload) ContractType() Type    { return TypeOrder }
func (PulsePayload) ContractType() Type    { return TypePulse }
func (DecisionPayload) ContractType() Type { return TypeDecision }
func (IntentPayload) ContractType() Type   { return TypeIntent }
func (UplinkPayload) ContractType() Type   { return TypeUplink }

func (OrderPayload) sealed()    {}
func (PulsePayload) sealed()    {}
func (DecisionPayload) sealed() {}
func (IntentPayload) sealed()   {}
func (UplinkPayload) sealed()   {}

// PayloadError reports a sub-field a projection needs that is absent or of
// the wrong shape.
type PayloadError struct {
	Type   Type
	Field  string
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s payload: field %q %s", e.Type, e.Field, e.Reason)
}

// DecodePayload extracts the typed variant for t from a validated document.
func DecodePayload(t Type, data map[string]any) (Payload, error) {
	r := &fieldReader{typ: t, data: data}
	h := Header{
		ID:            r.str("id"),
		SchemaVersion: r.str("schema_version"),
		CreatedAt:     r.timestamp("created_at"),
		CreatedBy:     r.str("created_by"),
	}

	var p Payload
	switch t {
	case TypeOrder:
		p = OrderPayload{
			Header:           h,
			ProjectID:        r.str("project_id"),
			CycleType:        r.str("cycle.type"),
			CycleWeek:        r.integer("cycle.week"),
			RockTitle:        r.str("rock.title"),
			RockDoD:          r.raw("rock.definition_of_done"),
			Tactics:          r.raw("tactics"),
			Constraints:      r.raw("constraints"),
			EscalationRules:  r.raw("escalation_rules"),
			LinkedDecisionID: r.optStr("linked_decision_id"),
			Notes:            r.optStr("notes"),
		}
	case TypePulse:
		p = PulsePayload{
			Header:               h,
			ProjectID:            r.str("project_id"),
			Week:                 r.integer("week"),
			SignalLevel:          r.str("signal_level"),
			KPITMICurrent:        r.number("kpi.tmi_current"),
			KPITMITarget:         r.number("kpi.tmi_target"),
			KPITVRScore:          r.number("kpi.tvr_score"),
			KPI12WYCompletionPct: r.optNumber("kpi.12wy_completion_pct", 0),
			Domains:              r.raw("domains"),
			Type4DecisionsNeeded: r.raw("type4_decisions_needed"),
			Notes:                r.optStr("notes"),
		}
	case TypeDecision:
		p = DecisionPayload{
			Header:         h,
			LinkedIntentID: r.str("linked_intent_id"),
			ProjectID:      r.optStr("project_id"),
			SignalLevel:    r.str("signal_level"),
			Gate:           r.optStr("gate"),
			Type4Question:  r.str("type4_question"),
			Options:        r.raw("options"),
			Recommendation: r.str("recommendation"),
			Rationale:      r.raw("rationale_10_lines_max"),
			Deadline:       r.timestamp("deadline"),
			A0Decision:     r.optRaw("a0_decision"),
		}
	case TypeIntent:
		p = IntentPayload{
			Header:             h,
			ProjectID:          r.optStr("project_id"),
			Title:              r.str("title"),
			IntentText:         r.str("intent_text"),
			DomainsTouched:     r.raw("domains_touched"),
			ExpectedEnergyCost: r.str("expected_energy_cost"),
			TimeHorizon:        r.str("time_horizon"),
			RiskLevel:          r.str("risk_level"),
			Constraints:        r.raw("constraints"),
			SuccessCriteria:    r.raw("success_criteria"),
			NeedsType4Decision: r.boolean("needs_type4_decision"),
			Attachments:        r.optRaw("attachments"),
			Notes:              r.optStr("notes"),
		}
	case TypeUplink:
		p = UplinkPayload{
			Header:         h,
			Week:           r.optInteger("week"),
			ProjectID:      r.optStr("project_id"),
			Lines:          r.raw("lines"),
			LinkedPulseIDs: r.raw("linked_pulse_ids"),
			Type4Required:  r.boolean("type4_required"),
		}
	default:
		return nil, fmt.Errorf("unknown contract type %q", t)
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// fieldReader pulls dotted paths out of a decoded document and keeps the
// first failure.
type fieldReader struct {
	typ  Type
	data map[string]any
	err  error
}

func (r *fieldReader) fail(field, reason string) {
	if r.err == nil {
		r.err = &PayloadError{Type: r.typ, Field: field, Reason: reason}
	}
}

func (r *fieldReader) lookup(path string) (any, bool) {
	var cur any = r.data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (r *fieldReader) str(path string) string {
	v, ok := r.lookup(path)
	if !ok || v == nil {
		r.fail(path, "is required")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(path, "must be a string")
	}
	return s
}

func (r *fieldReader) optStr(path string) *string {
	v, ok := r.lookup(path)
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		r.fail(path, "must be a string")
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

func (r *fieldReader) number(path string) float64 {
	v, ok := r.lookup(path)
	if !ok || v == nil {
		r.fail(path, "is required")
		return 0
	}
	f, ok := ToFloat64(v)
	if !ok {
		r.fail(path, "must be a number")
	}
	return f
}

func (r *fieldReader) optNumber(path string, def float64) float64 {
	v, ok := r.lookup(path)
	if !ok || v == nil {
		return def
	}
	f, ok := ToFloat64(v)
	if !ok {
		r.fail(path, "must be a number")
		return def
	}
	return f
}

func (r *fieldReader) integer(path string) int {
	f := r.number(path)
	if f != math.Trunc(f) {
		r.fail(path, "must be an integer")
	}
	return int(f)
}

func (r *fieldReader) optInteger(path string) *int {
	v, ok := r.lookup(path)
	if !ok || v == nil {
		return nil
	}
	f, ok := ToFloat64(v)
	if !ok || f != math.Trunc(f) {
		r.fail(path, "must be an integer")
		return nil
	}
	n := int(f)
	return &n
}

func (r *fieldReader) boolean(path string) bool {
	v, ok := r.lookup(path)
	if !ok || v == nil {
		r.fail(path, "is required")
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(path, "must be a boolean")
	}
	return b
}

func (r *fieldReader) raw(path string) json.RawMessage {
	v, ok := r.lookup(path)
	if !ok {
		r.fail(path, "is required")
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		r.fail(path, "is not encodable: "+err.Error())
		return nil
	}
	return b
}

func (r *fieldReader) optRaw(path string) json.RawMessage {
	v, ok := r.lookup(path)
	if !ok || v == nil {
		return nil
	}
	return r.raw(path)
}

func (r *fieldReader) timestamp(path string) time.Time {
	s := r.str(path)
	if s == "" {
		return time.Time{}
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		r.fail(path, "must be an RFC 3339 timestamp or date")
	}
	return t
}

// ParseTimestamp accepts RFC 3339 timestamps and plain dates.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// ToFloat64 converts the numeric shapes produced by encoding/json (float64,
// json.Number) and Go integer types.
func ToFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
