// Package projection maps accepted contract payloads onto their projection
// rows. It is only ever called after the ledger recorded an ACCEPTED entry.
package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/aspace-os/contractguard/pkg/contracts"
	projstore "github.com/aspace-os/contractguard/pkg/store/projection"
)

// ErrUnknownProjection means a payload variant has no projection mapping.
// It signals a programming error, never a rejected contract.
var ErrUnknownProjection = errors.New("no projection for payload variant")

// Writer creates exactly one projection row per accepted payload.
type Writer struct {
	store projstore.Store
}

func NewWriter(store projstore.Store) *Writer {
	return &Writer{store: store}
}

// Project writes the row for p.
func (w *Writer) Project(ctx context.Context, p contracts.Payload) error {
	switch v := p.(type) {
	case contracts.OrderPayload:
		return w.store.CreateOrder(ctx, &projstore.OrderRow{
			OrderID:          v.ID,
			Meta:             meta(v.Header),
			ProjectID:        v.ProjectID,
			CycleType:        v.CycleType,
			CycleWeek:        v.CycleWeek,
			RockTitle:        v.RockTitle,
			RockDoD:          v.RockDoD,
			Tactics:          v.Tactics,
			Constraints:      v.Constraints,
			EscalationRules:  v.EscalationRules,
			LinkedDecisionID: v.LinkedDecisionID,
			Notes:            v.Notes,
		})
	case contracts.PulsePayload:
		return w.store.CreatePulse(ctx, &projstore.PulseRow{
			PulseID:              v.ID,
			Meta:                 meta(v.Header),
			ProjectID:            v.ProjectID,
			Week:                 v.Week,
			SignalLevel:          v.SignalLevel,
			KPITMICurrent:        v.KPITMICurrent,
			KPITMITarget:         v.KPITMITarget,
			KPITVRScore:          v.KPITVRScore,
			KPI12WYCompletionPct: v.KPI12WYCompletionPct,
			Domains:              v.Domains,
			Type4DecisionsNeeded: v.Type4DecisionsNeeded,
			Notes:                v.Notes,
		})
	case contracts.DecisionPayload:
		return w.store.CreateDecision(ctx, &projstore.DecisionRow{
			DecisionID:     v.ID,
			Meta:           meta(v.Header),
			LinkedIntentID: v.LinkedIntentID,
			ProjectID:      v.ProjectID,
			SignalLevel:    v.SignalLevel,
			Gate:           v.Gate,
			Type4Question:  v.Type4Question,
			Options:        v.Options,
			Recommendation: v.Recommendation,
			Rationale:      v.Rationale,
			Deadline:       v.Deadline,
			A0Decision:     v.A0Decision,
		})
	case contracts.IntentPayload:
		return w.store.CreateIntent(ctx, &projstore.IntentRow{
			IntentID:           v.ID,
			Meta:               meta(v.Header),
			ProjectID:          v.ProjectID,
			Title:              v.Title,
			IntentText:         v.IntentText,
			DomainsTouched:     v.DomainsTouched,
			ExpectedEnergyCost: v.ExpectedEnergyCost,
			TimeHorizon:        v.TimeHorizon,
			RiskLevel:          v.RiskLevel,
			Constraints:        v.Constraints,
			SuccessCriteria:    v.SuccessCriteria,
			NeedsType4Decision: v.NeedsType4Decision,
			Attachments:        v.Attachments,
			Notes:              v.Notes,
		})
	case contracts.UplinkPayload:
		return w.store.CreateUplink(ctx, &projstore.UplinkRow{
			UplinkID:       v.ID,
			Meta:           meta(v.Header),
			Week:           v.Week,
			ProjectID:      v.ProjectID,
			Lines:          v.Lines,
			LinkedPulseIDs: v.LinkedPulseIDs,
			Type4Required:  v.Type4Required,
		})
	}
	return fmt.Errorf("%w: %T", ErrUnknownProjection, p)
}

func meta(h contracts.Header) projstore.Meta {
	return projstore.Meta{
		SchemaVersion: NormalizeVersion(h.SchemaVersion),
		CreatedAt:     h.CreatedAt,
		CreatedBy:     h.CreatedBy,
	}
}

// NormalizeVersion renders schema_version in canonical semver form
// ("1.0" -> "1.0.0", "v2.1.0" -> "2.1.0"). Values that are not versions are
// kept verbatim.
func NormalizeVersion(v string) string {
	sv, err := semver.NewVersion(v)
	if err != nil {
		return v
	}
	return sv.String()
}
