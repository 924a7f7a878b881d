// Package guard is the write gate in front of the contract ledger. Every
// submission is validated, hashed and recorded; only accepted contracts are
// projected into the typed tables. When the durable store is unavailable the
// guard runs in Air Lock mode: writes are refused and reads come from an
// offline snapshot.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aspace-os/contractguard/pkg/canonicalize"
	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/integrity"
	"github.com/aspace-os/contractguard/pkg/observability"
	"github.com/aspace-os/contractguard/pkg/projection"
	"github.com/aspace-os/contractguard/pkg/schema"
	"github.com/aspace-os/contractguard/pkg/store/ledger"
	projstore "github.com/aspace-os/contractguard/pkg/store/projection"
	"github.com/aspace-os/contractguard/pkg/store/snapshot"
)

// MaxPayloadBytes bounds the serialized size of a submitted payload.
const MaxPayloadBytes = 1 << 20

// Mode is the guard's operating state, fixed at construction.
type Mode string

const (
	ModeReady    Mode = "READY"
	ModeDegraded Mode = "DEGRADED"
)

// ErrorKind classifies a failed write. Validation failures, store
// unavailability and programming errors are never folded together.
type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindInvalidInput   ErrorKind = "INVALID_INPUT"
	KindValidation     ErrorKind = "VALIDATION"
	KindWritesDisabled ErrorKind = "WRITES_DISABLED"
	KindStore          ErrorKind = "STORE"
	KindProjection     ErrorKind = "PROJECTION"
	KindFatal          ErrorKind = "FATAL"
)

// ErrWritesDisabled is the error text reported in Air Lock mode.
var ErrWritesDisabled = errors.New("writes disabled: Air Lock mode active")

// Result is the outcome of WriteContract.
type Result struct {
	Success    bool               `json:"success"`
	ContractID string             `json:"contractId"`
	Status     contracts.Status   `json:"status,omitempty"`
	LedgerID   string             `json:"ledgerId,omitempty"`
	Idempotent bool               `json:"idempotent,omitempty"`
	Error      string             `json:"error,omitempty"`
	ErrorKind  ErrorKind          `json:"errorKind,omitempty"`
	Violations []schema.Violation `json:"violations,omitempty"`
}

// StatusView is the read model for one contract.
type StatusView struct {
	ContractID    string           `json:"contractId"`
	ContractType  contracts.Type   `json:"contractType"`
	Status        contracts.Status `json:"status"`
	ValidationLog string           `json:"validationLog,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	Source        string           `json:"source"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Guard. A nil Ledger or Projections forces Air Lock mode.
type Options struct {
	Ledger      ledger.Ledger
	Projections projstore.Store
	Registry    *schema.Registry
	// ExamplesDir seeds the offline snapshot in Air Lock mode.
	ExamplesDir string
	AirLock     bool
	Logger      *slog.Logger
	Telemetry   *observability.Provider
	Clock       func() time.Time
}

// Guard orchestrates validation, hashing, the ledger and projections.
type Guard struct {
	mode     Mode
	ledger   ledger.Ledger
	writer   *projection.Writer
	registry *schema.Registry
	snapshot *snapshot.Snapshot
	logger   *slog.Logger
	tel      *observability.Provider
	clock    func() time.Time
}

// New builds a guard and decides its mode once.
func New(ctx context.Context, opts Options) *Guard {
	g := &Guard{
		mode:     ModeReady,
		ledger:   opts.Ledger,
		registry: opts.Registry,
		logger:   opts.Logger,
		tel:      opts.Telemetry,
		clock:    opts.Clock,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "guard")
	if g.registry == nil {
		g.registry = schema.NewRegistry("protocols")
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	if g.tel == nil {
		if tel, err := observability.New(ctx, nil); err == nil {
			g.tel = tel
		}
	}

	switch {
	case opts.AirLock:
		g.degrade(ctx, "air lock forced by configuration")
	case opts.Ledger == nil || opts.Projections == nil:
		g.degrade(ctx, "no durable store configured")
	default:
		if err := ping(ctx, opts.Ledger, opts.Projections); err != nil {
			g.degrade(ctx, "durable store unreachable: "+err.Error())
		}
	}

	if g.mode == ModeReady {
		g.writer = projection.NewWriter(opts.Projections)
		g.logger.InfoContext(ctx, "contract guard ready")
		return g
	}

	snap, err := snapshot.Load(opts.ExamplesDir, g.registry)
	if err != nil {
		g.logger.WarnContext(ctx, "offline snapshot unavailable", "error", err)
		snap = snapshot.Empty()
	}
	for _, sk := range snap.Skipped {
		g.logger.WarnContext(ctx, "snapshot skipped file", "file", sk.File, "reason", sk.Reason)
	}
	g.snapshot = snap
	g.ledger = nil
	g.logger.InfoContext(ctx, "offline snapshot loaded", "entries", snap.Len())
	return g
}

func (g *Guard) degrade(ctx context.Context, reason string) {
	g.mode = ModeDegraded
	g.logger.WarnContext(ctx, "Air Lock mode active: writes disabled", "reason", reason)
}

func ping(ctx context.Context, stores ...any) error {
	for _, s := range stores {
		if p, ok := s.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Mode reports READY or DEGRADED.
func (g *Guard) Mode() Mode { return g.mode }

// WriteContract runs one submission through the gate. It never returns a Go
// error; every failure is described by the Result.
func (g *Guard) WriteContract(ctx context.Context, in contracts.Input) (res Result) {
	ctx, done := g.track(ctx, in)
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "recovered panic in WriteContract", "contract_id", in.ContractID, "panic", r)
			res = fail(in.ContractID, KindFatal, fmt.Sprintf("internal error: %v", r))
		}
		g.record(ctx, in, res)
		if done != nil {
			var err error
			if res.ErrorKind != KindNone {
				err = errors.New(res.Error)
			}
			done(err)
		}
	}()

	if g.mode == ModeDegraded {
		g.logger.WarnContext(ctx, "write refused: Air Lock mode active", "contract_id", in.ContractID, "contract_type", in.ContractType)
		return fail(in.ContractID, KindWritesDisabled, ErrWritesDisabled.Error())
	}

	if in.ContractID == "" {
		return fail(in.ContractID, KindInvalidInput, "contract id is required")
	}
	if strings.IndexFunc(in.ContractID, unicode.IsControl) >= 0 {
		return fail(in.ContractID, KindInvalidInput, "contract id must not contain control characters")
	}

	existing, err := g.ledger.FindByContractID(ctx, in.ContractID)
	switch {
	case err == nil:
		g.logger.InfoContext(ctx, "contract already recorded", "contract_id", in.ContractID, "status", existing.Status)
		return fromEntry(existing)
	case !errors.Is(err, ledger.ErrNotFound):
		return fail(in.ContractID, KindStore, fmt.Sprintf("ledger lookup failed: %v", err))
	}

	raw, err := json.Marshal(in.Data)
	if err != nil {
		return fail(in.ContractID, KindInvalidInput, fmt.Sprintf("payload is not serializable: %v", err))
	}
	if len(raw) > MaxPayloadBytes {
		return fail(in.ContractID, KindInvalidInput, fmt.Sprintf("payload exceeds %d bytes", MaxPayloadBytes))
	}
	canon, err := canonicalize.Bytes(raw)
	if err != nil {
		return fail(in.ContractID, KindInvalidInput, fmt.Sprintf("payload canonicalization failed: %v", err))
	}

	outcome := g.registry.ValidateDocument(in.ContractType, in.Data)
	status := contracts.StatusAccepted
	if !outcome.Valid {
		status = contracts.StatusRejected
	}

	createdAt := ledger.NormalizeTime(g.clock())
	entry, err := g.ledger.Append(ctx, ledger.Entry{
		ContractID:    in.ContractID,
		ContractType:  in.ContractType,
		RawJSON:       string(raw),
		Status:        status,
		ValidationLog: outcome.Log(),
		IntegrityHash: integrity.Hash(in.ContractID, string(in.ContractType), canon, string(status), createdAt),
		CreatedAt:     createdAt,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			// A concurrent submission won the race; report what it stored.
			if stored, ferr := g.ledger.FindByContractID(ctx, in.ContractID); ferr == nil {
				return fromEntry(stored)
			}
		}
		return fail(in.ContractID, KindStore, fmt.Sprintf("ledger append failed: %v", err))
	}

	if status == contracts.StatusRejected {
		g.logger.WarnContext(ctx, "contract rejected", "contract_id", in.ContractID, "contract_type", in.ContractType, "violations", len(outcome.Violations))
		res := fail(in.ContractID, KindValidation, "contract validation failed:\n"+outcome.Log())
		res.Status = status
		res.LedgerID = entry.ID
		res.Violations = outcome.Violations
		return res
	}

	if err := g.project(ctx, in); err != nil {
		kind := KindProjection
		if errors.Is(err, projection.ErrUnknownProjection) {
			kind = KindFatal
		}
		g.logger.ErrorContext(ctx, "projection failed after ledger accept", "contract_id", in.ContractID, "error", err)
		res := fail(in.ContractID, kind, fmt.Sprintf("projection write failed: %v", err))
		res.Status = status
		res.LedgerID = entry.ID
		return res
	}

	g.logger.InfoContext(ctx, "contract accepted", "contract_id", in.ContractID, "contract_type", in.ContractType)
	return Result{Success: true, ContractID: in.ContractID, Status: status, LedgerID: entry.ID}
}

func (g *Guard) project(ctx context.Context, in contracts.Input) error {
	payload, err := contracts.DecodePayload(in.ContractType, in.Data)
	if err != nil {
		return err
	}
	return g.writer.Project(ctx, payload)
}

// ValidateContract runs the schema check only. It is available in both modes.
func (g *Guard) ValidateContract(in contracts.Input) schema.Outcome {
	return g.registry.ValidateDocument(in.ContractType, in.Data)
}

// GetContractStatus returns nil, nil when the contract is unknown.
func (g *Guard) GetContractStatus(ctx context.Context, contractID string) (*StatusView, error) {
	e, source, err := g.find(ctx, contractID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ContractID:    e.ContractID,
		ContractType:  e.ContractType,
		Status:        e.Status,
		ValidationLog: e.ValidationLog,
		CreatedAt:     e.CreatedAt,
		Source:        source,
	}, nil
}

// ListContracts returns entries newest first from the ledger, or from the
// snapshot in Air Lock mode.
func (g *Guard) ListContracts(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	if g.mode == ModeDegraded {
		return g.snapshot.List(ctx, f)
	}
	entries, err := g.ledger.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	return entries, nil
}

// VerifyIntegrity recomputes the stored digest for contractID.
func (g *Guard) VerifyIntegrity(ctx context.Context, contractID string) (bool, error) {
	e, _, err := g.find(ctx, contractID)
	if err != nil {
		return false, err
	}
	return integrity.VerifyEntry(e), nil
}

func (g *Guard) find(ctx context.Context, contractID string) (ledger.Entry, string, error) {
	if g.mode == ModeDegraded {
		e, err := g.snapshot.Find(ctx, contractID)
		return e, "snapshot", err
	}
	e, err := g.ledger.FindByContractID(ctx, contractID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return e, "ledger", fmt.Errorf("failed to read ledger: %w", err)
	}
	return e, "ledger", err
}

func fromEntry(e ledger.Entry) Result {
	res := Result{
		Success:    e.Status == contracts.StatusAccepted,
		ContractID: e.ContractID,
		Status:     e.Status,
		LedgerID:   e.ID,
		Idempotent: true,
	}
	if !res.Success {
		res.ErrorKind = KindValidation
		res.Error = "contract validation failed:\n" + e.ValidationLog
	}
	return res
}

func fail(contractID string, kind ErrorKind, msg string) Result {
	return Result{ContractID: contractID, ErrorKind: kind, Error: msg}
}

func (g *Guard) track(ctx context.Context, in contracts.Input) (context.Context, func(error)) {
	if g.tel == nil {
		return ctx, nil
	}
	return g.tel.TrackOperation(ctx, "guard.WriteContract",
		attribute.String("contract.id", in.ContractID),
		attribute.String("contract.type", string(in.ContractType)),
		attribute.String("guard.mode", string(g.mode)),
	)
}

func (g *Guard) record(ctx context.Context, in contracts.Input, res Result) {
	if g.tel == nil || res.Idempotent {
		return
	}
	typ := string(in.ContractType)
	switch {
	case res.Success:
		g.tel.ContractAccepted(ctx, typ)
	case res.ErrorKind == KindValidation:
		g.tel.ContractRejected(ctx, typ)
	case res.ErrorKind == KindWritesDisabled:
		g.tel.ContractRefused(ctx, typ)
	default:
		g.tel.RecordError(ctx, string(res.ErrorKind))
	}
}
