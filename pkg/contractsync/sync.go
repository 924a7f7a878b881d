// Package contractsync replays the example contract documents on disk through
// the guard and records an audit document for every pass.
package contractsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aspace-os/contractguard/pkg/auditlog"
	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/guard"
	"github.com/aspace-os/contractguard/pkg/schema"
	"github.com/aspace-os/contractguard/pkg/synclock"
)

// ErrSyncInProgress is returned when another pass holds the sync lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// LockKey names the lock shared by every syncer over the same ledger.
const LockKey = "contract-sync"

const lockTTL = 5 * time.Minute

// Gate is the part of the guard a sync pass drives.
type Gate interface {
	GetContractStatus(ctx context.Context, contractID string) (*guard.StatusView, error)
	WriteContract(ctx context.Context, in contracts.Input) guard.Result
}

// DetailStatus is the per-file outcome.
type DetailStatus string

const (
	DetailAccepted DetailStatus = "ACCEPTED"
	DetailRejected DetailStatus = "REJECTED"
	DetailError    DetailStatus = "ERROR"
)

// Detail describes one processed file.
type Detail struct {
	File         string       `json:"file"`
	ContractID   string       `json:"contractId"`
	ContractType string       `json:"contractType"`
	Status       DetailStatus `json:"status"`
	Skipped      bool         `json:"skipped,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Result tallies one pass.
type Result struct {
	Total    int       `json:"total"`
	Accepted int       `json:"accepted"`
	Rejected int       `json:"rejected"`
	Errors   int       `json:"errors"`
	Details  []Detail  `json:"details"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// AuditRecord is the document written to the audit sink.
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Result    *Result   `json:"result"`
}

// Options configures a Syncer. Sink and Locker are optional.
type Options struct {
	Dir    string
	Sink   auditlog.Sink
	Locker synclock.Locker
	Logger *slog.Logger
	Clock  func() time.Time
}

// Syncer runs sync passes and remembers the last result.
type Syncer struct {
	gate   Gate
	dir    string
	sink   auditlog.Sink
	locker synclock.Locker
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.RWMutex
	last    *Result
	running bool
}

func NewSyncer(gate Gate, opts Options) *Syncer {
	s := &Syncer{
		gate:   gate,
		dir:    opts.Dir,
		sink:   opts.Sink,
		locker: opts.Locker,
		logger: opts.Logger,
		clock:  opts.Clock,
	}
	if s.locker == nil {
		s.locker = synclock.NewLocalLocker()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "sync")
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Syncing reports whether a pass is running in this process.
func (s *Syncer) Syncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastResult returns the most recent completed pass, or nil.
func (s *Syncer) LastResult() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run processes every *.json file in the directory in name order.
// Rejections are not errors; only a missing directory, lock contention or a
// lock backend failure fail the pass.
func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	unlock, ok, err := s.locker.TryLock(ctx, LockKey, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer unlock()

	s.setRunning(true)
	defer s.setRunning(false)

	names, err := listJSON(s.dir)
	if err != nil {
		return nil, fmt.Errorf("contracts directory not readable: %w", err)
	}

	res := &Result{Total: len(names), Details: []Detail{}, Started: s.clock().UTC()}
	s.logger.InfoContext(ctx, "sync started", "dir", s.dir, "files", len(names))

	for _, name := range names {
		d := s.processFile(ctx, name)
		switch d.Status {
		case DetailAccepted:
			res.Accepted++
		case DetailRejected:
			res.Rejected++
		default:
			res.Errors++
		}
		res.Details = append(res.Details, d)
	}
	res.Finished = s.clock().UTC()

	s.logger.InfoContext(ctx, "sync finished",
		"total", res.Total,
		"accepted", res.Accepted,
		"rejected", res.Rejected,
		"errors", res.Errors,
	)
	s.writeAudit(ctx, res)

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	return res, nil
}

func (s *Syncer) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Syncer) processFile(ctx context.Context, name string) Detail {
	d := Detail{File: name, ContractID: "unknown", ContractType: "unknown"}

	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return s.errorDetail(ctx, d, err.Error())
	}
	doc, err := schema.DecodeJSON(raw)
	if err != nil {
		return s.errorDetail(ctx, d, "invalid JSON: "+err.Error())
	}
	data, ok := doc.(map[string]any)
	if !ok {
		return s.errorDetail(ctx, d, "document is not a JSON object")
	}
	if id, ok := data["id"].(string); ok && id != "" {
		d.ContractID = id
	}

	typ, ok := contracts.InferType(name)
	if !ok {
		return s.errorDetail(ctx, d, "cannot infer contract type from filename")
	}
	d.ContractType = string(typ)
	if d.ContractID == "unknown" {
		return s.errorDetail(ctx, d, "contract id missing")
	}

	existing, err := s.gate.GetContractStatus(ctx, d.ContractID)
	if err != nil {
		return s.errorDetail(ctx, d, err.Error())
	}
	if existing != nil {
		s.logger.DebugContext(ctx, "contract already exists", "file", name, "contract_id", d.ContractID, "status", existing.Status)
		d.Skipped = true
		d.Status = DetailStatus(existing.Status)
		d.Error = existing.ValidationLog
		return d
	}

	res := s.gate.WriteContract(ctx, contracts.Input{ContractID: d.ContractID, ContractType: typ, Data: data})
	switch {
	case res.Success:
		d.Status = DetailAccepted
	case res.ErrorKind == guard.KindValidation:
		d.Status = DetailRejected
		d.Error = res.Error
		s.logger.InfoContext(ctx, "contract rejected", "file", name, "contract_id", d.ContractID, "error", firstLine(res.Error))
	default:
		return s.errorDetail(ctx, d, res.Error)
	}
	return d
}

func (s *Syncer) errorDetail(ctx context.Context, d Detail, msg string) Detail {
	s.logger.WarnContext(ctx, "sync file error", "file", d.File, "error", msg)
	d.Status = DetailError
	d.Error = msg
	return d
}

func (s *Syncer) writeAudit(ctx context.Context, res *Result) {
	if s.sink == nil {
		return
	}
	now := s.clock().UTC()
	data, err := json.MarshalIndent(AuditRecord{Timestamp: now, Result: res}, "", "  ")
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode audit log", "error", err)
		return
	}
	name := AuditName(now)
	if err := s.sink.Write(ctx, name, data); err != nil {
		s.logger.ErrorContext(ctx, "failed to write audit log", "name", name, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "audit log written", "name", name)
}

// AuditName is the audit document name for a pass finished at t.
func AuditName(t time.Time) string {
	return fmt.Sprintf("sync-%d.json", t.UnixMilli())
}

func listJSON(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, de := range des {
		if !de.IsDir() && contracts.IsContractFile(de.Name()) {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
