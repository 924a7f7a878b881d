// Package snapshot is the read model served while writes are disabled: the
// example contracts on disk, validated in memory and never persisted.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aspace-os/contractguard/pkg/canonicalize"
	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/integrity"
	"github.com/aspace-os/contractguard/pkg/schema"
	"github.com/aspace-os/contractguard/pkg/store/ledger"
)

// Skip records a file that could not be turned into an entry.
type Skip struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Snapshot is an immutable, in-memory set of ledger entries.
type Snapshot struct {
	dir     string
	entries []ledger.Entry
	byID    map[string]int
	Skipped []Skip
}

// Empty returns a snapshot with no entries.
func Empty() *Snapshot {
	return &Snapshot{byID: map[string]int{}}
}

// Load reads every *.json file in dir. A missing directory yields an empty
// snapshot.
func Load(dir string, reg *schema.Registry) (*Snapshot, error) {
	s := Empty()
	s.dir = dir

	names, err := listJSON(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	for _, name := range names {
		entry, reason := s.build(reg, name)
		if reason != "" {
			s.Skipped = append(s.Skipped, Skip{File: name, Reason: reason})
			continue
		}
		s.byID[entry.ContractID] = len(s.entries)
		s.entries = append(s.entries, entry)
	}
	return s, nil
}

func (s *Snapshot) build(reg *schema.Registry, name string) (ledger.Entry, string) {
	typ, ok := contracts.InferType(name)
	if !ok {
		return ledger.Entry{}, "cannot infer contract type from filename"
	}

	path := filepath.Join(s.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return ledger.Entry{}, err.Error()
	}
	doc, err := schema.DecodeJSON(raw)
	if err != nil {
		return ledger.Entry{}, "invalid JSON: " + err.Error()
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return ledger.Entry{}, "document is not a JSON object"
	}
	id, _ := obj["id"].(string)
	if id == "" {
		return ledger.Entry{}, "missing id"
	}
	if _, dup := s.byID[id]; dup {
		return ledger.Entry{}, "duplicate id " + id
	}

	outcome := reg.ValidateDocument(typ, obj)
	status := contracts.StatusAccepted
	if !outcome.Valid {
		status = contracts.StatusRejected
	}

	canon, err := canonicalize.Bytes(raw)
	if err != nil {
		return ledger.Entry{}, "canonicalize: " + err.Error()
	}

	entry := ledger.Entry{
		ID:            "snapshot:" + name,
		ContractID:    id,
		ContractType:  typ,
		RawJSON:       string(raw),
		Status:        status,
		ValidationLog: outcome.Log(),
		CreatedAt:     createdAt(obj, path),
	}
	entry.IntegrityHash = integrity.Hash(id, string(typ), canon, string(status), entry.CreatedAt)
	return entry, ""
}

// createdAt prefers the document's own created_at, then the file's mtime.
func createdAt(obj map[string]any, path string) time.Time {
	if s, ok := obj["created_at"].(string); ok {
		if ts, err := contracts.ParseTimestamp(s); err == nil {
			return ledger.NormalizeTime(ts)
		}
	}
	if info, err := os.Stat(path); err == nil {
		return ledger.NormalizeTime(info.ModTime())
	}
	return time.Time{}
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

// Dir is the directory the snapshot was loaded from.
func (s *Snapshot) Dir() string { return s.dir }

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Find returns the entry for contractID or ledger.ErrNotFound.
func (s *Snapshot) Find(ctx context.Context, contractID string) (ledger.Entry, error) {
	idx, ok := s.byID[contractID]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return s.entries[idx], nil
}

// List applies the ledger's filter semantics.
func (s *Snapshot) List(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	return ledger.SortAndLimit(s.entries, f), nil
}
