package ledger

import (
	"errors"
	"time"

	"github.com/aspace-os/contractguard/pkg/contracts"
)

var (
	// ErrNotFound is returned when no entry exists for a contract id.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrDuplicate is returned when a contract id is appended twice.
	ErrDuplicate = errors.New("contract id already recorded")
)

// DefaultLimit caps List when Filter.Limit is unset.
const DefaultLimit = 100

// TimeLayout is how CreatedAt is stored and hashed: UTC with microsecond
// precision, fixed width so lexical order is chronological.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Entry is one immutable ledger row.
type Entry struct {
	ID            string           `json:"id"`
	ContractID    string           `json:"contractId"`
	ContractType  contracts.Type   `json:"contractType"`
	RawJSON       string           `json:"rawJson"`
	Status        contracts.Status `json:"status"`
	ValidationLog string           `json:"validationLog,omitempty"`
	IntegrityHash string           `json:"integrityHash"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Type   contracts.Type
	Status contracts.Status
	Limit  int
}

// EffectiveLimit applies DefaultLimit to a zero or negative Limit.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// Matches reports whether e passes the type and status constraints.
func (f Filter) Matches(e Entry) bool {
	if f.Type != "" && e.ContractType != f.Type {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// NormalizeTime truncates t to the stored precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
