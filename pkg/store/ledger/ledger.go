// Package ledger is the append-only, integrity-hashed record of contract
// decisions. Entries are never updated or deleted.
package ledger

import (
	"context"
)

// Ledger is the append-only record of every accept/reject decision.
// Implementations expose no update or delete.
type Ledger interface {
	// Append persists e atomically. ID is generated when empty and CreatedAt
	// defaults to now; the stored entry is returned. It returns ErrDuplicate
	// when e.ContractID is already recorded.
	Append(ctx context.Context, e Entry) (Entry, error)

	// FindByContractID returns ErrNotFound when the id was never appended.
	FindByContractID(ctx context.Context, contractID string) (Entry, error)

	// List returns entries newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
}
