package projection

import (
	"context"

	"github.com/aspace-os/contractguard/pkg/contracts"
)

// Store is the injected handle the projection writer creates rows through.
type Store interface {
	CreateOrder(ctx context.Context, r *OrderRow) error
	CreatePulse(ctx context.Context, r *PulseRow) error
	CreateDecision(ctx context.Context, r *DecisionRow) error
	CreateIntent(ctx context.Context, r *IntentRow) error
	CreateUplink(ctx context.Context, r *UplinkRow) error

	// FindUnique returns ErrNotFound when kind has no row with id.
	FindUnique(ctx context.Context, kind contracts.Type, id string) (Row, error)
	// FindMany returns up to limit rows of kind, newest created_at first.
	FindMany(ctx context.Context, kind contracts.Type, limit int) ([]Row, error)
	Count(ctx context.Context, kind contracts.Type) (int, error)
}
