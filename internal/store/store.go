package store

import (
	"context"

	"github.com/hallqvist/voltmine/internal/pricefeed"
	"github.com/hallqvist/voltmine/internal/supervisor"
)

// Store persists price samples and slot lifecycle events so operators can
// review what the automation did and why.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordPrice(ctx context.Context, s pricefeed.Sample) error
	RecordTransition(ctx context.Context, t supervisor.Transition) error
	RecentPrices(ctx context.Context, zone pricefeed.Zone, limit int) ([]pricefeed.Sample, error)
	RecentTransitions(ctx context.Context, slot string, limit int) ([]supervisor.Transition, error)
	Close() error
}
