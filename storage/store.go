package storage

import (
	"context"

	"venueflow/models"
)

// OrderStore persists canonical orders produced by the execution layer.
type OrderStore interface {
	// Put inserts or replaces an order keyed by venue + order ID.
	Put(ctx context.Context, order models.Order) error
	// Get returns the stored order, or false when unknown.
	Get(ctx context.Context, venue, orderID string) (models.Order, bool)
	// GetByClientID looks an order up by its client order ID.
	GetByClientID(ctx context.Context, venue, clientOrderID string) (models.Order, bool)
	// List returns all orders for a venue, newest first. An empty venue
	// returns every stored order.
	List(ctx context.Context, venue string) []models.Order
}

// SnapshotStore keeps account snapshots produced by the sync loop.
// Snapshots are append-only.
type SnapshotStore interface {
	Append(ctx context.Context, snapshot models.AccountSnapshot) error
	// Latest returns the most recent snapshot for a venue.
	Latest(ctx context.Context, venue string) (models.AccountSnapshot, bool)
	// History returns up to limit snapshots for a venue, newest first.
	History(ctx context.Context, venue string, limit int) []models.AccountSnapshot
}
