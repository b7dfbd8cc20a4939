// Package provider defines storage provider handles and the health catalog
// the write path consults to pick where shards go.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by providers that refuse a shard.
var ErrUnavailable = errors.New("provider unavailable")

// Provider accepts shards for remote storage.
type Provider interface {

	// ID is the provider's stable identity.
	ID() string

	// SendChunk delivers one shard, blocking until the provider accepts or
	// rejects it.
	SendChunk(ctx context.Context, shard []byte) error
}

// Prober is implemented by providers that can measure their own round trip.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// Catalog reports which providers are currently usable and how their
// network behaves.
type Catalog interface {

	// Healthy returns the usable providers in a stable order. It may be
	// empty.
	Healthy() []Provider

	// Stats returns the round-trip time in milliseconds and the loss
	// fraction last observed for provider id.
	Stats(id string) (rttMS float64, loss float64)
}
