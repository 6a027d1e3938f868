// Package ingestion feeds upstream trade events into the aggregation engine.
package ingestion

import (
	"context"

	"pumpfun-candles/internal/domain"
)

// Event is one upstream event; exactly one field is set.
type Event struct {
	Trade *domain.Trade
	Token *TokenEvent
}

// TokenEvent announces a token launch with its metadata.
type TokenEvent struct {
	Mint     string
	Metadata domain.TokenMetadata
}

// Mint returns the token the event refers to.
func (e Event) Mint() string {
	switch {
	case e.Trade != nil:
		return e.Trade.Mint
	case e.Token != nil:
		return e.Token.Mint
	}
	return ""
}

// Source provides a live stream of upstream events.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string

	// Subscribe starts streaming. The channel is closed when the context is
	// cancelled or the upstream stream ends; callers resubscribe to resume.
	Subscribe(ctx context.Context) (<-chan Event, error)
}
