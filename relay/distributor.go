package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"hadydotai/beacon/events"
)

// Distributor hands each event to exactly one subscriber, rotating through
// the registry in order.
type Distributor struct {
	registry *Registry
	logger   *slog.Logger
}

func NewDistributor(registry *Registry, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{registry: registry, logger: logger.With("component", "distributor")}
}

// Distribute never waits on the subscriber's socket: the payload is queued and
// written by the connection's own write loop.
func (d *Distributor) Distribute(evt events.Event) (Delivery, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Delivery{}, fmt.Errorf("relay: encode event: %w", err)
	}

	delivery := d.registry.dispatch(payload)
	switch delivery.Outcome {
	case OutcomeDelivered:
		d.logger.Debug("event delivered", "subscriber_id", delivery.SubscriberID)
	case OutcomeNoSubscribers:
		d.logger.Info("no subscribers connected, event not distributed")
	case OutcomeSkippedClosed:
		d.logger.Info("subscriber closing, event skipped", "subscriber_id", delivery.SubscriberID)
	case OutcomeDroppedBufferFull:
		d.logger.Warn("subscriber queue full, dropping event", "subscriber_id", delivery.SubscriberID)
	}
	return delivery, nil
}
