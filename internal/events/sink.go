package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// NotificationSink consumes funding-request and order-completion events and
// pushes them to whatever delivery channel is wired in. Delivery is best
// effort: failures are logged and never reach the pipeline.
type NotificationSink struct {
	bus *Bus
}

func NewNotificationSink(bus *Bus) *NotificationSink {
	return &NotificationSink{bus: bus}
}

// Start subscribes to the notification-worthy events and logs them until the
// context is cancelled.
func (n *NotificationSink) Start(ctx context.Context) {
	logger := log.With().Str("component", "notification_sink").Logger()

	funding, unsubFunding := n.bus.Subscribe(EventFundingRequired, 32)
	completed, unsubCompleted := n.bus.Subscribe(EventOrderCompleted, 32)

	go func() {
		defer unsubFunding()
		defer unsubCompleted()
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("shutting down notification sink")
				return
			case payload, ok := <-funding:
				if !ok {
					return
				}
				logger.Info().Interface("event", payload).Msg("funding required")
			case payload, ok := <-completed:
				if !ok {
					return
				}
				logger.Info().Interface("event", payload).Msg("order completed")
			}
		}
	}()
}
