package notifier

import (
	"context"

	"github.com/pfrederiksen/city-events/internal/event"
)

// Notifier defines the interface for announcing newly discovered events
type Notifier interface {
	// Notify posts notifications for the given events
	Notify(ctx context.Context, events []*event.Event) error
}
