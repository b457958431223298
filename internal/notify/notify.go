// Package notify delivers notification actions to event subscribers such
// as connected websocket clients.
package notify

import (
	"github.com/rs/zerolog"

	"ocr-watch/internal/events"
)

// Notifier publishes notifications on the event bus and logs them
type Notifier struct {
	bus events.Publisher
	log zerolog.Logger
}

func New(bus events.Publisher, log zerolog.Logger) *Notifier {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Notifier{bus: bus, log: log}
}

func (n *Notifier) Notify(title, message string, sound bool) error {
	n.log.Info().Str("title", title).Bool("sound", sound).Msg(message)
	n.bus.Publish(events.Notification, map[string]interface{}{
		"title":   title,
		"message": message,
		"sound":   sound,
	})
	return nil
}
