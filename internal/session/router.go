package session

import (
	"log/slog"

	"mqttd/internal/packet"
)

// Router is the PUBLISH arm of the connection handler (spec.md §4.6):
// given a decoded PUBLISH and the publisher's session, it looks up the
// registry's snapshot of subscribers for the exact topic string and
// enqueues the re-encoded packet to each, skipping the sender. It is
// not a separate scheduling entity — every call runs on the publisher's
// own handler goroutine, and delivery is a non-blocking channel send
// into each subscriber's own writer goroutine.
type Router struct {
	Registry *Registry
	Logger   *slog.Logger

	OnFanoutWrite func()
	OnFanoutDrop  func()
}

// Route re-encodes pub and delivers it to every session subscribed to
// pub.TopicName except publisher. It never returns an error: a write
// failure or full queue for one subscriber must not affect delivery to
// the others (spec.md §4.6).
func (r *Router) Route(pub *packet.Publish, publisher *Session) {
	subscribers := r.Registry.Subscribers(pub.TopicName)
	if len(subscribers) == 0 {
		return
	}

	frame, err := pub.Encode()
	if err != nil {
		r.Logger.Error("router: re-encode publish failed", "topic", pub.TopicName, "error", err)
		return
	}

	for _, sub := range subscribers {
		if sub.ID == publisher.ID {
			continue
		}
		if sub.Enqueue(frame) {
			if r.OnFanoutWrite != nil {
				r.OnFanoutWrite()
			}
		} else {
			r.Logger.Warn("router: subscriber outbox full, dropping frame",
				"topic", pub.TopicName, "subscriber", sub.ID, "client", sub.ClientID)
			if r.OnFanoutDrop != nil {
				r.OnFanoutDrop()
			}
		}
	}
}
