package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events on core NATS subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher creates a publisher on nc.
func NewNATSPublisher(nc *nats.Conn, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{nc: nc, logger: logger}
}

// Publish implements Publisher.
// NATS Publish does not take a context, so cancellation is checked first.
func (p *NATSPublisher) Publish(ctx context.Context, projectID string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(projectID)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("Broadcast publish failed", "subject", subject, "type", ev.Type, "error", err)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Capture collects events from a project subject.
// The caller must call Stop when done.
type Capture struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	events []Event
}

// CaptureEvents subscribes to the subject of projectID.
func CaptureEvents(nc *nats.Conn, projectID string) (*Capture, error) {
	c := &Capture{}
	sub, err := nc.Subscribe(Subject(projectID), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", Subject(projectID), err)
	}
	c.sub = sub
	return c, nil
}

// Events returns a copy of the captured events.
func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Stop unsubscribes.
func (c *Capture) Stop() error {
	return c.sub.Unsubscribe()
}
