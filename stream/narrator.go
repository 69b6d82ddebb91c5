package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/reportgen/broadcast"
)

// DefaultFlushInterval is how often buffered reasoning is broadcast.
const DefaultFlushInterval = 500 * time.Millisecond

// Narrator batches reasoning text and broadcasts it on a fixed cadence.
type Narrator struct {
	ctx       context.Context
	publisher broadcast.Publisher
	projectID string
	logger    *slog.Logger

	mu  sync.Mutex
	buf strings.Builder

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewNarrator starts a narrator flushing every interval until Close.
func NewNarrator(ctx context.Context, publisher broadcast.Publisher, projectID string, interval time.Duration, logger *slog.Logger) *Narrator {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &Narrator{
		ctx:       context.WithoutCancel(ctx),
		publisher: publisher,
		projectID: projectID,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go n.loop(interval)
	return n
}

// Write buffers text for the next flush.
func (n *Narrator) Write(text string) {
	if text == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buf.WriteString(text)
}

func (n *Narrator) loop(interval time.Duration) {
	defer close(n.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.flush()
		case <-n.stop:
			return
		}
	}
}

func (n *Narrator) flush() {
	n.mu.Lock()
	chunk := n.buf.String()
	n.buf.Reset()
	n.mu.Unlock()

	if chunk == "" {
		return
	}
	if err := n.publisher.Publish(n.ctx, n.projectID, broadcast.Reasoning(chunk)); err != nil {
		n.logger.Warn("Reasoning broadcast failed", "project_id", n.projectID, "error", err)
	}
}

// Close stops the ticker and flushes any remainder. It is safe to call
// more than once.
func (n *Narrator) Close() {
	n.closeOnce.Do(func() {
		close(n.stop)
		<-n.done
		n.flush()
	})
}
