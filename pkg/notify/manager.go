package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xdap/certsquat/pkg/interfaces"
)

// Manager fans match notifications out to the configured notifiers,
// applying rate limiting and optional batching. Delivery is asynchronous
// and best-effort: failures are logged, counted, and never propagate.
type Manager struct {
	notifiers []Notifier
	limiter   interfaces.RateLimiter
	batcher   *Batcher
	logger    *slog.Logger

	failures atomic.Uint64

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a notification manager. A batchWindow of zero
// disables batching and delivers each message immediately.
func NewManager(notifiers []Notifier, limiter interfaces.RateLimiter, batchWindow time.Duration, logger *slog.Logger) *Manager {
	m := &Manager{
		notifiers: notifiers,
		limiter:   limiter,
		logger:    logger,
	}
	if batchWindow > 0 {
		m.batcher = NewBatcher(batchWindow, m.deliverBatch)
	}
	return m
}

// Send queues msg for delivery to every notifier. Messages over the rate
// limit are dropped.
func (m *Manager) Send(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.notifiers) == 0 {
		return
	}

	if m.limiter != nil && !m.limiter.Allow() {
		m.logger.Debug("notification dropped by rate limit", "domain", msg.Domain)
		return
	}

	if m.batcher != nil {
		m.batcher.Add(msg)
		return
	}
	m.deliver(msg)
}

// deliver sends msg to each notifier concurrently. One notifier failing
// or hanging never blocks the others.
func (m *Manager) deliver(msg Message) {
	for _, n := range m.notifiers {
		m.wg.Add(1)
		go func(n Notifier) {
			defer m.wg.Done()
			if err := n.Send(msg); err != nil {
				m.failures.Add(1)
				m.logger.Warn("notification delivery failed", "domain", msg.Domain, "error", err)
			}
		}(n)
	}
}

// deliverBatch collapses a batch into a single message and delivers it.
func (m *Manager) deliverBatch(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	if len(msgs) == 1 {
		m.deliver(msgs[0])
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d new matches:", len(msgs))
	for _, msg := range msgs {
		b.WriteString("\n")
		b.WriteString(msg.Text)
	}
	m.deliver(Message{Text: b.String(), Time: time.Now()})
}

// Failures reports how many deliveries have failed so far.
func (m *Manager) Failures() uint64 {
	return m.failures.Load()
}

// Close flushes any pending batch and waits up to grace for in-flight
// deliveries to finish. Deliveries still running after the grace period
// are abandoned.
func (m *Manager) Close(grace time.Duration) error {
	m.mu.Lock()
	if m.batcher != nil {
		m.batcher.Flush()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("abandoned in-flight notifications after %s", grace)
	}
}
