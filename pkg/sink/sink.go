// Package sink consumes confirmed matches: it appends them to the
// match log, persists them, fires notifications, and echoes them to
// the console. A bounded queue decouples delivery from matching so a
// slow collaborator can never stall stream ingestion.
package sink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xdap/certsquat/pkg/matcher"
	"github.com/0xdap/certsquat/pkg/notify"
	"github.com/0xdap/certsquat/pkg/types"
)

// ErrLogWrite means the match log stopped accepting writes. The match
// log is the system of record, so this is fatal rather than a counter.
var ErrLogWrite = errors.New("match log unwritable")

const (
	queueCapacity = 1024
	writeAttempts = 3
)

// Store persists matches.
type Store interface {
	Insert(event types.MatchEvent) error
}

// Resolver fills in the addresses a matched domain currently serves.
type Resolver interface {
	Addresses(domain string) []string
}

// Notifier dispatches outbound alerts.
type Notifier interface {
	Send(msg notify.Message)
}

// Console echoes matches to an interactive terminal.
type Console interface {
	Match(event types.MatchEvent)
}

// Deps carries the optional collaborators a sink drives. Any nil
// field is skipped.
type Deps struct {
	Store    Store
	Resolver Resolver
	Notifier Notifier
	Console  Console
}

// Stats is a point-in-time snapshot of the sink counters.
type Stats struct {
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	StoreErrors uint64 `json:"store_errors"`
}

// Sink fans each match out to the match log and the configured
// collaborators from a single consumer goroutine.
type Sink struct {
	out    io.Writer
	deps   Deps
	logger *slog.Logger

	queue chan types.MatchEvent
	stop  chan struct{}
	done  chan struct{}
	errCh chan error

	closeOnce sync.Once

	delivered   atomic.Uint64
	dropped     atomic.Uint64
	storeErrors atomic.Uint64
}

var _ matcher.Sink = (*Sink)(nil)

// New creates a sink writing the match log to out and starts its
// delivery loop. Call Close to drain and stop it.
func New(out io.Writer, deps Deps, logger *slog.Logger) *Sink {
	return newSink(out, deps, logger, queueCapacity)
}

func newSink(out io.Writer, deps Deps, logger *slog.Logger, capacity int) *Sink {
	s := &Sink{
		out:    out,
		deps:   deps,
		logger: logger,
		queue:  make(chan types.MatchEvent, capacity),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		errCh:  make(chan error, 1),
	}
	go s.run()
	return s
}

// Deliver enqueues one match without blocking. When the queue is full
// the event is dropped and counted; ingestion never waits on delivery.
func (s *Sink) Deliver(event types.MatchEvent) {
	select {
	case s.queue <- event:
	default:
		s.dropped.Add(1)
		s.logger.Warn("delivery queue full, dropping match", "domain", event.Domain)
	}
}

// Err reports fatal sink failures. At most one error is ever sent; a
// run whose match log cannot be written should come down rather than
// silently lose evidence.
func (s *Sink) Err() <-chan error {
	return s.errCh
}

// Stats reports the delivery counters. Safe to call from any
// goroutine.
func (s *Sink) Stats() Stats {
	return Stats{
		Delivered:   s.delivered.Load(),
		Dropped:     s.dropped.Load(),
		StoreErrors: s.storeErrors.Load(),
	}
}

// Close drains queued matches, stops the delivery loop, and waits for
// it to finish.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		select {
		case event := <-s.queue:
			s.process(event)
		case <-s.stop:
			for {
				select {
				case event := <-s.queue:
					s.process(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) process(event types.MatchEvent) {
	if s.deps.Resolver != nil {
		event.Addresses = s.deps.Resolver.Addresses(event.Domain)
	}

	if err := s.writeLog(event); err != nil {
		s.logger.Error("match log write failed", "domain", event.Domain, "error", err)
		select {
		case s.errCh <- err:
		default:
		}
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.Insert(event); err != nil {
			s.storeErrors.Add(1)
			s.logger.Warn("match not persisted", "domain", event.Domain, "error", err)
		}
	}

	if s.deps.Console != nil {
		s.deps.Console.Match(event)
	}

	if s.deps.Notifier != nil {
		s.deps.Notifier.Send(notifyMessage(event))
	}

	s.delivered.Add(1)
}

func (s *Sink) writeLog(event types.MatchEvent) error {
	line := formatLine(event)
	var lastErr error
	for i := 0; i < writeAttempts; i++ {
		if _, err := io.WriteString(s.out, line+"\n"); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrLogWrite, lastErr)
}

func formatLine(event types.MatchEvent) string {
	line := fmt.Sprintf("%s\t%s\tmatch -> %s",
		event.Seen.UTC().Format(time.RFC3339), event.Domain, event.Pattern)
	if len(event.Addresses) > 0 {
		line += "\t" + strings.Join(event.Addresses, ",")
	}
	return line
}

func notifyMessage(event types.MatchEvent) notify.Message {
	text := fmt.Sprintf("Suspicious domain %s matched %q", event.Domain, event.Pattern)
	if len(event.Addresses) > 0 {
		text += " (resolves to " + strings.Join(event.Addresses, ", ") + ")"
	}
	return notify.Message{
		Domain:  event.Domain,
		Pattern: event.Pattern,
		Text:    text,
		Time:    event.Seen,
	}
}
