// Package matcher drives the watch pipeline: it drains a certificate
// source, normalizes and dedupes the observed domains, and hands
// watchlist hits to a sink.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/0xdap/certsquat/pkg/interfaces"
	"github.com/0xdap/certsquat/pkg/types"
	"github.com/0xdap/certsquat/pkg/watchlist"
)

// ErrMalformedObservation marks stream entries that cannot be treated
// as a domain name. They are counted and skipped, never fatal.
var ErrMalformedObservation = errors.New("malformed observation")

// Sink receives every confirmed watchlist hit.
type Sink interface {
	Deliver(event types.MatchEvent)
}

// State describes where the matcher is in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of the matcher counters.
type Stats struct {
	Observed  uint64 `json:"observed"`
	Unique    uint64 `json:"unique"`
	Matched   uint64 `json:"matched"`
	Malformed uint64 `json:"malformed"`
}

// Matcher checks every observed domain against a watchlist exactly
// once per run. Duplicate observations are common on certificate
// streams, so domains already seen this run are dropped before
// matching.
type Matcher struct {
	list   *watchlist.Watchlist
	sink   Sink
	runID  string
	logger *slog.Logger

	seen  map[string]struct{}
	state atomic.Int32

	observed  atomic.Uint64
	unique    atomic.Uint64
	matched   atomic.Uint64
	malformed atomic.Uint64
}

// New creates a matcher delivering hits against list to sink. Events
// carry runID so downstream storage can tell runs apart.
func New(list *watchlist.Watchlist, sink Sink, runID string, logger *slog.Logger) *Matcher {
	return &Matcher{
		list:   list,
		sink:   sink,
		runID:  runID,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Run consumes src until its domain channel closes. A source that
// fails is fatal and surfaces as the returned error; cancellation via
// ctx is a clean stop. Run must only be called once.
func (m *Matcher) Run(ctx context.Context, src interfaces.Source) error {
	m.state.Store(int32(StateRunning))
	defer m.state.Store(int32(StateStopped))

	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx) }()

	for domain := range src.Domains() {
		m.observe(domain)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("source: %w", err)
	}
	return nil
}

// State reports the current lifecycle state. Safe to call from any
// goroutine.
func (m *Matcher) State() State {
	return State(m.state.Load())
}

// Stats reports the pipeline counters. Safe to call from any
// goroutine.
func (m *Matcher) Stats() Stats {
	return Stats{
		Observed:  m.observed.Load(),
		Unique:    m.unique.Load(),
		Matched:   m.matched.Load(),
		Malformed: m.malformed.Load(),
	}
}

func (m *Matcher) observe(raw string) {
	domain, err := normalizeObservation(raw)
	if err != nil {
		m.malformed.Add(1)
		m.logger.Debug("skipping observation", "raw", raw, "error", err)
		return
	}
	m.observed.Add(1)

	if _, dup := m.seen[domain]; dup {
		return
	}
	m.seen[domain] = struct{}{}
	m.unique.Add(1)

	pattern, ok := m.list.Match(domain)
	if !ok {
		return
	}
	m.matched.Add(1)

	m.sink.Deliver(types.MatchEvent{
		Domain:     domain,
		Pattern:    pattern,
		RootDomain: rootDomain(domain),
		Seen:       time.Now(),
		RunID:      m.runID,
	})
}

// normalizeObservation lowercases and trims a raw stream entry and
// strips a leading wildcard label. Certificates routinely carry
// "*.example.com" SANs; the wildcard itself is never a match target.
func normalizeObservation(raw string) (string, error) {
	domain := watchlist.Normalize(raw)
	domain = strings.TrimPrefix(domain, "*.")
	if domain == "" {
		return "", ErrMalformedObservation
	}
	if strings.ContainsAny(domain, " \t") {
		return "", fmt.Errorf("%w: contains whitespace", ErrMalformedObservation)
	}
	return domain, nil
}

// rootDomain reduces a name to its registrable domain. Names the
// public suffix list cannot place keep their full form.
func rootDomain(domain string) string {
	root, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return root
}
