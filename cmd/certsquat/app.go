package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0xdap/certsquat/pkg/certstream"
	"github.com/0xdap/certsquat/pkg/config"
	"github.com/0xdap/certsquat/pkg/ctlog"
	"github.com/0xdap/certsquat/pkg/enrich"
	"github.com/0xdap/certsquat/pkg/interfaces"
	"github.com/0xdap/certsquat/pkg/matcher"
	"github.com/0xdap/certsquat/pkg/mutate"
	"github.com/0xdap/certsquat/pkg/notify"
	"github.com/0xdap/certsquat/pkg/sink"
	"github.com/0xdap/certsquat/pkg/status"
	"github.com/0xdap/certsquat/pkg/statusapi"
	"github.com/0xdap/certsquat/pkg/store"
	"github.com/0xdap/certsquat/pkg/watchlist"
)

// progressInterval is how often the pipeline counters are logged.
const progressInterval = time.Minute

// Dependencies holds all the dependencies for the application
type Dependencies struct {
	Config    *config.Config
	Logger    *slog.Logger
	RunID     string
	Watchlist *watchlist.Watchlist
	Source    interfaces.Source
	Store     *store.Store
	Resolver  *enrich.Resolver
	Manager   *notify.Manager
	Console   *status.Console
	Progress  *status.Progress
	Sink      *sink.Sink
	Matcher   *matcher.Matcher
	StatusAPI *statusapi.Server

	logFile  *os.File
	stopChan chan struct{}
}

// NewDependencies creates all dependencies with the given configuration.
// The configuration must already be validated.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		RunID:    uuid.NewString(),
		stopChan: make(chan struct{}),
	}

	// Build the watch list from the pattern file or the seed words
	var err error
	if cfg.PatternFile != "" {
		deps.Watchlist, err = watchlist.Load(cfg.PatternFile)
	} else {
		deps.Watchlist, err = watchlist.FromSeeds(cfg.SeedWords)
	}
	if err != nil {
		return nil, fmt.Errorf("building watch list: %w", err)
	}

	// Dump per-seed mutation files when requested
	if cfg.MutationsDir != "" {
		if err := dumpMutations(cfg.MutationsDir, cfg.SeedWords); err != nil {
			return nil, err
		}
	}

	// Select the certificate stream source
	userAgent := "certsquat-" + deps.RunID
	switch cfg.Source {
	case config.SourceCTLog:
		deps.Source = ctlog.New(cfg.CTLogListURL, userAgent, logger)
	default:
		deps.Source = certstream.New(cfg.CertstreamURL, userAgent, logger)
	}

	// Open the match log for appending
	deps.logFile, err = os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening match log: %w", err)
	}

	sinkDeps := sink.Deps{}

	// Match history store
	if cfg.DBPath != "" {
		deps.Store, err = store.Open(cfg.DBPath)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("opening match store: %w", err)
		}
		sinkDeps.Store = deps.Store
	}

	// Optional DNS enrichment of matches
	if cfg.ResolveMatches {
		deps.Resolver = enrich.New(cfg.DNSServer, logger)
		sinkDeps.Resolver = deps.Resolver
	}

	// Notification fan-out. A token bucket of max_messages 0 means
	// unlimited.
	var notifiers []notify.Notifier
	if cfg.DiscordWebhook != "" {
		notifiers = append(notifiers, notify.NewDiscordClient(cfg.DiscordWebhook, cfg.NotifyTimeout))
	}
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackClient(cfg.SlackWebhook, cfg.NotifyTimeout))
	}
	var limiter interfaces.RateLimiter
	if cfg.RateLimit.MaxMessages > 0 {
		limiter = notify.NewTokenBucket(cfg.RateLimit.MaxMessages, cfg.RateLimit.Window)
	}
	deps.Manager = notify.NewManager(notifiers, limiter, cfg.BatchWindow, logger)
	sinkDeps.Notifier = deps.Manager

	// Console match echo, colored when stdout is a terminal
	if !cfg.Quiet {
		deps.Console = status.NewConsole(os.Stdout, isatty(os.Stdout.Fd()))
		sinkDeps.Console = deps.Console
	}

	deps.Sink = sink.New(deps.logFile, sinkDeps, logger)
	deps.Matcher = matcher.New(deps.Watchlist, deps.Sink, deps.RunID, logger)

	// Optional status API
	if cfg.StatusAddr != "" {
		health := func() string { return deps.Matcher.State().String() }
		var reader statusapi.MatchReader
		if deps.Store != nil {
			reader = deps.Store
		}
		deps.StatusAPI = statusapi.New(cfg.StatusAddr, health, deps.metrics, reader, logger)
		if err := deps.StatusAPI.Start(); err != nil {
			deps.Close()
			return nil, err
		}
	}

	// Periodic progress line in the logs
	deps.Progress = status.NewProgress(logger, progressInterval, deps.counters)
	deps.Progress.Start(deps.stopChan)

	return deps, nil
}

// dumpMutations writes one mutation file per seed word into dir.
func dumpMutations(dir string, seeds []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating mutations dir: %w", err)
	}
	for _, seed := range seeds {
		muts, err := mutate.Mutations(seed)
		if err != nil {
			return fmt.Errorf("mutating %q: %w", seed, err)
		}
		if _, err := mutate.WriteMutationsFile(dir, seed, muts); err != nil {
			return fmt.Errorf("writing mutations for %q: %w", seed, err)
		}
	}
	return nil
}

// metrics snapshots every pipeline counter for the status API.
func (d *Dependencies) metrics() map[string]any {
	ms := d.Matcher.Stats()
	ss := d.Sink.Stats()
	return map[string]any{
		"observed":        ms.Observed,
		"unique":          ms.Unique,
		"matched":         ms.Matched,
		"malformed":       ms.Malformed,
		"delivered":       ss.Delivered,
		"dropped":         ss.Dropped,
		"store_errors":    ss.StoreErrors,
		"notify_failures": d.Manager.Failures(),
	}
}

// counters renders the headline counters as slog attributes.
func (d *Dependencies) counters() []any {
	ms := d.Matcher.Stats()
	ss := d.Sink.Stats()
	return []any{
		"observed", ms.Observed,
		"matched", ms.Matched,
		"dropped", ss.Dropped,
	}
}

// Close cleans up all dependencies. The sink drains before the
// notifiers and the store shut down, so nothing in flight is lost.
func (d *Dependencies) Close() {
	// Stop progress logging
	if d.stopChan != nil {
		select {
		case <-d.stopChan:
			// Already closed
		default:
			close(d.stopChan)
		}
		d.stopChan = nil
	}

	if d.Sink != nil {
		_ = d.Sink.Close()
	}

	if d.Manager != nil {
		if err := d.Manager.Close(d.Config.ShutdownGrace); err != nil {
			d.Logger.Warn("notification shutdown incomplete", "error", err)
		}
	}

	if d.StatusAPI != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.Config.ShutdownGrace)
		_ = d.StatusAPI.Shutdown(ctx)
		cancel()
	}

	if d.Store != nil {
		_ = d.Store.Close()
	}

	if d.logFile != nil {
		_ = d.logFile.Close()
		d.logFile = nil
	}
}

// Application represents the main application
type Application struct {
	deps *Dependencies

	mu       sync.Mutex
	fatalErr error
}

// NewApplication creates a new application with the given dependencies
func NewApplication(deps *Dependencies) *Application {
	return &Application{
		deps: deps,
	}
}

// Run drives the pipeline until the stream ends, a fatal sink error
// occurs, or ctx is canceled.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.deps.Console != nil {
		a.deps.Console.Banner()
	}
	a.deps.Logger.Info("certsquat starting",
		"run_id", a.deps.RunID,
		"source", a.deps.Config.Source,
		"patterns", a.deps.Watchlist.Len(),
		"output", a.deps.Config.Output,
	)

	// A sink that can no longer write the match log takes the whole
	// pipeline down.
	go func() {
		select {
		case err := <-a.deps.Sink.Err():
			if err != nil {
				a.deps.Logger.Error("match sink failed", "error", err)
				a.recordFatal(err)
				cancel()
			}
		case <-ctx.Done():
		}
	}()

	return a.deps.Matcher.Run(ctx, a.deps.Source)
}

func (a *Application) recordFatal(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fatalErr == nil {
		a.fatalErr = err
	}
}

// ExitCode returns 1 when the pipeline died of a sink error and 0
// otherwise. Call it after Close so drain-time failures count too.
func (a *Application) ExitCode() int {
	select {
	case err := <-a.deps.Sink.Err():
		if err != nil {
			a.recordFatal(err)
		}
	default:
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fatalErr != nil {
		return 1
	}
	return 0
}
