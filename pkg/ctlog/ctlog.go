// Package ctlog polls Certificate Transparency logs directly over the
// RFC 6962 HTTP API. It is the aggregator-free alternative to the
// certstream source: one goroutine tails each usable log and newly
// observed certificate domains are funneled into a single channel.
package ctlog

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/client"
	"github.com/google/certificate-transparency-go/jsonclient"
	"github.com/google/certificate-transparency-go/loglist3"
	ctx509 "github.com/google/certificate-transparency-go/x509"

	"github.com/0xdap/certsquat/pkg/interfaces"
)

var _ interfaces.Source = (*Source)(nil)

// ErrLogList indicates the log list could not be fetched or parsed.
// Individual log failures never surface as errors; they are retried
// for the lifetime of the source.
var ErrLogList = errors.New("log list unavailable")

const (
	channelCapacity   = 10000
	batchSize         = 256
	defaultPoll       = 2 * time.Second
	defaultRetryDelay = 30 * time.Second
	maxRetryDelay     = 5 * time.Minute
)

// Source streams certificate domains from all usable logs in a CT log
// list. It implements interfaces.Source.
type Source struct {
	listURL   string
	userAgent string
	logger    *slog.Logger
	client    *http.Client
	domains   chan string

	// Overridden in tests.
	pollEvery  time.Duration
	retryAfter time.Duration
}

// watchedLog pairs a log client with its description for logging.
type watchedLog struct {
	name   string
	client *client.LogClient
}

// New returns a source that tails every usable log in the list at
// listURL. Nothing happens until Run is called.
func New(listURL, userAgent string, logger *slog.Logger) *Source {
	return &Source{
		listURL:    listURL,
		userAgent:  userAgent,
		logger:     logger,
		client:     &http.Client{Timeout: 30 * time.Second},
		domains:    make(chan string, channelCapacity),
		pollEvery:  defaultPoll,
		retryAfter: defaultRetryDelay,
	}
}

// Domains returns the channel of observed domains. It is closed when
// Run returns.
func (s *Source) Domains() <-chan string {
	return s.domains
}

// Run fetches the log list and tails every usable log until ctx is
// cancelled. It returns an error only when the list itself cannot be
// loaded; per-log failures are logged and retried indefinitely.
func (s *Source) Run(ctx context.Context) error {
	defer close(s.domains)

	logs, err := s.fetchLogs(ctx)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return fmt.Errorf("%w: no usable logs in list at %s", ErrLogList, s.listURL)
	}
	s.logger.Info("polling certificate transparency logs", "count", len(logs))

	var wg sync.WaitGroup
	for _, l := range logs {
		wg.Add(1)
		go func(l watchedLog) {
			defer wg.Done()
			s.tail(ctx, l)
		}(l)
	}
	wg.Wait()
	return nil
}

// fetchLogs downloads the log list and builds a client for every
// usable or qualified log. Logs whose client cannot be constructed
// are skipped with a warning.
func (s *Source) fetchLogs(ctx context.Context) ([]watchedLog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogList, err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogList, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list at %s returned status %d", ErrLogList, s.listURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogList, err)
	}

	list, err := loglist3.NewFromJSON(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogList, err)
	}
	usable := list.SelectByStatus([]loglist3.LogStatus{loglist3.UsableLogStatus, loglist3.QualifiedLogStatus})

	var logs []watchedLog
	for _, op := range usable.Operators {
		for _, l := range op.Logs {
			c, err := s.newLogClient(l)
			if err != nil {
				s.logger.Warn("skipping log", "log", l.Description, "error", err)
				continue
			}
			logs = append(logs, watchedLog{name: l.Description, client: c})
		}
	}
	return logs, nil
}

func (s *Source) newLogClient(l *loglist3.Log) (*client.LogClient, error) {
	opts := jsonclient.Options{UserAgent: s.userAgent}
	if len(l.Key) > 0 {
		opts.PublicKey = string(pem.EncodeToMemory(&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: l.Key,
		}))
	}
	return client.New(l.URL, s.client, opts)
}

// tail follows one log from its current tree head. History before the
// first signed tree head is not replayed. Errors from the log are
// retried with a doubling delay that resets on the next success.
func (s *Source) tail(ctx context.Context, l watchedLog) {
	logger := s.logger.With("log", l.name)
	next := int64(-1)
	backoff := s.retryAfter

	for {
		sth, err := l.client.GetSTH(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug("get-sth failed", "error", err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextDelay(backoff)
			continue
		}
		backoff = s.retryAfter

		treeSize := int64(sth.TreeSize)
		if next < 0 {
			next = treeSize
			logger.Debug("tailing log", "tree_size", treeSize)
		}

		for next < treeSize {
			last := next + batchSize
			if last > treeSize {
				last = treeSize
			}
			entries, err := l.client.GetRawEntries(ctx, next, last-1)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Debug("get-entries failed", "start", next, "end", last-1, "error", err)
				if !sleepCtx(ctx, backoff) {
					return
				}
				backoff = nextDelay(backoff)
				break
			}
			backoff = s.retryAfter
			if len(entries.Entries) == 0 {
				break
			}
			for i := range entries.Entries {
				if !s.emit(ctx, entryDomains(next+int64(i), &entries.Entries[i])) {
					return
				}
			}
			next += int64(len(entries.Entries))
		}

		if !sleepCtx(ctx, s.pollEvery) {
			return
		}
	}
}

// emit pushes domains into the channel, blocking until there is room
// or ctx is done. It reports whether the caller should keep going.
func (s *Source) emit(ctx context.Context, domains []string) bool {
	for _, d := range domains {
		select {
		case s.domains <- d:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// entryDomains extracts the subject common name and SANs from a raw
// log entry. Entries that cannot be parsed yield nothing; a single
// bad entry is not worth stalling the tail over.
func entryDomains(index int64, leaf *ct.LeafEntry) []string {
	rle, err := ct.RawLogEntryFromLeaf(index, leaf)
	if err != nil {
		return nil
	}
	entry, err := rle.ToLogEntry()
	if ctx509.IsFatal(err) {
		return nil
	}

	var cert *ctx509.Certificate
	switch {
	case entry.X509Cert != nil:
		cert = entry.X509Cert
	case entry.Precert != nil:
		cert = entry.Precert.TBSCertificate
	}
	if cert == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(cert.DNSNames)+1)
	var domains []string
	if cn := cert.Subject.CommonName; cn != "" {
		seen[cn] = struct{}{}
		domains = append(domains, cn)
	}
	for _, name := range cert.DNSNames {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		domains = append(domains, name)
	}
	return domains
}

// sleepCtx pauses for d, reporting false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}
