// Package enrich resolves matched domains to their current addresses.
// Resolution is best effort; a squat domain with no A record yet is
// still a match worth reporting.
package enrich

import (
	"log/slog"
	"time"

	"github.com/miekg/dns"
)

// DefaultServer answers lookups when no resolver is configured.
const DefaultServer = "1.1.1.1:53"

const (
	queryTimeout = 5 * time.Second
	attempts     = 3
)

// Resolver looks up A records for matched domains.
type Resolver struct {
	server string
	client *dns.Client
	logger *slog.Logger
}

// New builds a resolver that queries server ("host:port"). An empty
// server selects DefaultServer.
func New(server string, logger *slog.Logger) *Resolver {
	if server == "" {
		server = DefaultServer
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: queryTimeout},
		logger: logger,
	}
}

// Addresses returns the A records currently published for domain.
// Transport errors are retried a couple of times; lookups that still
// fail, or answer empty, return nil.
func (r *Resolver) Addresses(domain string) []string {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, _, err := r.client.Exchange(m, r.server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			r.logger.Debug("lookup refused", "domain", domain, "rcode", dns.RcodeToString[resp.Rcode])
			return nil
		}
		var addrs []string
		for _, ans := range resp.Answer {
			if a, ok := ans.(*dns.A); ok {
				addrs = append(addrs, a.A.String())
			}
		}
		return addrs
	}
	r.logger.Debug("lookup failed", "domain", domain, "server", r.server, "error", lastErr)
	return nil
}
