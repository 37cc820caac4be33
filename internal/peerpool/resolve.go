package peerpool

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/miekg/dns"
)

// EnvResolver overrides the default resolver address (host:port) consulted
// for peers reached by hostname rather than IP (§4.3a). Unset uses the
// system resolver, matching a plain net.Dial("tcp", host:port).
const EnvResolver = "P2P_RESOLVER"

// Resolver resolves a peer's configured DDNS hostname to an IPv4 address
// before dialing. The teacher module already depends on miekg/dns for its
// own DNS duties; here it answers "what address is this peer at right now"
// instead of answering queries on the wire.
type Resolver struct {
	client *dns.Client
	server string
}

// NewResolver builds a Resolver. If server is empty, Lookup is a no-op that
// returns the hostname unchanged, so callers can hand it straight to
// net.Dial and let the system resolver handle it.
func NewResolver(server string) *Resolver {
	return &Resolver{
		client: &dns.Client{Timeout: 2 * time.Second},
		server: server,
	}
}

// ResolverFromEnv builds a Resolver from P2P_RESOLVER, or a system-resolver
// passthrough if unset.
func ResolverFromEnv() *Resolver {
	return NewResolver(os.Getenv(EnvResolver))
}

// Lookup returns the first A record for host, or host itself if no explicit
// resolver server is configured.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if r.server == "" {
		return host, nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return "", fmt.Errorf("resolving %s via %s: %w", host, r.server, err)
	}
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("resolving %s via %s: no A record", host, r.server)
}
