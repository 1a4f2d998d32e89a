// Package rdns performs forward-confirmed reverse DNS (FCrDNS)
// verification of client addresses and classifies verified hostnames
// against a curated search-engine crawler allowlist.
package rdns

import (
	"context"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
)

// Kind distinguishes the three possible outcomes of verification.
type Kind int

const (
	// Unverified means the reverse lookup, forward lookup, or the
	// address match failed for any reason (timeout, NXDOMAIN, YXDOMAIN,
	// no answer, no servers) - all such failures are treated identically.
	Unverified Kind = iota

	// Whitelisted means the hostname verified and matches one of the
	// curated search-engine crawler suffixes.
	Whitelisted

	// VerifiedOther means the hostname verified but is not a known
	// crawler.
	VerifiedOther
)

// whitelistSuffixes are matched case-insensitively against the verified
// hostname, trailing dot required.
var whitelistSuffixes = []string{
	".googlebot.com.",
	".google.com.",
	".yandex.com.",
	".yandex.net.",
	".yandex.ru.",
	".search.msn.com.",
	".fbsv.net.",
}

// Result is the tagged outcome of a Verify call.
type Result struct {
	Kind     Kind
	Hostname string // only meaningful for Whitelisted and VerifiedOther
}

// Resolver is the subset of *net.Resolver this package depends on,
// expressed as an interface so tests can substitute a fake resolver
// instead of making real DNS queries.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) (names []string, err error)
	LookupHost(ctx context.Context, host string) (addrs []string, err error)
}

// Verifier performs FCrDNS verification using a Resolver.
type Verifier struct {
	resolver Resolver
}

// NewVerifier builds a Verifier backed by the standard library resolver,
// which in turn talks to whatever DNS server the OS resolver configuration
// points at - typically a local recursive resolver (see §1 out-of-scope:
// the resolver implementation itself is an external collaborator).
func NewVerifier() *Verifier {
	return &Verifier{resolver: net.DefaultResolver}
}

// NewVerifierWithResolver builds a Verifier backed by a custom resolver,
// primarily for tests.
func NewVerifierWithResolver(r Resolver) *Verifier {
	return &Verifier{resolver: r}
}

// Verify performs the FCrDNS check for address: PTR lookup, forward
// lookup of the first candidate hostname, and an address-equality check.
// Any resolver failure at any stage yields Unverified - never blocks the
// detector's progress (§5, §7).
func (v *Verifier) Verify(ctx context.Context, address string) Result {
	names, err := v.resolver.LookupAddr(ctx, address)
	if err != nil || len(names) == 0 {
		log.Debug().Str("address", address).Err(err).Msg("PTR lookup failed or empty")
		return Result{Kind: Unverified}
	}
	hostname := names[0]

	fwdAddrs, err := v.resolver.LookupHost(ctx, hostname)
	if err != nil || len(fwdAddrs) == 0 {
		log.Debug().Str("address", address).Str("hostname", hostname).Err(err).Msg("forward lookup failed or empty")
		return Result{Kind: Unverified}
	}

	var confirmed bool
	for _, a := range fwdAddrs {
		if a == address {
			confirmed = true
			break
		}
	}
	if !confirmed {
		return Result{Kind: Unverified}
	}

	if isWhitelisted(hostname) {
		return Result{Kind: Whitelisted, Hostname: hostname}
	}
	return Result{Kind: VerifiedOther, Hostname: hostname}
}

func isWhitelisted(hostname string) bool {
	lower := strings.ToLower(hostname)
	for _, suffix := range whitelistSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
