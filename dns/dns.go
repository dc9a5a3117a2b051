// Package dns performs the DNS lookups needed by the mail tester and
// classifies their outcomes.
//
// Lookups go through the Resolver interface. DNSResolver talks to
// nameservers directly using github.com/miekg/dns and is able to tell
// a non-existent name (NXDOMAIN) apart from a name without records of the
// requested type (NoAnswer). StdResolver uses the standard library and is
// kept for environments where only the system resolver is reachable.
//
// Client wraps a Resolver and never fails: every lookup returns an Outcome
// carrying one of a fixed set of kinds and a human readable message chosen
// by the check that asked (see Message).
package dns

import (
	"context"
	"errors"
	"net"
)

// Result holds the records returned by a lookup.
type Result[T any] struct {
	Records []T

	// Authentic is true when the response was DNSSEC-validated by the
	// upstream resolver. Only DNSResolver with DNSSEC enabled sets it.
	Authentic bool
}

// Resolver is the set of lookups the tester issues.
type Resolver interface {
	// LookupTXT retrieves TXT records. Multi-string records are joined.
	LookupTXT(ctx context.Context, name string) (Result[string], error)

	// LookupMX retrieves MX records in the order the server returned them.
	LookupMX(ctx context.Context, name string) (Result[*net.MX], error)

	// LookupA retrieves IPv4 address records only.
	LookupA(ctx context.Context, name string) (Result[net.IP], error)

	// LookupAddr performs a reverse (PTR) lookup.
	LookupAddr(ctx context.Context, ip net.IP) (Result[string], error)
}

var (
	// ErrNXDomain is returned when the queried name does not exist.
	ErrNXDomain = errors.New("dns: name does not exist")

	// ErrNoAnswer is returned when the name exists but has no records of the
	// requested type.
	ErrNoAnswer = errors.New("dns: response does not contain an answer")

	// ErrNoNameservers is returned when every nameserver failed or refused.
	ErrNoNameservers = errors.New("dns: all nameservers failed to answer")

	// ErrTimeout is returned when the lookup exceeded its deadline.
	ErrTimeout = errors.New("dns: lookup timed out")
)

// IsNotFound reports whether err means there is no data for the query,
// either because the name does not exist or because it has no records of
// the requested type.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNXDomain) || errors.Is(err, ErrNoAnswer)
}

// IsTimeout reports whether err is a lookup timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsTemporary reports whether repeating the lookup later may succeed.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNoNameservers)
}
