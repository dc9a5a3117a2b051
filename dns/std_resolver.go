package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StdResolver implements the Resolver interface using the standard library net package.
//
// The standard library reports both NXDOMAIN and empty answers as "not
// found", so StdResolver returns ErrNXDomain for both. Use DNSResolver when
// the distinction matters.
type StdResolver struct {
	resolver *net.Resolver
}

// NewStdResolver creates a resolver using the standard library.
func NewStdResolver() *StdResolver {
	return &StdResolver{
		resolver: net.DefaultResolver,
	}
}

// NewStdResolverWithDialer creates a resolver using a custom dialer.
// This allows configuring custom DNS servers while using the stdlib interface.
func NewStdResolverWithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) *StdResolver {
	return &StdResolver{
		resolver: &net.Resolver{
			PreferGo: true,
			Dial:     dial,
		},
	}
}

// LookupTXT retrieves TXT records using the standard library.
func (r *StdResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	name = strings.TrimSuffix(name, ".")

	records, err := r.resolver.LookupTXT(ctx, name)
	if err != nil {
		return Result[string]{}, convertError(err)
	}

	if len(records) == 0 {
		return Result[string]{}, ErrNoAnswer
	}

	return Result[string]{Records: records}, nil
}

// LookupA retrieves A records using the standard library.
func (r *StdResolver) LookupA(ctx context.Context, name string) (Result[net.IP], error) {
	name = strings.TrimSuffix(name, ".")

	ips, err := r.resolver.LookupIP(ctx, "ip4", name)
	if err != nil {
		return Result[net.IP]{}, convertError(err)
	}

	if len(ips) == 0 {
		return Result[net.IP]{}, ErrNoAnswer
	}

	return Result[net.IP]{Records: ips}, nil
}

// LookupMX retrieves MX records using the standard library.
func (r *StdResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	name = strings.TrimSuffix(name, ".")

	records, err := r.resolver.LookupMX(ctx, name)
	if err != nil {
		return Result[*net.MX]{}, convertError(err)
	}

	if len(records) == 0 {
		return Result[*net.MX]{}, ErrNoAnswer
	}

	return Result[*net.MX]{Records: records}, nil
}

// LookupAddr performs a reverse DNS lookup using the standard library.
func (r *StdResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}

	names, err := r.resolver.LookupAddr(ctx, ip.String())
	if err != nil {
		return Result[string]{}, convertError(err)
	}

	if len(names) == 0 {
		return Result[string]{}, ErrNoAnswer
	}

	for i, name := range names {
		names[i] = ensureAbsolute(name)
	}

	return Result[string]{Records: names}, nil
}

// convertError converts standard library DNS errors to package errors.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return fmt.Errorf("%w: %s", ErrNXDomain, dnsErr.Name)
		case dnsErr.IsTimeout:
			return fmt.Errorf("%w: %s", ErrTimeout, dnsErr.Name)
		case dnsErr.IsTemporary:
			return fmt.Errorf("%w: %v", ErrNoNameservers, dnsErr)
		}
	}

	return fmt.Errorf("dns lookup failed: %w", err)
}
