package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver used for testing.
// Record maps are keyed by FQDN (with trailing dot); PTR is keyed by the
// textual IP address.
//
// A name present in any of the maps but lacking the requested type yields
// ErrNoAnswer, an unknown name yields ErrNXDomain.
type MockResolver struct {
	PTR map[string][]string
	A   map[string][]string
	TXT map[string][]string
	MX  map[string][]*net.MX

	// Fail contains lookups answered with ErrNoNameservers.
	// Format: "type name", e.g. "txt example.com." where type is lowercase.
	Fail []string

	// Timeout contains lookups answered with ErrTimeout, same format as Fail.
	Timeout []string

	// Err maps lookups ("type name") to an arbitrary error.
	Err map[string]error
}

var _ Resolver = MockResolver{}

// mockReq represents a mock DNS request.
type mockReq struct {
	Type string // E.g. "txt", "a", "mx", "ptr"
	Name string // FQDN with trailing dot
}

func (mr mockReq) String() string {
	return mr.Type + " " + mr.Name
}

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// exists reports whether the name has records of any type.
func (r MockResolver) exists(fqdn string) bool {
	if _, ok := r.A[fqdn]; ok {
		return true
	}
	if _, ok := r.TXT[fqdn]; ok {
		return true
	}
	if _, ok := r.MX[fqdn]; ok {
		return true
	}
	return false
}

// check returns the configured failure for a request, if any.
func (r MockResolver) check(ctx context.Context, mr mockReq) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if slices.Contains(r.Fail, mr.String()) {
		return ErrNoNameservers
	}
	if slices.Contains(r.Timeout, mr.String()) {
		return ErrTimeout
	}
	if err, ok := r.Err[mr.String()]; ok {
		return err
	}
	return nil
}

func (r MockResolver) notFound(fqdn string) error {
	if r.exists(fqdn) {
		return ErrNoAnswer
	}
	return ErrNXDomain
}

// LookupTXT returns TXT records for the given name.
func (r MockResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	fqdn := ensureFQDN(name)
	if err := r.check(ctx, mockReq{"txt", fqdn}); err != nil {
		return Result[string]{}, err
	}

	records := r.TXT[fqdn]
	if len(records) == 0 {
		return Result[string]{}, r.notFound(fqdn)
	}
	return Result[string]{Records: records}, nil
}

// LookupA returns A records for the given name.
func (r MockResolver) LookupA(ctx context.Context, name string) (Result[net.IP], error) {
	fqdn := ensureFQDN(name)
	if err := r.check(ctx, mockReq{"a", fqdn}); err != nil {
		return Result[net.IP]{}, err
	}

	var ips []net.IP
	for _, ip := range r.A[fqdn] {
		ips = append(ips, net.ParseIP(ip))
	}
	if len(ips) == 0 {
		return Result[net.IP]{}, r.notFound(fqdn)
	}
	return Result[net.IP]{Records: ips}, nil
}

// LookupMX returns MX records for the given name.
func (r MockResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	fqdn := ensureFQDN(name)
	if err := r.check(ctx, mockReq{"mx", fqdn}); err != nil {
		return Result[*net.MX]{}, err
	}

	records := r.MX[fqdn]
	if len(records) == 0 {
		return Result[*net.MX]{}, r.notFound(fqdn)
	}
	return Result[*net.MX]{Records: records}, nil
}

// LookupAddr performs a reverse DNS lookup.
func (r MockResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	ipStr := ip.String()
	if err := r.check(ctx, mockReq{"ptr", ipStr}); err != nil {
		return Result[string]{}, err
	}

	records := r.PTR[ipStr]
	if len(records) == 0 {
		return Result[string]{}, ErrNXDomain
	}
	return Result[string]{Records: records}, nil
}
