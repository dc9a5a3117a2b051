package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ResolverConfig contains configuration for the DNS resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "8.8.8.8:53").
	// If empty, system resolvers from /etc/resolv.conf are used,
	// falling back to public DNS (8.8.8.8, 1.1.1.1).
	Nameservers []string

	// DNSSEC sets the DO bit on queries. The Authentic field of Result
	// reports whether the upstream resolver validated the answer.
	DNSSEC bool

	// Timeout is the timeout for a single exchange with one server.
	// Default is 5 seconds.
	Timeout time.Duration

	// Lifetime bounds the whole lookup, all retries included. A lookup that
	// runs past it fails with ErrTimeout. Default is 10 seconds.
	Lifetime time.Duration

	// Retries is the number of extra rounds over the nameserver list.
	// Default is 2.
	Retries int
}

// DNSResolver implements Resolver using github.com/miekg/dns.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

// NewResolver creates a new DNS resolver.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Lifetime == 0 {
		config.Lifetime = 10 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = getSystemNameservers()
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{
			Timeout: config.Timeout,
		},
	}
}

// getSystemNameservers tries to get system DNS servers from resolv.conf.
func getSystemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		// Fallback to common public DNS servers
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		servers = append(servers, net.JoinHostPort(s, config.Port))
	}
	return servers
}

// ensureAbsolute ensures the domain name ends with a dot (FQDN format).
func ensureAbsolute(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}

// query performs a DNS query against every configured server until one
// gives a definitive answer.
//
// A NOERROR response is returned as is, NXDOMAIN ends the lookup with
// ErrNXDomain. Any other rcode or transport failure moves on to the next
// server. When nobody answered, the error is ErrTimeout if every attempt
// timed out and ErrNoNameservers otherwise.
func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Lifetime)
	defer cancel()

	m := new(mdns.Msg)
	m.SetQuestion(ensureAbsolute(name), qtype)
	m.RecursionDesired = true

	if r.config.DNSSEC {
		m.SetEdns0(4096, true)
	}

	var (
		lastErr  error
		attempts int
		timeouts int
	)

	for i := 0; i <= r.config.Retries; i++ {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, false, fmt.Errorf("%w: %s", ErrTimeout, name)
				}
				return nil, false, err
			}

			attempts++
			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				if isNetTimeout(err) {
					timeouts++
				}
				lastErr = fmt.Errorf("%s: %w", server, err)
				continue
			}

			authentic := r.config.DNSSEC && resp.AuthenticatedData

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, authentic, nil
			case mdns.RcodeNameError:
				return nil, authentic, fmt.Errorf("%w: %s", ErrNXDomain, name)
			default:
				lastErr = fmt.Errorf("%s answered %s", server, mdns.RcodeToString[resp.Rcode])
			}
		}
	}

	if attempts > 0 && timeouts == attempts {
		return nil, false, fmt.Errorf("%w: %v", ErrTimeout, lastErr)
	}
	if lastErr == nil {
		lastErr = errors.New("no nameservers configured")
	}
	return nil, false, fmt.Errorf("%w: %v", ErrNoNameservers, lastErr)
}

func isNetTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// LookupTXT retrieves TXT records for the given name.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	resp, authentic, err := r.query(ctx, name, mdns.TypeTXT)
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	var records []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			// TXT records may be split into multiple character strings, join them
			// per RFC 7208 Section 3.3
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}

	if len(records) == 0 {
		return Result[string]{Authentic: authentic}, fmt.Errorf("%w: TXT %s", ErrNoAnswer, name)
	}

	return Result[string]{Records: records, Authentic: authentic}, nil
}

// LookupA retrieves A records for the given name.
func (r *DNSResolver) LookupA(ctx context.Context, name string) (Result[net.IP], error) {
	resp, authentic, err := r.query(ctx, name, mdns.TypeA)
	if err != nil {
		return Result[net.IP]{Authentic: authentic}, err
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		if a, ok := rr.(*mdns.A); ok {
			ips = append(ips, a.A)
		}
	}

	if len(ips) == 0 {
		return Result[net.IP]{Authentic: authentic}, fmt.Errorf("%w: A %s", ErrNoAnswer, name)
	}

	return Result[net.IP]{Records: ips, Authentic: authentic}, nil
}

// LookupMX retrieves MX records for the given name.
func (r *DNSResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	resp, authentic, err := r.query(ctx, name, mdns.TypeMX)
	if err != nil {
		return Result[*net.MX]{Authentic: authentic}, err
	}

	var records []*net.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*mdns.MX); ok {
			records = append(records, &net.MX{
				Host: mx.Mx,
				Pref: mx.Preference,
			})
		}
	}

	if len(records) == 0 {
		return Result[*net.MX]{Authentic: authentic}, fmt.Errorf("%w: MX %s", ErrNoAnswer, name)
	}

	return Result[*net.MX]{Records: records, Authentic: authentic}, nil
}

// LookupAddr performs a reverse DNS lookup for the given IP address.
func (r *DNSResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}

	// Generate reverse DNS name (e.g., 1.0.168.192.in-addr.arpa.)
	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return Result[string]{}, fmt.Errorf("dns: invalid IP for reverse lookup: %w", err)
	}

	resp, authentic, err := r.query(ctx, arpa, mdns.TypePTR)
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	var names []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*mdns.PTR); ok {
			names = append(names, ptr.Ptr)
		}
	}

	if len(names) == 0 {
		return Result[string]{Authentic: authentic}, fmt.Errorf("%w: PTR %s", ErrNoAnswer, arpa)
	}

	return Result[string]{Records: names, Authentic: authentic}, nil
}

// Config returns the resolver's current configuration.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}
