// Package rbl checks an IP address against DNS blocklists.
package rbl

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/synqronlabs/xray/dns"
	"github.com/synqronlabs/xray/verdict"
)

// Listing is the answer of one blocklist.
type Listing string

const (
	Listed    Listing = "Listed"
	NotListed Listing = "Not listed"
	Timeout   Listing = "Timeout"
	Unknown   Listing = "Unknown"
	NoNS      Listing = "NoNS"
)

const (
	CodeOK  verdict.Code = "rbl:ok"
	CodeNOK verdict.Code = "rbl:nok"
)

// Provider is a blocklist zone.
type Provider struct {
	Name string `json:"name" validate:"required"`
	Zone string `json:"zone" validate:"required,fqdn"`
	URL  string `json:"url" validate:"omitempty,url"`
}

// DefaultProviders returns the stock blocklist table.
func DefaultProviders() []Provider {
	return []Provider{
		{"SORBS 48h", "new.spam.dnsbl.sorbs.net", "http://www.sorbs.net/lookup.shtml"},
		{"SORBS 28d", "recent.spam.dnsbl.sorbs.net", "http://www.sorbs.net/lookup.shtml"},
		{"SPAMCOP", "bl.spamcop.net", "https://www.spamcop.net/bl.shtml"},
		{"Spamhaus ZEN (SBL, CSS, XBL, BPL)", "zen.spamhaus.org", "https://check.spamhaus.org/"},
		{"RATS-Spam", "spam.spamrats.com", "https://spamrats.com/removal.php"},
		{"Barracuda", "b.barracudacentral.org", "https://www.barracudacentral.org/lookups"},
		{"UCEPROTECT LVL1", "dnsbl-1.uceprotect.net", "https://www.uceprotect.net/en/rblcheck.php"},
		{"UCEPROTECT LVL2", "dnsbl-2.uceprotect.net", "https://www.uceprotect.net/en/rblcheck.php"},
		{"UCEPROTECT LVL3", "dnsbl-3.uceprotect.net", "https://www.uceprotect.net/en/rblcheck.php"},
		{"Backscatterer", "ips.backscatterer.org", "https://www.backscatterer.org/?target=test"},
	}
}

// ProviderResult is the answer of one provider.
type ProviderResult struct {
	Name   string  `json:"name"`
	URL    string  `json:"url"`
	Result Listing `json:"result"`
}

// Report aggregates a scan.
type Report struct {
	Tests   []ProviderResult `json:"tests"`
	Message verdict.Code     `json:"message"`
	Status  verdict.Status   `json:"status"`
	Count   int              `json:"count"`

	// ProcessedIn is the wall time of the scan in seconds.
	ProcessedIn float64 `json:"processed_in"`

	Subtract float64 `json:"subtract,omitempty"`
}

// Listed reports whether any provider lists the address.
func (r *Report) Listed() bool {
	for _, t := range r.Tests {
		if t.Result == Listed {
			return true
		}
	}
	return false
}

// Scanner queries every provider concurrently.
type Scanner struct {
	DNS       *dns.Client
	Providers []Provider

	// Weight is deducted when at least one provider lists the address.
	Weight float64

	Logger *slog.Logger
}

// NewScanner returns a Scanner over the default providers.
func NewScanner(r dns.Resolver, weight float64) *Scanner {
	return &Scanner{
		DNS:       dns.NewClient(r),
		Providers: DefaultProviders(),
		Weight:    weight,
	}
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// QueryName builds the blocklist query for ip in zone: the reversed
// octets for IPv4, the reversed nibbles for IPv6.
func QueryName(ip net.IP, zone string) (string, error) {
	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return "", fmt.Errorf("rbl: %w", err)
	}
	arpa = strings.TrimSuffix(arpa, "in-addr.arpa.")
	arpa = strings.TrimSuffix(arpa, "ip6.arpa.")
	return arpa + strings.TrimSuffix(zone, "."), nil
}

func listing(k dns.Kind) Listing {
	switch k {
	case dns.KindSuccess:
		return Listed
	case dns.KindNXDomain:
		return NotListed
	case dns.KindTimeout:
		return Timeout
	case dns.KindNoNameservers:
		return NoNS
	default:
		return Unknown
	}
}

// Scan asks every provider about ip and waits for all answers. Results
// keep the order of Providers.
func (s *Scanner) Scan(ctx context.Context, ip net.IP) Report {
	start := time.Now()
	results := make([]ProviderResult, len(s.Providers))

	var wg sync.WaitGroup
	for i, p := range s.Providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.query(ctx, ip, p)
		}()
	}
	wg.Wait()

	rep := Report{
		Tests:       results,
		Message:     CodeOK,
		Status:      verdict.StatusSuccess,
		Count:       len(s.Providers),
		ProcessedIn: time.Since(start).Seconds(),
	}
	if rep.Listed() {
		rep.Message = CodeNOK
		rep.Status = verdict.StatusWarning
		rep.Subtract = s.Weight
	}

	s.logger().Info("RBL check finished",
		slog.Int("lists", rep.Count),
		slog.Float64("seconds", rep.ProcessedIn),
		slog.String("ip", ip.String()),
		slog.Bool("listed", rep.Listed()),
	)
	return rep
}

func (s *Scanner) query(ctx context.Context, ip net.IP, p Provider) ProviderResult {
	res := ProviderResult{Name: p.Name, URL: p.URL, Result: Unknown}

	name, err := QueryName(ip, p.Zone)
	if err != nil {
		return res
	}
	res.Result = listing(s.DNS.A(ctx, name, dns.TagRBL).Kind)
	return res
}
