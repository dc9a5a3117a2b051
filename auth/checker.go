// Package auth runs the sender authentication checks of a report: SPF,
// reverse DNS, DMARC, domain MX, DKIM and ARC.
//
// Checks never fail. DNS problems and verifier errors end up in the
// status and evidence of the check that met them. Each check states the
// deduction it wants in Result.Subtract; applying it is up to the caller.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/net/idna"

	"github.com/synqronlabs/xray/dns"
	"github.com/synqronlabs/xray/score"
)

// Checker runs the authentication checks.
type Checker struct {
	DNS *dns.Client

	SPFEvaluator SPFEvaluator
	DKIMVerifier DKIMVerifier
	ARCVerifier  ARCVerifier

	Weights score.Weights
	Logger  *slog.Logger
}

// NewChecker returns a Checker with the default weights.
func NewChecker(resolver dns.Resolver, spf SPFEvaluator, dkim DKIMVerifier, arc ARCVerifier) *Checker {
	return &Checker{
		DNS:          dns.NewClient(resolver),
		SPFEvaluator: spf,
		DKIMVerifier: dkim,
		ARCVerifier:  arc,
		Weights:      score.DefaultWeights(),
	}
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Domain returns the domain part of an address.
func Domain(addr string) string {
	return addr[strings.LastIndex(addr, "@")+1:]
}

// Run executes every check concurrently and waits for all of them.
// A panicking check is reported as an error result of that check only.
func (c *Checker) Run(ctx context.Context, in Input) *Report {
	rep := &Report{Message: CodeInfo}
	domain := Domain(in.MailFrom)

	checks := []struct {
		name string
		fail Code
		dst  *Result
		run  func() Result
	}{
		{"dkim", CodeDKIMNOK, &rep.DKIM, func() Result { return c.CheckDKIM(ctx, domain, in) }},
		{"arc", CodeARCNOK, &rep.ARC, func() Result { return c.CheckARC(ctx, in.Raw) }},
		{"spf", CodeSPFUnexpected, &rep.SPF, func() Result { return c.CheckSPF(ctx, in) }},
		{"rdns", CodeRDNSNOK, &rep.RDNS, func() Result { return c.CheckRDNS(in) }},
		{"dmarc", CodeDMARCNOK, &rep.DMARC, func() Result { return c.CheckDMARC(ctx, domain) }},
		{"domain_mx", CodeMXNOK, &rep.DomainMX, func() Result { return c.CheckDomainMX(ctx, domain) }},
	}

	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.logger().Error("check panicked",
						slog.String("check", check.name),
						slog.Any("panic", r),
					)
					*check.dst = Result{
						Message: check.fail,
						Status:  StatusError,
						Tests:   []Test{{Name: "internal", Result: Text(fmt.Sprintf("Unexpected error: %v", r))}},
					}
				}
			}()
			*check.dst = check.run()
		}()
	}
	wg.Wait()

	return rep
}

// CheckRDNS compares the announced HELO name with the reverse name of the
// sending IP.
func (c *Checker) CheckRDNS(in Input) Result {
	res := Result{Message: CodeRDNSOK, Status: StatusSuccess}
	res.add("dns", Labeled{
		{"IP:", in.IP.String()},
		{"HELO:", in.HELO},
		{"rDNS:", in.RDNS},
	})

	if !strings.EqualFold(in.HELO, in.RDNS) {
		res.Message = CodeRDNSNOK
		res.Status = StatusWarning
		res.Subtract = c.Weights.RDNSWarning
	}
	return res
}

// CheckDMARC looks for a DMARC record. A missing record is a warning, any
// other lookup failure an error. Neither deducts.
func (c *Checker) CheckDMARC(ctx context.Context, domain string) Result {
	res := Result{Message: CodeDMARCNOK, Status: StatusWarning}

	out := c.DNS.TXT(ctx, "_dmarc."+domain, dns.TagDMARC)
	switch out.Kind {
	case dns.KindSuccess:
		res.Message = CodeDMARCOK
		res.Status = StatusSuccess
		res.add("dns", Lines(out.Records))
	case dns.KindNXDomain, dns.KindNoAnswer:
		res.add("dns", Text(out.Message))
	default:
		res.Status = StatusError
		res.add("dns", Text(out.Message))
	}
	return res
}

// CheckDomainMX verifies the sender domain publishes MX records.
func (c *Checker) CheckDomainMX(ctx context.Context, domain string) Result {
	res := Result{Message: CodeMXNOK, Status: StatusWarning, Domain: domain}

	out := c.DNS.MX(ctx, domain, dns.TagMX)
	if !out.OK() {
		res.Subtract = c.Weights.MXWarning
		res.add("dns", Text(out.Message))
		return res
	}

	res.Message = CodeMXOK
	res.Status = StatusSuccess
	hosts := make(Exchangers, 0, len(out.Records))
	for _, mx := range out.Records {
		hosts = append(hosts, Exchanger{Pref: mx.Pref, Host: unicodeHost(mx.Host)})
	}
	res.add("dns", hosts)
	return res
}

// unicodeHost converts an A-label host name to its Unicode form. Names
// that fail to convert are returned unchanged.
func unicodeHost(host string) string {
	name, dot := strings.CutSuffix(host, ".")
	u, err := idna.ToUnicode(name)
	if err != nil {
		return host
	}
	if dot {
		u += "."
	}
	return u
}
