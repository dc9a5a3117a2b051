package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"

	"blitiri.com.ar/go/spf"

	"github.com/synqronlabs/xray/dns"
)

// SPFVerdict is the answer of an SPF evaluator, expressed with spfquery
// exit codes: 0 pass, 1 fail, 2 softfail, 3 neutral, 4 permerror,
// 5 temperror, 6 none.
type SPFVerdict struct {
	Code   int
	Output string
}

// SPFEvaluator evaluates the SPF policy of the envelope sender's domain.
type SPFEvaluator interface {
	Evaluate(ctx context.Context, mailFrom string, ip net.IP, helo string) (SPFVerdict, error)
}

var spfCodes = map[int]Code{
	0: CodeSPFOK,
	1: CodeSPFNotAuthorized,
	2: CodeSPFNotAuthorizedOK,
	3: CodeSPFNotSpecified,
	4: CodeSPFSyntaxError,
	5: CodeSPFDNSError,
	6: CodeSPFNoSPF,
}

// CheckSPF runs the evaluator and independently counts the SPF records the
// sender domain publishes. Two or more records turn the result into an
// error regardless of the evaluator's verdict.
func (c *Checker) CheckSPF(ctx context.Context, in Input) Result {
	res := Result{Status: StatusSuccess}

	verdict, err := c.SPFEvaluator.Evaluate(ctx, in.MailFrom, in.IP, in.HELO)
	if err != nil {
		verdict = SPFVerdict{Code: -1, Output: err.Error()}
	} else {
		code := verdict.Code
		res.Output = &code
	}

	res.Message = CodeSPFUnexpected
	if m, ok := spfCodes[verdict.Code]; ok {
		res.Message = m
	}
	res.add("spfquery", Text(verdict.Output))

	switch verdict.Code {
	case 0:
	case 1, 2:
		res.Status = StatusError
		res.Subtract = c.Weights.SPFError
	case 3:
		res.Status = StatusWarning
	default:
		res.Status = StatusWarning
		res.Subtract = c.Weights.SPFWarning
	}

	out := c.DNS.TXT(ctx, Domain(in.MailFrom), dns.TagSPF)
	if !out.OK() {
		res.add("dns", Text(out.Message))
		return res
	}

	records := Lines{}
	for _, txt := range out.Records {
		if strings.HasPrefix(txt, "v=spf1") {
			records = append(records, txt)
		}
	}
	if len(records) >= 2 {
		res.Message = CodeSPFMoreThanOne
		res.Status = StatusError
		res.Subtract = c.Weights.SPFError
	}
	res.add("dns", records)

	return res
}

// SPFQuery evaluates SPF by running the spfquery command line tool.
type SPFQuery struct {
	// Path defaults to "spfquery" looked up in $PATH.
	Path string
}

func (q SPFQuery) Evaluate(ctx context.Context, mailFrom string, ip net.IP, helo string) (SPFVerdict, error) {
	path := q.Path
	if path == "" {
		path = "spfquery"
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path,
		"--scope", "mfrom",
		"--id", mailFrom,
		"--ip", ip.String(),
		"--helo-id", helo,
	)
	cmd.Stdout = &stdout

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return SPFVerdict{Code: 0, Output: stdout.String()}, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		return SPFVerdict{Code: exitErr.ExitCode(), Output: stdout.String()}, nil
	default:
		return SPFVerdict{}, fmt.Errorf("auth: running %s: %w", path, err)
	}
}

var builtinCodes = map[spf.Result]int{
	spf.Pass:      0,
	spf.Fail:      1,
	spf.SoftFail:  2,
	spf.Neutral:   3,
	spf.PermError: 4,
	spf.TempError: 5,
	spf.None:      6,
}

// BuiltinSPF evaluates SPF in-process with blitiri.com.ar/go/spf.
type BuiltinSPF struct {
	// Resolver, when set, replaces the system resolver for SPF lookups.
	Resolver spf.DNSResolver
}

func (b BuiltinSPF) Evaluate(ctx context.Context, mailFrom string, ip net.IP, helo string) (SPFVerdict, error) {
	opts := []spf.Option{spf.WithContext(ctx)}
	if b.Resolver != nil {
		opts = append(opts, spf.WithResolver(b.Resolver))
	}

	result, err := spf.CheckHostWithSender(ip, helo, mailFrom, opts...)
	code, ok := builtinCodes[result]
	if !ok {
		return SPFVerdict{}, fmt.Errorf("auth: unknown SPF result %q: %v", result, err)
	}

	out := fmt.Sprintf("%s: %s is %s to send mail for %s", result, ip, describe(result), Domain(mailFrom))
	if err != nil {
		out += " (" + err.Error() + ")"
	}
	return SPFVerdict{Code: code, Output: out}, nil
}

func describe(r spf.Result) string {
	switch r {
	case spf.Pass:
		return "authorized"
	case spf.Fail, spf.SoftFail:
		return "not authorized"
	default:
		return "not designated"
	}
}
