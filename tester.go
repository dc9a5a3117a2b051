package xray

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"golang.org/x/sync/errgroup"

	"github.com/synqronlabs/xray/arc"
	"github.com/synqronlabs/xray/auth"
	"github.com/synqronlabs/xray/dns"
	"github.com/synqronlabs/xray/rbl"
	"github.com/synqronlabs/xray/score"
	"github.com/synqronlabs/xray/spamassassin"
	"github.com/synqronlabs/xray/trace"
)

// DateLayout is the layout of message_date.
const DateLayout = "02-01-2006 15:04:05"

// Envelope is a message as handed over by the transport.
type Envelope struct {
	MailFrom   string
	Recipients []string

	// Data is the raw message, header and body.
	Data []byte
}

// Tester produces reports.
type Tester struct {
	DNS     *dns.Client
	Checker *auth.Checker
	Scanner *rbl.Scanner

	// Weights.SpamAssassin is deducted for a spam verdict. The other
	// weights are carried by Checker and Scanner.
	Weights score.Weights

	Metrics *Metrics
	Logger  *slog.Logger
}

// NewTester wires a Tester whose every lookup goes through resolver.
// DKIM and ARC are verified in-process; SPF is delegated to spf.
func NewTester(resolver dns.Resolver, spf auth.SPFEvaluator, w score.Weights) *Tester {
	checker := auth.NewChecker(resolver, spf,
		auth.MsgAuthDKIM{Resolver: resolver},
		auth.ChainVerifier{Verifier: &arc.Verifier{Resolver: resolver}},
	)
	checker.Weights = w

	return &Tester{
		DNS:     dns.NewClient(resolver),
		Checker: checker,
		Scanner: rbl.NewScanner(resolver, w.RBLListed),
		Weights: w,
	}
}

// SetLogger hands l to the Tester and its components.
func (t *Tester) SetLogger(l *slog.Logger) {
	t.Logger = l
	t.Checker.Logger = l
	t.Scanner.Logger = l
}

func (t *Tester) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// Generate inspects env and returns its report.
//
// The error is one of ErrNoRecipient, ErrBadHeader, ErrNoOrigin and
// ErrBadDate, possibly wrapped. Problems met by the checks themselves are
// part of the report.
func (t *Tester) Generate(ctx context.Context, env Envelope) (*Report, error) {
	start := time.Now()

	rep, err := t.generate(ctx, env, start)
	if err != nil {
		t.Metrics.reportFailed(err)
		t.logger().Warn("cannot generate report",
			slog.String("from", env.MailFrom),
			slog.Any("error", err),
		)
		return nil, err
	}

	t.Metrics.reportDone(rep, time.Since(start))
	t.logger().Info("report generated",
		slog.String("from", rep.SentFrom),
		slog.String("to", rep.SentTo),
		slog.String("ip", rep.SourceIP),
		slog.Float64("score", rep.Score),
		slog.Float64("seconds", rep.ProcessedIn),
	)
	return rep, nil
}

func (t *Tester) generate(ctx context.Context, env Envelope, start time.Time) (*Report, error) {
	if len(env.Recipients) == 0 {
		return nil, ErrNoRecipient
	}

	hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(env.Data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}

	hops := trace.Parse(hdr.Values("Received"))
	helo, addr, err := trace.Origin(hops)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(strings.TrimPrefix(addr, "IPv6:"))
	if ip == nil {
		return nil, fmt.Errorf("%w: unparsable address %q", ErrNoOrigin, addr)
	}

	if !hdr.Has("Date") {
		return nil, ErrBadDate
	}
	mh := mail.Header{Header: message.Header{Header: hdr}}
	date, err := mh.Date()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDate, err)
	}

	t.logger().Debug("generating report",
		slog.String("from", env.MailFrom),
		slog.String("helo", helo),
		slog.String("ip", ip.String()),
		slog.Int("hops", len(hops)),
	)

	rdns := "none"
	if out := t.DNS.PTR(ctx, ip, dns.TagNone); out.OK() {
		rdns = strings.TrimSuffix(out.Records[0], ".")
	}

	acc := score.New(score.Initial)
	in := auth.Input{
		MailFrom: env.MailFrom,
		IP:       ip,
		HELO:     helo,
		RDNS:     rdns,
		Header:   hdr,
		Raw:      env.Data,
	}

	var (
		sa      spamassassin.Report
		authRep *auth.Report
		rblRep  rbl.Report
		g       errgroup.Group
	)
	g.Go(func() error {
		sa = spamassassin.Read(hdr, t.Weights.SpamAssassin)
		if sa.Subtract > 0 {
			acc.Subtract(score.KeySpamAssassin, sa.Subtract)
		}
		return nil
	})
	g.Go(func() error {
		authRep = t.Checker.Run(ctx, in)
		for key, amount := range authRep.Deductions() {
			acc.Subtract(key, amount)
		}
		return nil
	})
	g.Go(func() error {
		rblRep = t.Scanner.Scan(ctx, ip)
		if rblRep.Subtract > 0 {
			acc.Subtract(score.KeyRBL, rblRep.Subtract)
		}
		return nil
	})
	_ = g.Wait()

	total := acc.Score()
	return &Report{
		General: General{
			Message:             "message:info",
			MessageDate:         date.Format(DateLayout),
			Header:              Header(total),
			Score:               total,
			ScoreBreakdown:      acc.Breakdown(),
			MaxScore:            score.Max,
			SourceIP:            ip.String(),
			SourceHELO:          helo,
			SentFrom:            env.MailFrom,
			SentTo:              env.Recipients[0],
			ProcessedIn:         time.Since(start).Seconds(),
			SpamAssassinVersion: sa.Version,
			TesterVersion:       Version,
			CompleteMessage:     strings.ToValidUTF8(string(env.Data), "�"),
			Trace:               hops,
		},
		SpamAssassin:   sa,
		Authentication: *authRep,
		RBL:            rblRep,
	}, nil
}
