package xray

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/synqronlabs/xray/auth"
	"github.com/synqronlabs/xray/dns"
	"github.com/synqronlabs/xray/rbl"
	"github.com/synqronlabs/xray/score"
	"github.com/synqronlabs/xray/spamassassin"
)

type fakeSPF struct {
	verdict auth.SPFVerdict
}

func (f fakeSPF) Evaluate(context.Context, string, net.IP, string) (auth.SPFVerdict, error) {
	return f.verdict, nil
}

func testResolver() dns.MockResolver {
	return dns.MockResolver{
		TXT: map[string][]string{
			"example.com.":        {"v=spf1 ip4:192.0.2.0/24 -all"},
			"_dmarc.example.com.": {"v=DMARC1; p=none"},
		},
		MX: map[string][]*net.MX{
			"example.com.": {{Host: "mx.example.com.", Pref: 10}},
		},
		A: map[string][]string{
			"10.2.0.192.zen.spamhaus.org.": {"127.0.0.2"},
		},
		PTR: map[string][]string{
			"192.0.2.10": {"mail.example.com."},
		},
	}
}

func newTestTester() *Tester {
	return NewTester(testResolver(), fakeSPF{verdict: auth.SPFVerdict{Code: 0, Output: "pass"}}, score.DefaultWeights())
}

func buildMessage(fields ...string) []byte {
	return []byte(strings.Join(fields, "\r\n") + "\r\n\r\nHello.\r\n")
}

var (
	receivedTester = "Received: from relay.example.net (relay.example.net [198.51.100.7])\r\n\tby mx.tester.example (Postfix) with ESMTPS id 9Q; Tue, 03 Jan 2006 10:00:00 +0100"
	receivedOrigin = "Received: from mail.example.com (mail.example.com [192.0.2.10]) by relay.example.net (Postfix) with ESMTPS id 4F; Mon, 02 Jan 2006 15:04:05 +0000"
	dateField      = "Date: Mon, 02 Jan 2006 15:04:05 +0000"
)

func TestGenerate(t *testing.T) {
	tester := newTestTester()
	data := buildMessage(receivedTester, receivedOrigin, dateField, "From: alice@example.com", "Subject: test")

	rep, err := tester.Generate(context.Background(), Envelope{
		MailFrom:   "alice@example.com",
		Recipients: []string{"check-1@tester.example", "check-2@tester.example"},
		Data:       data,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// Unsigned message and one blocklist listing.
	if rep.Score != 7.5 {
		t.Errorf("Score = %v, want 7.5 (breakdown %v)", rep.Score, rep.ScoreBreakdown)
	}
	want := map[string]float64{score.KeyDKIM: 1, score.KeyRBL: 1.5}
	if len(rep.ScoreBreakdown) != len(want) {
		t.Errorf("ScoreBreakdown = %v, want %v", rep.ScoreBreakdown, want)
	}
	for k, v := range want {
		if rep.ScoreBreakdown[k] != v {
			t.Errorf("ScoreBreakdown[%s] = %v, want %v", k, rep.ScoreBreakdown[k], v)
		}
	}

	if rep.Header != "Your message may experience delivery problems" {
		t.Errorf("Header = %q", rep.Header)
	}
	if rep.MessageDate != "02-01-2006 15:04:05" {
		t.Errorf("MessageDate = %q", rep.MessageDate)
	}
	if rep.SourceIP != "192.0.2.10" || rep.SourceHELO != "mail.example.com" {
		t.Errorf("source = %s / %s", rep.SourceIP, rep.SourceHELO)
	}
	if rep.SentFrom != "alice@example.com" || rep.SentTo != "check-1@tester.example" {
		t.Errorf("sent from %q to %q", rep.SentFrom, rep.SentTo)
	}
	if rep.MaxScore != 10 || rep.TesterVersion != Version || rep.Message != "message:info" {
		t.Errorf("general = %+v", rep.General)
	}
	if rep.CompleteMessage != string(data) {
		t.Errorf("CompleteMessage differs from the message")
	}
	if len(rep.Trace) != 2 || rep.Trace[0].To != "relay.example.net" || rep.Trace[1].To != "mx.tester.example" {
		t.Errorf("Trace = %+v", rep.Trace)
	}
	if rep.ProcessedIn <= 0 {
		t.Errorf("ProcessedIn = %v", rep.ProcessedIn)
	}

	authn := rep.Authentication
	for name, want := range map[string]auth.Code{
		"spf":       auth.CodeSPFOK,
		"rdns":      auth.CodeRDNSOK,
		"dmarc":     auth.CodeDMARCOK,
		"domain_mx": auth.CodeMXOK,
		"dkim":      auth.CodeDKIMNotSigned,
		"arc":       auth.CodeARCNotSigned,
	} {
		if got := authn.Checks()[name].Message; got != want {
			t.Errorf("%s = %s, want %s", name, got, want)
		}
	}
	if authn.RDNS.Tests[0].Result.(auth.Labeled)[2].Value != "mail.example.com" {
		t.Errorf("rdns evidence = %+v", authn.RDNS.Tests)
	}

	if rep.RBL.Message != rbl.CodeNOK || rep.RBL.Count != len(rbl.DefaultProviders()) {
		t.Errorf("RBL = %+v", rep.RBL)
	}
	if rep.SpamAssassin.Message != spamassassin.CodeOK {
		t.Errorf("SpamAssassin = %+v", rep.SpamAssassin)
	}
}

func TestGenerateSpamVerdict(t *testing.T) {
	tester := newTestTester()
	tester.Scanner.Providers = nil

	data := buildMessage(receivedOrigin, dateField,
		"X-Spam-Checker-Version: SpamAssassin 4.0.0 (2022-12-13) on mx.tester.example",
		"X-Spam-Status: Yes, score=8.1 required=5.0",
	)
	rep, err := tester.Generate(context.Background(), Envelope{
		MailFrom:   "alice@example.com",
		Recipients: []string{"check@tester.example"},
		Data:       data,
	})
	if err != nil {
		t.Fatal(err)
	}

	if rep.Score != 6 {
		t.Errorf("Score = %v, want 6 (breakdown %v)", rep.Score, rep.ScoreBreakdown)
	}
	if rep.ScoreBreakdown[score.KeySpamAssassin] != 3 {
		t.Errorf("ScoreBreakdown = %v", rep.ScoreBreakdown)
	}
	if rep.SpamAssassinVersion != "4.0.0" {
		t.Errorf("SpamAssassinVersion = %q", rep.SpamAssassinVersion)
	}
}

func TestGenerateIPv6Origin(t *testing.T) {
	tester := newTestTester()
	tester.Scanner.Providers = nil

	data := buildMessage(
		"Received: from mail.example.com (mail.example.com [IPv6:2001:db8::25]) by relay.example.net (Postfix) with ESMTPS id 4F; Mon, 02 Jan 2006 15:04:05 +0000",
		dateField,
	)
	rep, err := tester.Generate(context.Background(), Envelope{
		MailFrom:   "alice@example.com",
		Recipients: []string{"check@tester.example"},
		Data:       data,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rep.SourceIP != "2001:db8::25" {
		t.Errorf("SourceIP = %q", rep.SourceIP)
	}
	if got := rep.Authentication.RDNS.Tests[0].Result.(auth.Labeled)[2].Value; got != "none" {
		t.Errorf("rDNS = %q, want none", got)
	}
}

func TestGenerateFatal(t *testing.T) {
	tests := []struct {
		name  string
		rcpts []string
		data  []byte
		want  error
	}{
		{
			name: "no recipient",
			data: buildMessage(receivedOrigin, dateField),
			want: ErrNoRecipient,
		},
		{
			name:  "malformed header",
			rcpts: []string{"check@tester.example"},
			data:  []byte("this is not a header\r\n\r\nbody"),
			want:  ErrBadHeader,
		},
		{
			name:  "no origin",
			rcpts: []string{"check@tester.example"},
			data: buildMessage(
				"Received: by mail.example.com (Postfix, from userid 1000) id 7A; Mon, 02 Jan 2006 15:04:01 +0000",
				dateField,
			),
			want: ErrNoOrigin,
		},
		{
			name:  "missing date",
			rcpts: []string{"check@tester.example"},
			data:  buildMessage(receivedOrigin, "Subject: x"),
			want:  ErrBadDate,
		},
		{
			name:  "malformed date",
			rcpts: []string{"check@tester.example"},
			data:  buildMessage(receivedOrigin, "Date: yesterday"),
			want:  ErrBadDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tester := newTestTester()
			rep, err := tester.Generate(context.Background(), Envelope{
				MailFrom:   "alice@example.com",
				Recipients: tt.rcpts,
				Data:       tt.data,
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("Generate() error = %v, want %v", err, tt.want)
			}
			if rep != nil {
				t.Errorf("Generate() returned a report with an error")
			}
			if !IsFatal(err) {
				t.Errorf("IsFatal(%v) = false", err)
			}
		})
	}
}

func TestGenerateMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tester := newTestTester()
	tester.Metrics = NewMetrics(reg)
	m := tester.Metrics

	_, err := tester.Generate(context.Background(), Envelope{
		MailFrom:   "alice@example.com",
		Recipients: []string{"check@tester.example"},
		Data:       buildMessage(receivedOrigin, dateField),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = tester.Generate(context.Background(), Envelope{Data: buildMessage(receivedOrigin, dateField)})

	if got := testutil.ToFloat64(m.processed); got != 1 {
		t.Errorf("processed = %v", got)
	}
	if got := testutil.ToFloat64(m.failed.WithLabelValues("no_recipient")); got != 1 {
		t.Errorf("failed{no_recipient} = %v", got)
	}
	if got := testutil.ToFloat64(m.checks.WithLabelValues("dkim", "warning")); got != 1 {
		t.Errorf("checks{dkim,warning} = %v", got)
	}
	if got := testutil.ToFloat64(m.checks.WithLabelValues("rbl", "warning")); got != 1 {
		t.Errorf("checks{rbl,warning} = %v", got)
	}
	if got := testutil.ToFloat64(m.listings.WithLabelValues("Spamhaus ZEN (SBL, CSS, XBL, BPL)")); got != 1 {
		t.Errorf("listings = %v", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Errorf("duration series = %d", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.reportFailed(ErrNoOrigin)
	m.reportDone(&Report{}, 0)
}

func TestReportJSON(t *testing.T) {
	tester := newTestTester()
	rep, err := tester.Generate(context.Background(), Envelope{
		MailFrom:   "alice@example.com",
		Recipients: []string{"check@tester.example"},
		Data:       buildMessage(receivedOrigin, dateField),
	})
	if err != nil {
		t.Fatal(err)
	}

	b, err := json.Marshal(rep)
	if err != nil {
		t.Fatal(err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"message", "message_date", "header", "score", "score_breakdown", "max_score",
		"source_ip", "source_helo", "sent_from", "sent_to", "processed_in",
		"spamassassin_version", "tester_version", "complete_message", "trace",
		"spamassassin", "authentication", "rbl",
	} {
		if _, ok := top[key]; !ok {
			t.Errorf("report JSON lacks %q", key)
		}
	}
	if string(top["trace"]) != `[{"from":["mail.example.com","192.0.2.10"],"to":"relay.example.net","at":"Mon, 02 Jan 2006 15:04:05 +0000"}]` {
		t.Errorf("trace = %s", top["trace"])
	}

	docs, err := rep.Documents()
	if err != nil {
		t.Fatal(err)
	}
	var general map[string]json.RawMessage
	if err := json.Unmarshal(docs.General, &general); err != nil {
		t.Fatal(err)
	}
	if _, ok := general["spamassassin"]; ok {
		t.Error("general document carries the spamassassin report")
	}
	if string(general["sent_to"]) != `"check@tester.example"` {
		t.Errorf("general sent_to = %s", general["sent_to"])
	}
	if !strings.HasPrefix(string(docs.RBL), `{"tests":[`) {
		t.Errorf("rbl document = %s", docs.RBL)
	}
}
