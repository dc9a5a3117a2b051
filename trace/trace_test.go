package trace

import (
	"encoding/json"
	"errors"
	"testing"
)

// In header order: the receiving tester's field comes first.
var received = []string{
	"from relay.example.net (unknown [198.51.100.7]) (using TLSv1.3 with cipher TLS_AES_256_GCM_SHA384)\r\n\tby mx.tester.net (Postfix) with ESMTPS id 9Q; Tue, 03 Jan 2006 10:00:00 +0100",
	"garbage line",
	"from mail.example.com (mail.example.com [192.0.2.10]) by relay.example.net (Postfix) with ESMTPS id 4F1B2; Mon, 02 Jan 2006 15:04:05 +0000",
	"by mail.example.com (Postfix, from userid 1000) id 7A3C1; Mon, 02 Jan 2006 15:04:01 +0000",
}

func TestParse(t *testing.T) {
	hops := Parse(received)

	want := []Hop{
		{To: "mail.example.com", At: "Mon, 02 Jan 2006 15:04:01 +0000"},
		{From: &Endpoint{Name: "mail.example.com", IP: "192.0.2.10"}, To: "relay.example.net", At: "Mon, 02 Jan 2006 15:04:05 +0000"},
		{From: &Endpoint{Name: "relay.example.net", IP: "198.51.100.7"}, To: "mx.tester.net", At: "Tue, 03 Jan 2006 10:00:00 +0100"},
	}

	if len(hops) != len(want) {
		t.Fatalf("got %d hops, want %d: %+v", len(hops), len(want), hops)
	}
	for i := range want {
		got, exp := hops[i], want[i]
		if got.To != exp.To || got.At != exp.At {
			t.Errorf("hop %d: got to=%q at=%q, want to=%q at=%q", i, got.To, got.At, exp.To, exp.At)
		}
		if (got.From == nil) != (exp.From == nil) {
			t.Errorf("hop %d: from presence mismatch: got %+v", i, got.From)
			continue
		}
		if exp.From != nil && *got.From != *exp.From {
			t.Errorf("hop %d: got from %+v, want %+v", i, *got.From, *exp.From)
		}
	}
}

func TestParseFoldedLines(t *testing.T) {
	for _, fold := range []string{"\r\n\t", "\n ", "\r\n    "} {
		hops := Parse([]string{
			"from relay.example.net (unknown [198.51.100.7]) (using TLSv1.2)" + fold + "by mx.tester.net (Postfix) with ESMTPS id 9Q;" + fold + "Tue, 03 Jan 2006 10:00:00 +0100",
		})
		if len(hops) != 1 {
			t.Fatalf("fold %q: got %d hops, want 1", fold, len(hops))
		}
		if hops[0].To != "mx.tester.net" {
			t.Errorf("fold %q: got to=%q, want %q", fold, hops[0].To, "mx.tester.net")
		}
		if hops[0].From == nil || hops[0].From.IP != "198.51.100.7" {
			t.Errorf("fold %q: got from %+v", fold, hops[0].From)
		}
	}
}

func TestOrigin(t *testing.T) {
	helo, ip, err := Origin(Parse(received))
	if err != nil {
		t.Fatalf("Origin() error = %v", err)
	}
	if helo != "mail.example.com" || ip != "192.0.2.10" {
		t.Errorf("Origin() = %q, %q", helo, ip)
	}
}

func TestOriginMissing(t *testing.T) {
	hops := Parse([]string{
		"by mail.example.com (Postfix, from userid 1000) id 7A3C1; Mon, 02 Jan 2006 15:04:01 +0000",
		"from localhost by mail.example.com with LMTP id x; Mon, 02 Jan 2006 15:04:00 +0000",
	})
	if len(hops) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(hops))
	}

	_, _, err := Origin(hops)
	if !errors.Is(err, ErrNoOrigin) {
		t.Errorf("Origin() error = %v, want ErrNoOrigin", err)
	}

	if _, _, err := Origin(nil); !errors.Is(err, ErrNoOrigin) {
		t.Errorf("Origin(nil) error = %v, want ErrNoOrigin", err)
	}
}

func TestHopJSON(t *testing.T) {
	b, err := json.Marshal([]Hop{
		{From: &Endpoint{Name: "mail.example.com", IP: "192.0.2.10"}, To: "mx.tester.net", At: "now"},
		{To: "mail.example.com", At: "before"},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := `[{"from":["mail.example.com","192.0.2.10"],"to":"mx.tester.net","at":"now"},{"to":"mail.example.com","at":"before"}]`
	if string(b) != want {
		t.Errorf("got %s\nwant %s", b, want)
	}
}
