package spamassassin

import (
	"bufio"
	"strings"
	"testing"

	"github.com/emersion/go-message/textproto"

	"github.com/synqronlabs/xray/verdict"
)

func header(t *testing.T, fields ...string) textproto.Header {
	t.Helper()
	raw := strings.Join(fields, "\r\n") + "\r\n\r\n"
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestRead(t *testing.T) {
	tests := []struct {
		name     string
		fields   []string
		code     verdict.Code
		status   verdict.Status
		subtract float64
	}{
		{
			name:   "no filter headers",
			fields: []string{"Subject: hi"},
			code:   CodeOK,
			status: verdict.StatusSuccess,
		},
		{
			name:   "clean",
			fields: []string{"X-Spam-Status: No, score=-0.1 required=5.0", "X-Spam-Score: -0.1"},
			code:   CodeOK,
			status: verdict.StatusSuccess,
		},
		{
			name:     "spam",
			fields:   []string{"X-Spam-Flag: YES", "X-Spam-Status: Yes, score=9.3 required=5.0", "X-Spam-Score: 9.3"},
			code:     CodeNOK,
			status:   verdict.StatusWarning,
			subtract: 3,
		},
		{
			name:     "bare YES",
			fields:   []string{"X-Spam-Status: YES"},
			code:     CodeNOK,
			status:   verdict.StatusWarning,
			subtract: 3,
		},
		{
			name:   "borderline score",
			fields: []string{"X-Spam-Status: No, score=3.2 required=5.0", "X-Spam-Score: 3.2"},
			code:   CodeShouldReview,
			status: verdict.StatusWarning,
		},
		{
			name:   "borderline score from status only",
			fields: []string{"X-Spam-Status: No, score=4.99 required=5.0"},
			code:   CodeShouldReview,
			status: verdict.StatusWarning,
		},
		{
			name:   "upper bound excluded",
			fields: []string{"X-Spam-Status: No, score=5.0 required=6.0", "X-Spam-Score: 5.0"},
			code:   CodeOK,
			status: verdict.StatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := Read(header(t, tt.fields...), 3)
			if rep.Message != tt.code || rep.Status != tt.status || rep.Subtract != tt.subtract {
				t.Errorf("got %s/%s/%v, want %s/%s/%v", rep.Message, rep.Status, rep.Subtract, tt.code, tt.status, tt.subtract)
			}
		})
	}
}

func TestReadDetails(t *testing.T) {
	h := header(t,
		"X-Spam-Checker-Version: SpamAssassin 4.0.0 (2022-12-13) on mx.tester.example",
		"X-Spam-Flag: NO",
		"X-Spam-Score: 1.2",
		"X-Spam-Status: No, score=1.2 required=5.0 tests=DKIM_SIGNED",
		"X-Spam-Report: \r\n"+
			"\t*  0.1 DKIM_SIGNED Message has a DKIM or DK signature, not necessarily\r\n"+
			"\t*      valid\r\n"+
			"\t* -0.1 DKIM_VALID Message has at least one valid DKIM or DK signature\r\n"+
			"\t*  1.2 HTML_MESSAGE BODY: HTML included in message",
	)

	rep := Read(h, 3)
	if rep.Version != "4.0.0" {
		t.Errorf("Version = %q", rep.Version)
	}
	if rep.IsSpam != "NO" || rep.Score != "1.2" {
		t.Errorf("IsSpam = %q, Score = %q", rep.IsSpam, rep.Score)
	}

	want := []Rule{
		{"DKIM_SIGNED", "0.1", "Message has a DKIM or DK signature, not necessarily valid"},
		{"DKIM_VALID", "-0.1", "Message has at least one valid DKIM or DK signature"},
		{"HTML_MESSAGE", "1.2", "BODY: HTML included in message"},
	}
	if len(rep.Tests) != len(want) {
		t.Fatalf("Tests = %+v", rep.Tests)
	}
	for i := range want {
		if rep.Tests[i] != want[i] {
			t.Errorf("rule %d = %+v, want %+v", i, rep.Tests[i], want[i])
		}
	}
}
