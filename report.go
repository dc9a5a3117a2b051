package xray

import (
	"encoding/json"
	"fmt"

	"github.com/synqronlabs/xray/auth"
	"github.com/synqronlabs/xray/rbl"
	"github.com/synqronlabs/xray/spamassassin"
	"github.com/synqronlabs/xray/storage"
	"github.com/synqronlabs/xray/trace"
)

// Version is reported as tester_version.
const Version = "0.8"

// General is the message metadata and score part of a report.
type General struct {
	Message        string             `json:"message"`
	MessageDate    string             `json:"message_date"`
	Header         string             `json:"header"`
	Score          float64            `json:"score"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown"`
	MaxScore       float64            `json:"max_score"`
	SourceIP       string             `json:"source_ip"`
	SourceHELO     string             `json:"source_helo"`
	SentFrom       string             `json:"sent_from"`
	SentTo         string             `json:"sent_to"`

	// ProcessedIn is the wall time of Generate in seconds.
	ProcessedIn float64 `json:"processed_in"`

	SpamAssassinVersion string      `json:"spamassassin_version"`
	TesterVersion       string      `json:"tester_version"`
	CompleteMessage     string      `json:"complete_message"`
	Trace               []trace.Hop `json:"trace"`
}

// Report is the complete result for one message.
type Report struct {
	General

	SpamAssassin   spamassassin.Report `json:"spamassassin"`
	Authentication auth.Report         `json:"authentication"`
	RBL            rbl.Report          `json:"rbl"`
}

// Documents splits the report into the four documents that are stored.
func (r *Report) Documents() (storage.Documents, error) {
	var (
		docs storage.Documents
		err  error
	)
	for _, part := range []struct {
		name string
		dst  *json.RawMessage
		v    any
	}{
		{"general", &docs.General, r.General},
		{"spamassassin", &docs.SpamAssassin, r.SpamAssassin},
		{"authentication", &docs.Authentication, r.Authentication},
		{"rbl", &docs.RBL, r.RBL},
	} {
		if *part.dst, err = json.Marshal(part.v); err != nil {
			return storage.Documents{}, fmt.Errorf("xray: encoding %s report: %w", part.name, err)
		}
	}
	return docs, nil
}

// Score bands. Each band covers [low, high).
var bands = []struct {
	low, high float64
	text      string
}{
	{0, 4, "Your message may never be delivered"},
	{4, 6, "Your message may be discarded"},
	{6, 8, "Your message may experience delivery problems"},
	{8, 11, "Your message passed all tests and should be delivered"},
}

// HeaderUnexpected is the header of a score outside every band.
const HeaderUnexpected = "Uhmm... Something unexpected happened"

// Header returns the one line summary of a score.
func Header(score float64) string {
	for _, b := range bands {
		if score >= b.low && score < b.high {
			return b.text
		}
	}
	return HeaderUnexpected
}
