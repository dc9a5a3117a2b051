// Package spamassassin reads the verdict a SpamAssassin filter upstream
// left in the X-Spam-* header fields of a message.
package spamassassin

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-message/textproto"

	"github.com/synqronlabs/xray/verdict"
)

const (
	CodeOK           verdict.Code = "sa:ok"
	CodeNOK          verdict.Code = "sa:nok"
	CodeShouldReview verdict.Code = "sa:shouldReview"
)

// Rule is one line of X-Spam-Report.
type Rule struct {
	Name        string `json:"name"`
	Score       string `json:"score"`
	Description string `json:"description"`
}

// Report is the filter verdict as found in the message.
type Report struct {
	Message verdict.Code   `json:"message"`
	Status  verdict.Status `json:"status"`

	Version    string `json:"version,omitempty"`
	IsSpam     string `json:"is_spam,omitempty"`
	Score      string `json:"score,omitempty"`
	SpamStatus string `json:"spam_status,omitempty"`
	Tests      []Rule `json:"tests,omitempty"`

	Subtract float64 `json:"subtract,omitempty"`
}

var (
	versionPattern = regexp.MustCompile(`SpamAssassin\s(?P<version>[\d.]+)\s`)
	scorePattern   = regexp.MustCompile(`score=(-?\d+(?:\.\d+)?)`)
	ruleStart      = regexp.MustCompile(`\*\s*(-?\d+\.\d+)\s+(\w+)\s`)
	continuation   = regexp.MustCompile(`\s\*\s+`)
)

// Review bounds: a ham verdict scoring in [reviewLow, reviewHigh) is
// flagged for review.
const (
	reviewLow  = 3.0
	reviewHigh = 5.0
)

// Read extracts the filter verdict from h. A spam verdict deducts weight.
// Messages without X-Spam-* fields pass.
func Read(h textproto.Header, weight float64) Report {
	rep := Report{Message: CodeOK, Status: verdict.StatusSuccess}

	if v := h.Get("X-Spam-Checker-Version"); v != "" {
		if m := versionPattern.FindStringSubmatch(v + " "); m != nil {
			rep.Version = m[versionPattern.SubexpIndex("version")]
		}
	}
	rep.IsSpam = strings.TrimSpace(h.Get("X-Spam-Flag"))
	rep.Score = strings.TrimSpace(h.Get("X-Spam-Score"))

	if h.Has("X-Spam-Status") {
		rep.SpamStatus = strings.TrimSpace(h.Get("X-Spam-Status"))
		if strings.HasPrefix(strings.ToLower(rep.SpamStatus), "yes") {
			rep.Message = CodeNOK
			rep.Status = verdict.StatusWarning
			rep.Subtract = weight
		} else if s, ok := filterScore(rep); ok && s >= reviewLow && s < reviewHigh {
			rep.Message = CodeShouldReview
			rep.Status = verdict.StatusWarning
		}
	}

	if report := h.Get("X-Spam-Report"); report != "" {
		rep.Tests = parseReport(report)
	}

	return rep
}

// filterScore returns X-Spam-Score, falling back to the score= attribute
// of X-Spam-Status.
func filterScore(rep Report) (float64, bool) {
	raw := rep.Score
	if raw == "" {
		m := scorePattern.FindStringSubmatch(rep.SpamStatus)
		if m == nil {
			return 0, false
		}
		raw = m[1]
	}
	s, err := strconv.ParseFloat(raw, 64)
	return s, err == nil
}

// parseReport splits the report into rules. Each rule starts with
// "* <points> <NAME>"; a "*" not followed by points continues the previous
// description. Folding may or may not have been undone by the header
// parser, so line breaks carry no meaning here.
func parseReport(report string) []Rule {
	starts := ruleStart.FindAllStringSubmatchIndex(report, -1)

	rules := make([]Rule, 0, len(starts))
	for i, m := range starts {
		end := len(report)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		desc := continuation.ReplaceAllString(report[m[1]:end], " ")
		rules = append(rules, Rule{
			Name:        report[m[4]:m[5]],
			Score:       report[m[2]:m[3]],
			Description: strings.Join(strings.Fields(desc), " "),
		})
	}
	return rules
}
