package auth

import (
	"encoding/json"
	"net"

	"github.com/emersion/go-message/textproto"

	"github.com/synqronlabs/xray/score"
	"github.com/synqronlabs/xray/verdict"
)

type (
	Status = verdict.Status
	Code   = verdict.Code
)

const (
	StatusSuccess = verdict.StatusSuccess
	StatusWarning = verdict.StatusWarning
	StatusError   = verdict.StatusError
)

const (
	CodeInfo Code = "auth:info"

	CodeSPFOK              Code = "spf:ok"
	CodeSPFNotAuthorized   Code = "spf:notAuthorized"
	CodeSPFNotAuthorizedOK Code = "spf:notAuthorizedOk"
	CodeSPFNotSpecified    Code = "spf:notSpecified"
	CodeSPFSyntaxError     Code = "spf:syntaxError"
	CodeSPFDNSError        Code = "spf:dnsError"
	CodeSPFNoSPF           Code = "spf:noSPF"
	CodeSPFUnexpected      Code = "spf:unexpectedResult"
	CodeSPFMoreThanOne     Code = "spf:moreThanOne"

	CodeRDNSOK  Code = "rdns:ok"
	CodeRDNSNOK Code = "rdns:nok"

	CodeDMARCOK  Code = "dmarc:ok"
	CodeDMARCNOK Code = "dmarc:nok"

	CodeMXOK  Code = "domain_mx:ok"
	CodeMXNOK Code = "domain_mx:nok"

	CodeDKIMOK        Code = "dkim:ok"
	CodeDKIMNOK       Code = "dkim:nok"
	CodeDKIMNotSigned Code = "dkim:notSigned"

	CodeARCOK        Code = "arc:ok"
	CodeARCNOK       Code = "arc:nok"
	CodeARCNotSigned Code = "arc:notSigned"
)

// Evidence is the payload of a Test. The set of implementations is closed.
type Evidence interface {
	evidence()
}

// Text is a single line of evidence.
type Text string

// Lines is a list of record values.
type Lines []string

// Row is a label/value pair, serialised as [label, value].
type Row struct {
	Label string
	Value string
}

func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{r.Label, r.Value})
}

// Labeled is a list of label/value rows.
type Labeled []Row

// Exchanger is one MX record, serialised as [preference, host].
type Exchanger struct {
	Pref uint16
	Host string
}

func (e Exchanger) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Pref, e.Host})
}

// Exchangers is a list of MX records in resolver order.
type Exchangers []Exchanger

// Fields maps signature tag names to their values.
type Fields map[string]string

func (Text) evidence()       {}
func (Lines) evidence()      {}
func (Labeled) evidence()    {}
func (Exchangers) evidence() {}
func (Fields) evidence()     {}

// Test is one piece of evidence gathered by a check.
type Test struct {
	Name   string   `json:"name"`
	Result Evidence `json:"result"`
}

// Result is the outcome of a single check.
type Result struct {
	Message Code   `json:"message"`
	Status  Status `json:"status"`

	// Output is the SPF evaluator exit code.
	Output *int `json:"output,omitempty"`

	// Domain is set by the domain MX check.
	Domain string `json:"domain,omitempty"`

	Tests []Test `json:"tests"`

	// Subtract is the deduction this check asks for. Zero means none.
	Subtract float64 `json:"subtract,omitempty"`
}

func (r *Result) add(name string, e Evidence) {
	r.Tests = append(r.Tests, Test{Name: name, Result: e})
}

// Input is what every check needs to know about the message.
type Input struct {
	// MailFrom is the envelope sender.
	MailFrom string

	// IP and HELO identify the originating relay.
	IP   net.IP
	HELO string

	// RDNS is the reverse name of IP, "none" when it did not resolve.
	RDNS string

	// Header is the parsed message header, Raw the complete message.
	Header textproto.Header
	Raw    []byte
}

// Report groups the results of every check.
type Report struct {
	Message  Code   `json:"message"`
	DKIM     Result `json:"dkim"`
	ARC      Result `json:"arc"`
	SPF      Result `json:"spf"`
	RDNS     Result `json:"rdns"`
	DMARC    Result `json:"dmarc"`
	DomainMX Result `json:"domain_mx"`
}

// Deductions returns the deductions requested by the checks, keyed by the
// score breakdown key each check owns.
func (r *Report) Deductions() map[string]float64 {
	d := make(map[string]float64)
	for key, res := range map[string]Result{
		score.KeySPF:  r.SPF,
		score.KeyRDNS: r.RDNS,
		score.KeyMX:   r.DomainMX,
		score.KeyDKIM: r.DKIM,
	} {
		if res.Subtract > 0 {
			d[key] = res.Subtract
		}
	}
	return d
}

// Checks returns each result under its report key, for metrics and logs.
func (r *Report) Checks() map[string]Result {
	return map[string]Result{
		"dkim":      r.DKIM,
		"arc":       r.ARC,
		"spf":       r.SPF,
		"rdns":      r.RDNS,
		"dmarc":     r.DMARC,
		"domain_mx": r.DomainMX,
	}
}
