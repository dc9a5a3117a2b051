package auth

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/synqronlabs/xray/dns"
)

// DKIMVerifier checks the DKIM signature of a raw message.
type DKIMVerifier interface {
	Verify(ctx context.Context, raw []byte) (bool, error)
}

var dkimTags = regexp.MustCompile(`v=(?P<version>[^;]+)|a=(?P<algorithm>[^;]+)|c=(?P<canonicalization>[^;]+)|d=(?P<domain>[^;]+)|s=(?P<selector>[^;]+)|t=(?P<timestamp>[^;]+)|bh=(?P<body_hash>[^;]+)|h=(?P<signed_headers>[^;]+)|b=(?P<signature>[^;]+)`)

// parseSignature extracts the displayed tags of a DKIM-Signature value.
// Whitespace is removed before matching.
func parseSignature(value string) Fields {
	compact := strings.Join(strings.Fields(value), "")

	fields := Fields{}
	names := dkimTags.SubexpNames()
	for _, m := range dkimTags.FindAllStringSubmatchIndex(compact, -1) {
		for i := 1; i < len(names); i++ {
			if m[2*i] >= 0 {
				fields[names[i]] = compact[m[2*i]:m[2*i+1]]
			}
		}
	}
	return fields
}

// CheckDKIM verifies the message signature and, for display, fetches the
// selector record of the sender domain. The lookup never changes the
// verdict.
func (c *Checker) CheckDKIM(ctx context.Context, domain string, in Input) Result {
	sig := in.Header.Get("DKIM-Signature")
	if !in.Header.Has("DKIM-Signature") {
		return Result{
			Message:  CodeDKIMNotSigned,
			Status:   StatusWarning,
			Tests:    []Test{{Name: "verifier", Result: Text("No DKIM-Signature header present")}},
			Subtract: c.Weights.DKIMMissing,
		}
	}

	res := Result{Message: CodeDKIMOK, Status: StatusSuccess}
	if ok, err := c.DKIMVerifier.Verify(ctx, in.Raw); err != nil || !ok {
		res.Message = CodeDKIMNOK
		res.Status = StatusError
		res.Subtract = c.Weights.DKIMError
		res.add("verifier", Text("Message did not pass DKIM validation"))
	} else {
		res.add("verifier", Text("Message passed DKIM validation"))
	}

	fields := parseSignature(sig)
	if len(fields) == 0 {
		return res
	}
	res.add("header", fields)

	selector := fields["selector"]
	if selector == "" {
		return res
	}
	out := c.DNS.TXT(ctx, selector+"._domainkey."+domain, dns.TagDKIM)
	if !out.OK() {
		res.add("dns", Lines{out.Message})
		return res
	}
	res.add("dns", Lines(out.Records))
	return res
}

// MsgAuthDKIM verifies signatures with github.com/emersion/go-msgauth,
// fetching keys through Resolver.
type MsgAuthDKIM struct {
	Resolver dns.Resolver
}

// Verify reports whether the topmost signature of raw is valid.
func (m MsgAuthDKIM) Verify(ctx context.Context, raw []byte) (bool, error) {
	opts := &dkim.VerifyOptions{
		LookupTXT: func(name string) ([]string, error) {
			res, err := m.Resolver.LookupTXT(ctx, name)
			return res.Records, err
		},
	}

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(raw), opts)
	if err != nil {
		return false, err
	}
	if len(verifications) == 0 {
		return false, nil
	}
	return verifications[0].Err == nil, verifications[0].Err
}
