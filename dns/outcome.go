package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies how a lookup ended.
type Kind string

const (
	KindSuccess       Kind = "success"
	KindNoAnswer      Kind = "NoAnswer"
	KindNXDomain      Kind = "NXDOMAIN"
	KindNoNameservers Kind = "NoNameservers"
	KindTimeout       Kind = "LifetimeTimeout"
	KindOther         Kind = "Other"
)

// Tag names the check a lookup is made for. It selects the wording of
// failure messages.
type Tag string

const (
	TagNone  Tag = ""
	TagSPF   Tag = "spf"
	TagDMARC Tag = "dmarc"
	TagDKIM  Tag = "dkim"
	TagMX    Tag = "mx"
	TagRBL   Tag = "rbl"
)

// Outcome is the classified result of a single lookup.
type Outcome[T any] struct {
	Kind    Kind
	Records []T

	// Message describes the failure. Empty on success.
	Message string
}

// OK reports whether the lookup returned records.
func (o Outcome[T]) OK() bool {
	return o.Kind == KindSuccess
}

var genericMessages = map[Kind]string{
	KindTimeout:       "The resolution lifetime expired",
	KindNoAnswer:      "The DNS response does not contain an answer",
	KindNoNameservers: "All nameservers failed to answer the query",
	KindNXDomain:      "DNS RR does not exist",
}

// {name} is replaced with the queried name.
var tagMessages = map[Tag]map[Kind]string{
	TagSPF: {
		KindNXDomain: "Domain doesn't have an SPF record",
	},
	TagDMARC: {
		KindNoAnswer: "DMARC record {name} was not found on domain's zone",
		KindNXDomain: "Domain doesn't have a DMARC record",
	},
	TagDKIM: {
		KindNoAnswer: "DKIM record {name} was not found on domain's zone",
		KindNXDomain: "Domain doesn't have a DKIM record",
	},
	TagMX: {
		KindNoAnswer: "Domain doesn't have MX records",
		KindNXDomain: "Domain doesn't have MX records",
	},
}

// Message returns the text shown for a failed lookup of name made on behalf
// of tag. Tags without an override for kind use the generic text. KindOther
// and KindSuccess have no fixed text and yield "".
func Message(tag Tag, kind Kind, name string) string {
	msg, ok := tagMessages[tag][kind]
	if !ok {
		msg = genericMessages[kind]
	}
	return strings.ReplaceAll(msg, "{name}", name)
}

// Classify maps a resolver error to a Kind. A nil error is KindSuccess.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindSuccess
	case errors.Is(err, ErrNXDomain):
		return KindNXDomain
	case errors.Is(err, ErrNoAnswer):
		return KindNoAnswer
	case errors.Is(err, ErrNoNameservers):
		return KindNoNameservers
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindOther
	}
}

// Client issues lookups through a Resolver and turns every result into an
// Outcome. Its methods never panic and never return errors.
type Client struct {
	Resolver Resolver
}

// NewClient returns a Client using r.
func NewClient(r Resolver) *Client {
	return &Client{Resolver: r}
}

// TXT looks up TXT records of name.
func (c *Client) TXT(ctx context.Context, name string, tag Tag) Outcome[string] {
	return resolve(ctx, name, tag, c.Resolver.LookupTXT)
}

// MX looks up MX records of name.
func (c *Client) MX(ctx context.Context, name string, tag Tag) Outcome[*net.MX] {
	return resolve(ctx, name, tag, c.Resolver.LookupMX)
}

// A looks up A records of name.
func (c *Client) A(ctx context.Context, name string, tag Tag) Outcome[net.IP] {
	return resolve(ctx, name, tag, c.Resolver.LookupA)
}

// PTR looks up the reverse names of ip.
func (c *Client) PTR(ctx context.Context, ip net.IP, tag Tag) Outcome[string] {
	return resolve(ctx, ip.String(), tag, func(ctx context.Context, _ string) (Result[string], error) {
		return c.Resolver.LookupAddr(ctx, ip)
	})
}

func resolve[T any](ctx context.Context, name string, tag Tag, lookup func(context.Context, string) (Result[T], error)) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome[T]{Kind: KindOther, Message: fmt.Sprint(r)}
		}
	}()

	res, err := lookup(ctx, name)
	if err == nil && len(res.Records) == 0 {
		err = ErrNoAnswer
	}

	kind := Classify(err)
	switch kind {
	case KindSuccess:
		return Outcome[T]{Kind: kind, Records: res.Records}
	case KindOther:
		return Outcome[T]{Kind: kind, Message: err.Error()}
	default:
		return Outcome[T]{Kind: kind, Message: Message(tag, kind, name)}
	}
}
