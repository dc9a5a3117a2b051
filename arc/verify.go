package arc

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/synqronlabs/xray/dns"
)

// Verifier validates ARC chains, fetching keys through Resolver.
type Verifier struct {
	Resolver dns.Resolver

	// MinRSAKeyBits defaults to 1024.
	MinRSAKeyBits int
}

// Verify validates the chain carried by message. Problems with the chain
// are reported as a fail Result; the returned error is reserved for a
// cancelled context.
func (v *Verifier) Verify(ctx context.Context, message []byte) (*Result, error) {
	fields, body := splitMessage(message)

	sets, err := collectSets(fields)
	if err != nil {
		return fail(0, 0, "malformed ARC headers", err), nil
	}
	if len(sets) == 0 {
		return &Result{Status: StatusNone}, nil
	}
	n := len(sets)

	// The newest seal carries the verdict of the previous hop.
	for _, s := range sets {
		cv := s.sealTags["cv"]
		want := "pass"
		if s.instance == 1 {
			want = "none"
		}
		if cv == "fail" {
			return fail(n, s.instance, "chain validation marked as fail", ErrCVMismatch), nil
		}
		if cv != want {
			return fail(n, s.instance, fmt.Sprintf("expected cv=%s for instance %d, got %q", want, s.instance, cv), ErrCVMismatch), nil
		}
	}

	newest := sets[n-1]
	if err := v.verifyMessageSignature(ctx, newest, fields, body); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return fail(n, n, "ARC-Message-Signature: "+err.Error(), err), nil
	}

	for k := n; k >= 1; k-- {
		if err := v.verifySeal(ctx, sets[:k]); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return fail(n, k, "ARC-Seal: "+err.Error(), err), nil
		}
	}

	return &Result{Status: StatusPass, Instances: n}, nil
}

func fail(n, instance int, reason string, err error) *Result {
	return &Result{
		Status:         StatusFail,
		Instances:      n,
		FailedInstance: instance,
		Reason:         reason,
		Err:            err,
	}
}

func (v *Verifier) verifyMessageSignature(ctx context.Context, s *set, fields []field, body []byte) error {
	tags := s.amsTags
	for _, t := range []string{"a", "b", "bh", "d", "h", "s"} {
		if tags[t] == "" {
			return fmt.Errorf("%w: %s=", ErrMissingTag, t)
		}
	}

	hashAlg, keyType, err := hashFor(tags["a"])
	if err != nil {
		return err
	}

	headerCanon, bodyCanon, _ := strings.Cut(tags["c"], "/")
	if bodyCanon == "" {
		bodyCanon = "simple"
	}

	limit := int64(-1)
	if l, ok := tags["l"]; ok {
		if limit, err = strconv.ParseInt(l, 10, 64); err != nil {
			return fmt.Errorf("%w: l=%s", ErrSyntax, l)
		}
	}

	wantBH, err := base64.StdEncoding.DecodeString(tags["bh"])
	if err != nil {
		return fmt.Errorf("%w: bh=", ErrSyntax)
	}
	if got := bodyHash(hashAlg.New(), body, bodyCanon == "relaxed", limit); !slices.Equal(got, wantBH) {
		return ErrBodyHashMismatch
	}

	relaxed := headerCanon == "relaxed"
	h := hashAlg.New()

	// Signed fields are consumed from the bottom of the header up.
	used := make(map[int]bool)
	for name := range strings.SplitSeq(tags["h"], ":") {
		name = strings.ToLower(strings.TrimSpace(name))
		for i := len(fields) - 1; i >= 0; i-- {
			if used[i] || fields[i].key != name {
				continue
			}
			used[i] = true
			h.Write([]byte(canonHeader(fields[i].raw, relaxed)))
			h.Write(crlf)
			break
		}
	}
	h.Write([]byte(canonHeader(stripSignature(s.ams.raw), relaxed)))

	key, err := v.lookupKey(ctx, tags["s"], tags["d"], keyType)
	if err != nil {
		return err
	}
	return verifySignature(key, hashAlg, h.Sum(nil), tags["b"])
}

// verifySeal checks the seal of the last set in sets, which covers every
// set up to and including it.
func (v *Verifier) verifySeal(ctx context.Context, sets []*set) error {
	last := sets[len(sets)-1]
	tags := last.sealTags
	for _, t := range []string{"a", "b", "d", "s"} {
		if tags[t] == "" {
			return fmt.Errorf("%w: %s=", ErrMissingTag, t)
		}
	}
	if _, ok := tags["h"]; ok {
		return fmt.Errorf("%w: h= not allowed in ARC-Seal", ErrSyntax)
	}

	hashAlg, keyType, err := hashFor(tags["a"])
	if err != nil {
		return err
	}

	h := hashAlg.New()
	for _, s := range sets {
		h.Write([]byte(relaxedHeader(s.aar.raw)))
		h.Write(crlf)
		h.Write([]byte(relaxedHeader(s.ams.raw)))
		h.Write(crlf)
		if s == last {
			h.Write([]byte(relaxedHeader(stripSignature(s.seal.raw))))
			break
		}
		h.Write([]byte(relaxedHeader(s.seal.raw)))
		h.Write(crlf)
	}

	key, err := v.lookupKey(ctx, tags["s"], tags["d"], keyType)
	if err != nil {
		return err
	}
	return verifySignature(key, hashAlg, h.Sum(nil), tags["b"])
}

func (v *Verifier) lookupKey(ctx context.Context, selector, domain, keyType string) (crypto.PublicKey, error) {
	if _, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimSuffix(domain, ".")); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTLD, domain)
	}

	name := selector + "._domainkey." + domain
	res, err := v.Resolver.LookupTXT(ctx, name)
	if err != nil {
		if dns.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoRecord, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrDNS, err)
	}

	var lastErr error = fmt.Errorf("%w: %s", ErrNoRecord, name)
	for _, txt := range res.Records {
		key, err := v.parseKey(txt, keyType)
		if err != nil {
			lastErr = err
			continue
		}
		return key, nil
	}
	return nil, lastErr
}

func (v *Verifier) parseKey(txt, keyType string) (crypto.PublicKey, error) {
	tags, err := parseTags(txt)
	if err != nil {
		return nil, err
	}
	if ver, ok := tags["v"]; ok && ver != "DKIM1" {
		return nil, fmt.Errorf("%w: v=%s", ErrSyntax, ver)
	}
	if k := strings.ToLower(tags["k"]); k != "" && k != keyType {
		return nil, fmt.Errorf("%w: key type %s", ErrAlgorithmUnknown, k)
	}

	p, ok := tags["p"]
	if !ok {
		return nil, fmt.Errorf("%w: p=", ErrMissingTag)
	}
	if p == "" {
		return nil, ErrKeyRevoked
	}
	der, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		return nil, fmt.Errorf("%w: p=", ErrSyntax)
	}

	if keyType == "ed25519" {
		if len(der) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: ed25519 key of %d bytes", ErrSyntax, len(der))
		}
		return ed25519.PublicKey(der), nil
	}

	var pub *rsa.PublicKey
	if parsed, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrAlgorithmUnknown)
		}
		pub = rsaKey
	} else if pub, err = x509.ParsePKCS1PublicKey(der); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	minBits := v.MinRSAKeyBits
	if minBits == 0 {
		minBits = 1024
	}
	if pub.N.BitLen() < minBits {
		return nil, fmt.Errorf("%w: %d bits", ErrWeakKey, pub.N.BitLen())
	}
	return pub, nil
}

func verifySignature(key crypto.PublicKey, hashAlg crypto.Hash, digest []byte, b string) error {
	sig, err := base64.StdEncoding.DecodeString(b)
	if err != nil {
		return fmt.Errorf("%w: b=", ErrSyntax)
	}
	switch k := key.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(k, hashAlg, digest, sig); err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureFailed, err)
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(k, digest, sig) {
			return ErrSignatureFailed
		}
	default:
		return fmt.Errorf("%w: %T", ErrAlgorithmUnknown, key)
	}
	return nil
}
