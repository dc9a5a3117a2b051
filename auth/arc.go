package auth

import (
	"context"
	"fmt"

	"github.com/synqronlabs/xray/arc"
)

// ARCVerdict is the chain validation result of an ARC verifier.
type ARCVerdict struct {
	// CV is "pass", "fail" or "none".
	CV     string
	Reason string
}

// ARCVerifier validates the ARC chain of a raw message.
type ARCVerifier interface {
	VerifyChain(ctx context.Context, raw []byte) (ARCVerdict, error)
}

// CheckARC reports the ARC chain validation result. It never deducts.
func (c *Checker) CheckARC(ctx context.Context, raw []byte) (res Result) {
	res = Result{Message: CodeARCNOK, Status: StatusError}

	defer func() {
		if r := recover(); r != nil {
			res = Result{Message: CodeARCNOK, Status: StatusError}
			res.add("verifier", Text(fmt.Sprintf("Unexpected error: %v", r)))
		}
	}()

	v, err := c.ARCVerifier.VerifyChain(ctx, raw)
	if err != nil {
		res.add("verifier", Text(fmt.Sprintf("Error validating ARC chain: %v", err)))
		return res
	}

	switch v.CV {
	case "pass":
		res.Message = CodeARCOK
		res.Status = StatusSuccess
		res.add("verifier", Text(orDefault(v.Reason, "ARC validation passed")))
	case "fail":
		res.add("verifier", Text(orDefault(v.Reason, "ARC validation failed")))
	case "none":
		res.Message = CodeARCNotSigned
		res.Status = StatusWarning
		res.add("verifier", Text("No ARC signature found"))
	default:
		res.add("verifier", Text("Unexpected cv value: "+v.CV))
	}
	return res
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ChainVerifier adapts arc.Verifier to ARCVerifier.
type ChainVerifier struct {
	Verifier *arc.Verifier
}

func (cv ChainVerifier) VerifyChain(ctx context.Context, raw []byte) (ARCVerdict, error) {
	res, err := cv.Verifier.Verify(ctx, raw)
	if err != nil {
		return ARCVerdict{}, err
	}
	v := ARCVerdict{CV: string(res.Status)}
	if res.Status == arc.StatusFail {
		v.Reason = fmt.Sprintf("ARC set %d: %s", res.FailedInstance, res.Reason)
	}
	return v, nil
}
