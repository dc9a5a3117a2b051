package arc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/synqronlabs/xray/dns"
)

const plainMessage = "From: Alice <alice@example.org>\r\n" +
	"To: check@tester.example\r\n" +
	"Subject: hello\r\n" +
	"\r\n" +
	"Hi there,\r\n" +
	"  this is  a test.\r\n" +
	"\r\n" +
	"\r\n"

func testKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return key, "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(der)
}

func sign(t *testing.T, key *rsa.PrivateKey, digest []byte) string {
	t.Helper()
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

// addSet prepends a new ARC set to msg, the way a forwarding relay would.
func addSet(t *testing.T, msg string, key *rsa.PrivateKey, domain, cv string) string {
	t.Helper()

	fields, body := splitMessage([]byte(msg))
	sets, err := collectSets(fields)
	if err != nil {
		t.Fatal(err)
	}
	i := len(sets) + 1

	aar := fmt.Sprintf("ARC-Authentication-Results: i=%d; relay%d.example.net; spf=pass smtp.mailfrom=example.org\r\n", i, i)

	bh := base64.StdEncoding.EncodeToString(bodyHash(sha256.New(), body, true, -1))
	ams := fmt.Sprintf("ARC-Message-Signature: i=%d; a=rsa-sha256; c=relaxed/relaxed; d=%s; s=arc;\r\n\th=from:subject; bh=%s; b=", i, domain, bh)

	h := sha256.New()
	for _, name := range []string{"from", "subject"} {
		for j := len(fields) - 1; j >= 0; j-- {
			if fields[j].key == name {
				h.Write([]byte(relaxedHeader(fields[j].raw)))
				h.Write(crlf)
				break
			}
		}
	}
	h.Write([]byte(relaxedHeader([]byte(ams))))
	ams += sign(t, key, h.Sum(nil)) + "\r\n"

	seal := fmt.Sprintf("ARC-Seal: i=%d; a=rsa-sha256; cv=%s; d=%s; s=arc; b=", i, cv, domain)

	withSet := aar + ams + seal + "\r\n" + msg
	fields, _ = splitMessage([]byte(withSet))
	sets, err = collectSets(fields)
	if err != nil {
		t.Fatal(err)
	}

	h = sha256.New()
	for _, s := range sets {
		h.Write([]byte(relaxedHeader(s.aar.raw)))
		h.Write(crlf)
		h.Write([]byte(relaxedHeader(s.ams.raw)))
		h.Write(crlf)
		if s.instance == i {
			h.Write([]byte(relaxedHeader(s.seal.raw)))
			break
		}
		h.Write([]byte(relaxedHeader(s.seal.raw)))
		h.Write(crlf)
	}
	seal += sign(t, key, h.Sum(nil)) + "\r\n"

	return aar + ams + seal + msg
}

func newVerifier(record string) *Verifier {
	return &Verifier{Resolver: dns.MockResolver{
		TXT: map[string][]string{
			"arc._domainkey.example.org.": {record},
		},
	}}
}

func TestVerifyNoHeaders(t *testing.T) {
	v := newVerifier("")
	res, err := v.Verify(context.Background(), []byte(plainMessage))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusNone {
		t.Errorf("Status = %s, want none", res.Status)
	}
}

func TestVerifyChain(t *testing.T) {
	key, record := testKey(t)
	v := newVerifier(record)

	one := addSet(t, plainMessage, key, "example.org", "none")
	two := addSet(t, one, key, "example.org", "pass")

	tests := []struct {
		name          string
		msg           string
		want          Status
		wantInstances int
		wantErr       error
	}{
		{"single set", one, StatusPass, 1, nil},
		{"two sets", two, StatusPass, 2, nil},
		{"lf line endings", strings.ReplaceAll(one, "\r\n", "\n"), StatusPass, 1, nil},
		{"tampered body", strings.Replace(one, "Hi there", "Hi thief", 1), StatusFail, 1, ErrBodyHashMismatch},
		{"tampered subject", strings.Replace(one, "Subject: hello", "Subject: hellO", 1), StatusFail, 1, ErrSignatureFailed},
		{"first set claims pass", addSet(t, plainMessage, key, "example.org", "pass"), StatusFail, 1, ErrCVMismatch},
		{"second set claims fail", addSet(t, one, key, "example.org", "fail"), StatusFail, 2, ErrCVMismatch},
		{"unknown key", addSet(t, plainMessage, key, "example.net", "none"), StatusFail, 1, ErrNoRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Verify(context.Background(), []byte(tt.msg))
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if res.Status != tt.want {
				t.Fatalf("Status = %s, want %s (reason: %s)", res.Status, tt.want, res.Reason)
			}
			if res.Instances != tt.wantInstances {
				t.Errorf("Instances = %d, want %d", res.Instances, tt.wantInstances)
			}
			if tt.wantErr != nil && !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", res.Err, tt.wantErr)
			}
		})
	}
}

func TestVerifyBrokenStructure(t *testing.T) {
	key, record := testKey(t)
	v := newVerifier(record)

	two := addSet(t, addSet(t, plainMessage, key, "example.org", "none"), key, "example.org", "pass")

	// Drop the instance 1 seal.
	var kept []string
	for _, line := range strings.SplitAfter(two, "\r\n") {
		if strings.HasPrefix(line, "ARC-Seal: i=1;") {
			continue
		}
		kept = append(kept, line)
	}

	res, err := v.Verify(context.Background(), []byte(strings.Join(kept, "")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFail || !errors.Is(res.Err, ErrInvalidChain) {
		t.Errorf("got %s / %v, want fail / ErrInvalidChain", res.Status, res.Err)
	}
}

func TestVerifyTLDSigner(t *testing.T) {
	key, record := testKey(t)
	v := &Verifier{Resolver: dns.MockResolver{
		TXT: map[string][]string{"arc._domainkey.com.": {record}},
	}}

	res, err := v.Verify(context.Background(), []byte(addSet(t, plainMessage, key, "com", "none")))
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Err, ErrTLD) {
		t.Errorf("Err = %v, want ErrTLD", res.Err)
	}
}

func TestBodyHash(t *testing.T) {
	sum := func(s string) string {
		h := sha256.Sum256([]byte(s))
		return hex.EncodeToString(h[:])
	}

	tests := []struct {
		name    string
		body    string
		relaxed bool
		want    string
	}{
		{"simple empty", "", false, sum("\r\n")},
		{"relaxed empty", "", true, sum("")},
		{"simple trailing lines", "a\r\n\r\n\r\n", false, sum("a\r\n")},
		{"relaxed whitespace", " a \t b  \r\n\r\n", true, sum(" a b\r\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hex.EncodeToString(bodyHash(sha256.New(), []byte(tt.body), tt.relaxed, -1))
			if got != tt.want {
				t.Errorf("bodyHash() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStripSignature(t *testing.T) {
	raw := []byte("ARC-Seal: i=1; a=rsa-sha256; b=AAAA\r\n\tBBBB; cv=none; d=example.org\r\n")
	want := "ARC-Seal: i=1; a=rsa-sha256; b=; cv=none; d=example.org\r\n"
	if got := string(stripSignature(raw)); got != want {
		t.Errorf("stripSignature() = %q, want %q", got, want)
	}

	// bh= must survive.
	raw = []byte("ARC-Message-Signature: i=1; bh=xyz; b=sig\r\n")
	want = "ARC-Message-Signature: i=1; bh=xyz; b="
	if got := string(stripSignature(raw)); got != want {
		t.Errorf("stripSignature() = %q, want %q", got, want)
	}
}
