package arc

import (
	"bytes"
	"hash"
	"regexp"
	"strings"
)

var crlf = []byte("\r\n")

// relaxedHeader applies relaxed header canonicalization (RFC 6376 3.4.2)
// to a raw field. The result carries no trailing CRLF.
func relaxedHeader(raw []byte) string {
	name, value, _ := strings.Cut(string(raw), ":")
	value = strings.NewReplacer("\r\n", "", "\n", "").Replace(value)
	return strings.ToLower(strings.TrimSpace(name)) + ":" + strings.Join(strings.Fields(value), " ")
}

// canonHeader canonicalizes raw with the named algorithm.
func canonHeader(raw []byte, relaxed bool) string {
	if relaxed {
		return relaxedHeader(raw)
	}
	return strings.TrimSuffix(string(raw), "\r\n")
}

// bodyHash hashes body after simple or relaxed canonicalization. limit < 0
// hashes the whole canonical body.
func bodyHash(h hash.Hash, body []byte, relaxed bool, limit int64) []byte {
	lines := bytes.SplitAfter(body, crlf)

	var canon bytes.Buffer
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		if relaxed {
			content := bytes.TrimSuffix(line, crlf)
			content = bytes.Join(bytes.Fields(content), []byte(" "))
			if len(bytes.TrimLeft(bytes.TrimSuffix(line, crlf), " \t")) > 0 && (line[0] == ' ' || line[0] == '\t') {
				content = append([]byte(" "), content...)
			}
			canon.Write(content)
			canon.Write(crlf)
			continue
		}
		canon.Write(line)
		if !bytes.HasSuffix(line, crlf) {
			canon.Write(crlf)
		}
	}

	out := canon.Bytes()
	for bytes.HasSuffix(out, []byte("\r\n\r\n")) {
		out = out[:len(out)-2]
	}
	if bytes.Equal(out, crlf) && relaxed {
		out = out[:0]
	}
	if len(out) == 0 && !relaxed {
		out = crlf
	}
	if limit >= 0 && int64(len(out)) > limit {
		out = out[:limit]
	}

	h.Write(out)
	return h.Sum(nil)
}

var signatureTag = regexp.MustCompile(`(^|;)(\s*b\s*=)[^;]*`)

// stripSignature empties the b= tag of a raw signature field.
func stripSignature(raw []byte) []byte {
	name, value, ok := bytes.Cut(raw, []byte{':'})
	if !ok {
		return raw
	}
	value = signatureTag.ReplaceAll(value, []byte("${1}${2}"))
	return append(append(append([]byte(nil), name...), ':'), value...)
}
