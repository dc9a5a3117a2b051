package arc

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// field is one header field as it appears in the message, folding and
// trailing CRLF included.
type field struct {
	raw []byte
	key string // lowercased name
}

func (f field) value() string {
	_, v, _ := bytes.Cut(f.raw, []byte{':'})
	return strings.TrimRight(string(v), "\r\n")
}

// splitMessage separates header fields from the body. Bare LF line endings
// are converted to CRLF first.
func splitMessage(msg []byte) ([]field, []byte) {
	if !bytes.Contains(msg, []byte("\r\n")) {
		msg = bytes.ReplaceAll(msg, []byte("\n"), []byte("\r\n"))
	}

	var fields []field
	rest := msg
	for len(rest) > 0 {
		end := bytes.Index(rest, []byte("\r\n"))
		if end < 0 {
			end = len(rest)
		} else {
			end += 2
		}
		line := rest[:end]
		rest = rest[end:]

		if len(bytes.TrimRight(line, "\r\n")) == 0 {
			return fields, rest
		}
		if line[0] == ' ' || line[0] == '\t' {
			if n := len(fields); n > 0 {
				fields[n-1].raw = append(fields[n-1].raw, line...)
			}
			continue
		}
		name, _, ok := bytes.Cut(line, []byte{':'})
		if !ok {
			continue
		}
		fields = append(fields, field{
			raw: append([]byte(nil), line...),
			key: strings.ToLower(strings.TrimSpace(string(name))),
		})
	}
	return fields, nil
}

// parseTags parses a tag=value list. Whitespace around names and values
// is dropped and folding whitespace inside values is removed.
func parseTags(s string) (map[string]string, error) {
	tags := make(map[string]string)
	for part := range strings.SplitSeq(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrSyntax, strings.TrimSpace(part))
		}
		name = strings.TrimSpace(name)
		if _, dup := tags[name]; dup {
			return nil, fmt.Errorf("%w: duplicate tag %q", ErrSyntax, name)
		}
		tags[name] = strings.Join(strings.Fields(value), "")
	}
	return tags, nil
}

func instanceOf(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 1 || i > MaxInstance {
		return 0, fmt.Errorf("%w: bad instance %q", ErrSyntax, s)
	}
	return i, nil
}

// set is one ARC set: the three header fields sharing an instance number.
type set struct {
	instance int
	aar      *field
	ams      *field
	seal     *field

	amsTags  map[string]string
	sealTags map[string]string
}

// collectSets groups the ARC header fields by instance and checks that
// instances run from 1 to n without gaps or duplicates. It returns nil
// when the message has no ARC fields.
func collectSets(fields []field) ([]*set, error) {
	byInstance := make(map[int]*set)
	get := func(i int) *set {
		if byInstance[i] == nil {
			byInstance[i] = &set{instance: i}
		}
		return byInstance[i]
	}

	for idx := range fields {
		f := &fields[idx]
		switch f.key {
		case "arc-authentication-results":
			head, _, _ := strings.Cut(f.value(), ";")
			name, v, ok := strings.Cut(strings.TrimSpace(head), "=")
			if !ok || strings.TrimSpace(name) != "i" {
				return nil, fmt.Errorf("%w: ARC-Authentication-Results without instance", ErrSyntax)
			}
			i, err := instanceOf(strings.TrimSpace(v))
			if err != nil {
				return nil, err
			}
			s := get(i)
			if s.aar != nil {
				return nil, fmt.Errorf("%w: duplicate ARC-Authentication-Results i=%d", ErrInvalidChain, i)
			}
			s.aar = f

		case "arc-message-signature", "arc-seal":
			tags, err := parseTags(f.value())
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", f.key, err)
			}
			i, err := instanceOf(tags["i"])
			if err != nil {
				return nil, err
			}
			s := get(i)
			if f.key == "arc-seal" {
				if s.seal != nil {
					return nil, fmt.Errorf("%w: duplicate ARC-Seal i=%d", ErrInvalidChain, i)
				}
				s.seal, s.sealTags = f, tags
			} else {
				if s.ams != nil {
					return nil, fmt.Errorf("%w: duplicate ARC-Message-Signature i=%d", ErrInvalidChain, i)
				}
				s.ams, s.amsTags = f, tags
			}
		}
	}

	if len(byInstance) == 0 {
		return nil, nil
	}

	sets := make([]*set, len(byInstance))
	for i := 1; i <= len(byInstance); i++ {
		s, ok := byInstance[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing instance %d", ErrInvalidChain, i)
		}
		if s.aar == nil || s.ams == nil || s.seal == nil {
			return nil, fmt.Errorf("%w: incomplete set i=%d", ErrInvalidChain, i)
		}
		sets[i-1] = s
	}
	return sets, nil
}
