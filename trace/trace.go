// Package trace rebuilds the relay path of a message from its Received
// header fields.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ErrNoOrigin is returned by Origin when no hop names its sender.
var ErrNoOrigin = errors.New("trace: no relay hop identifies the sending host")

// Endpoint is the sending side of a hop. It is serialised as [name, ip].
type Endpoint struct {
	Name string
	IP   string
}

func (e Endpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Name, e.IP})
}

func (e *Endpoint) UnmarshalJSON(b []byte) error {
	var v [2]string
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("trace: endpoint: %w", err)
	}
	e.Name, e.IP = v[0], v[1]
	return nil
}

// Hop is one server-to-server transfer.
type Hop struct {
	// From is nil for hops that only record the receiving host.
	From *Endpoint `json:"from,omitempty"`
	To   string    `json:"to"`
	At   string    `json:"at"`
}

var (
	fromPattern = regexp.MustCompile(`from\s+(?P<sender_name>[^()]+)\s+\(([^()]+)\s+\[(?P<sender_ip>[^\]]+)\]\)\s+(\(.*\)\s+)?(by)?\s+(?P<recipient_name>[^()]+)\s+.*;\s+(?P<timestamp>.*)`)
	byPattern   = regexp.MustCompile(`by\s+(?P<recipient_name>\S+)\s*(with)?\s+.*;\s+(?P<timestamp>.+)`)
)

func group(re *regexp.Regexp, m []string, name string) string {
	return m[re.SubexpIndex(name)]
}

// Parse turns Received header values into hops, oldest first.
//
// The values are expected in the order they appear in the message, newest
// first, as every relay prepends its own field. Lines that match neither
// the "from ... by ..." form nor the bare "by ..." form are skipped.
func Parse(received []string) []Hop {
	hops := make([]Hop, 0, len(received))

	for _, line := range slices.Backward(received) {
		line = unfold(line)
		if m := fromPattern.FindStringSubmatch(line); m != nil {
			hops = append(hops, Hop{
				From: &Endpoint{
					Name: group(fromPattern, m, "sender_name"),
					IP:   group(fromPattern, m, "sender_ip"),
				},
				To: group(fromPattern, m, "recipient_name"),
				At: group(fromPattern, m, "timestamp"),
			})
			continue
		}
		if m := byPattern.FindStringSubmatch(line); m != nil {
			hops = append(hops, Hop{
				To: group(byPattern, m, "recipient_name"),
				At: group(byPattern, m, "timestamp"),
			})
		}
	}

	return hops
}

// unfold removes the line breaks of a folded header value. The leading
// whitespace of each continuation line is kept.
func unfold(v string) string {
	return strings.NewReplacer("\r\n", "", "\n", "").Replace(v)
}

// Origin returns the HELO name and IP address of the first hop that records
// its sender.
func Origin(hops []Hop) (helo, ip string, err error) {
	for _, hop := range hops {
		if hop.From != nil {
			return hop.From.Name, hop.From.IP, nil
		}
	}
	return "", "", ErrNoOrigin
}
