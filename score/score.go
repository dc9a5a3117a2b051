// Package score keeps the running trust score of one report.
package score

import (
	"maps"
	"sync"
)

const (
	// Initial is the score every report starts from.
	Initial = 10.0

	// Max is the highest score a report can carry.
	Max = 10.0
)

// Breakdown keys. Each check writes under its own key, at most once.
const (
	KeySpamAssassin = "spamassassin"
	KeySPF          = "spf"
	KeyRDNS         = "rdns"
	KeyMX           = "mx"
	KeyDKIM         = "dkim"
	KeyRBL          = "rbl"
)

// Weights are the deductions applied for each finding.
type Weights struct {
	SpamAssassin float64 `json:"spamassassin" validate:"gte=0"`
	SPFError     float64 `json:"spf_error" validate:"gte=0"`
	SPFWarning   float64 `json:"spf_warning" validate:"gte=0"`
	MXWarning    float64 `json:"mx_warning" validate:"gte=0"`
	RDNSWarning  float64 `json:"rdns_warning" validate:"gte=0"`
	DKIMMissing  float64 `json:"dkim_missing" validate:"gte=0"`
	DKIMError    float64 `json:"dkim_error" validate:"gte=0"`
	RBLListed    float64 `json:"rbl_listed" validate:"gte=0"`
}

// DefaultWeights returns the stock deduction table.
func DefaultWeights() Weights {
	return Weights{
		SpamAssassin: 3,
		SPFError:     3,
		SPFWarning:   1.5,
		MXWarning:    1,
		RDNSWarning:  1,
		DKIMMissing:  1,
		DKIMError:    3,
		RBLListed:    1.5,
	}
}

// Accumulator holds a score and the deductions that produced it.
// It is safe for concurrent use. The score is never clamped.
type Accumulator struct {
	mu        sync.Mutex
	score     float64
	breakdown map[string]float64
}

// New returns an Accumulator starting at initial.
func New(initial float64) *Accumulator {
	return &Accumulator{
		score:     initial,
		breakdown: make(map[string]float64),
	}
}

// Subtract lowers the score by amount, records it under key and returns
// amount. Every check owns one key and calls Subtract at most once; a
// repeated key still lowers the score and overwrites the recorded amount.
func (a *Accumulator) Subtract(key string, amount float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.score -= amount
	a.breakdown[key] = amount
	return amount
}

// Score returns the current score.
func (a *Accumulator) Score() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.score
}

// Breakdown returns a copy of the recorded deductions.
func (a *Accumulator) Breakdown() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.breakdown)
}
