package xray

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/synqronlabs/xray/rbl"
)

// Metrics exports report counters. A nil *Metrics records nothing.
type Metrics struct {
	processed prometheus.Counter
	failed    *prometheus.CounterVec
	checks    *prometheus.CounterVec
	listings  *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		processed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "xray",
			Name:      "reports_processed_total",
			Help:      "Reports generated.",
		}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xray",
			Name:      "reports_failed_total",
			Help:      "Messages no report could be generated for, by reason.",
		}, []string{"reason"}),
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xray",
			Name:      "checks_total",
			Help:      "Check outcomes by check and status.",
		}, []string{"check", "status"}),
		listings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xray",
			Name:      "rbl_listings_total",
			Help:      "Source addresses found listed, by blocklist.",
		}, []string{"provider"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "xray",
			Name:      "report_duration_seconds",
			Help:      "Time spent generating a report.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoRecipient):
		return "no_recipient"
	case errors.Is(err, ErrBadHeader):
		return "bad_header"
	case errors.Is(err, ErrNoOrigin):
		return "no_origin"
	case errors.Is(err, ErrBadDate):
		return "bad_date"
	default:
		return "internal"
	}
}

func (m *Metrics) reportFailed(err error) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(failureReason(err)).Inc()
}

func (m *Metrics) reportDone(rep *Report, d time.Duration) {
	if m == nil {
		return
	}
	m.processed.Inc()
	m.duration.Observe(d.Seconds())

	for name, res := range rep.Authentication.Checks() {
		m.checks.WithLabelValues(name, string(res.Status)).Inc()
	}
	m.checks.WithLabelValues("spamassassin", string(rep.SpamAssassin.Status)).Inc()
	m.checks.WithLabelValues("rbl", string(rep.RBL.Status)).Inc()

	for _, t := range rep.RBL.Tests {
		if t.Result == rbl.Listed {
			m.listings.WithLabelValues(t.Name).Inc()
		}
	}
}
