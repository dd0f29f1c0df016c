package paste

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes used as the "result" label.
const (
	ResultServed        = "served"
	ResultMissing       = "missing"
	ResultExpired       = "expired"
	ResultViewsExceeded = "views_exceeded"
	ResultConflict      = "conflict"
	ResultError         = "error"
)

// Metrics counts paste lifecycle events. A nil *Metrics is a no-op.
type Metrics struct {
	created prometheus.Counter
	fetches *prometheus.CounterVec
}

// NewMetrics registers the paste metrics with reg, or the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pastes_created_total",
			Help: "Number of pastes created",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paste_fetch_total",
			Help: "Number of paste fetches by outcome",
		}, []string{"result"}),
	}
	reg.MustRegister(m.created, m.fetches)
	return m
}

func (m *Metrics) incCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) observeFetch(err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(fetchResult(err)).Inc()
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return ResultServed
	case errors.Is(err, ErrExpired):
		return ResultExpired
	case errors.Is(err, ErrViewsExceeded):
		return ResultViewsExceeded
	case errors.Is(err, ErrNotFound):
		return ResultMissing
	case errors.Is(err, ErrConflict):
		return ResultConflict
	default:
		return ResultError
	}
}
