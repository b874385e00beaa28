package collector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

var durationBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300}

type metrics struct {
	runs     *prometheus.CounterVec
	rows     *prometheus.CounterVec
	changes  *prometheus.CounterVec
	duration prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ec_bot",
			Subsystem: "collector",
			Name:      "pulls_total",
			Help:      "Count of pulls by outcome",
		}, []string{"outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ec_bot",
			Subsystem: "ledger",
			Name:      "rows_appended_total",
			Help:      "Ledger rows appended by table",
		}, []string{"table"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ec_bot",
			Subsystem: "ledger",
			Name:      "deliverable_changes_total",
			Help:      "Deliverable changes recorded by kind",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ec_bot",
			Subsystem: "collector",
			Name:      "pull_duration_seconds",
			Help:      "Duration of complete pulls",
			Buckets:   durationBuckets,
		}),
	}

	if err := prometheus.Register(m.runs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.runs = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := prometheus.Register(m.rows); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.rows = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := prometheus.Register(m.changes); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.changes = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := prometheus.Register(m.duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.duration = are.ExistingCollector.(prometheus.Histogram)
		}
	}
	return m
}

func (m *metrics) observe(outcome string, elapsed time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	if outcome == outcomeRecorded || outcome == outcomeUnchanged {
		m.duration.Observe(elapsed.Seconds())
	}
}

func (m *metrics) recorded(rows domain.RowCounts, changes domain.ChangeCounters) {
	m.rows.WithLabelValues("deliverable_diff").Add(float64(rows.Deliverables))
	m.rows.WithLabelValues("team_diff").Add(float64(rows.Teams))
	m.rows.WithLabelValues("timeAllocation_diff").Add(float64(rows.TimeAllocations))
	m.rows.WithLabelValues("discipline_diff").Add(float64(rows.Disciplines))
	m.rows.WithLabelValues("card_diff").Add(float64(rows.Cards))
	m.rows.WithLabelValues("deliverable_teams").Add(float64(rows.Links))

	m.changes.WithLabelValues("added").Add(float64(changes.Added))
	m.changes.WithLabelValues("removed").Add(float64(changes.Removed))
	m.changes.WithLabelValues("updated").Add(float64(changes.Updated))
	m.changes.WithLabelValues("readded").Add(float64(changes.Readded))
}
