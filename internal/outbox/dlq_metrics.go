package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// DLQ outcome label values.
const (
	dlqOutcomeRequeued    = "requeued"
	dlqOutcomeRetry       = "retry_scheduled"
	dlqOutcomeQuarantined = "quarantined"
)

// dlqAggregates are the aggregate types the repository writes to the outbox.
// They are always reported so an empty backlog reads as zero, not absent.
var dlqAggregates = []string{"challenge", "trophy"}

var (
	dlqOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "DLQ entries handled by the manager, by aggregate, event type and outcome.",
	}, []string{"aggregate_type", "event_type", "outcome"})

	dlqAttempts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "challenge_service",
		Subsystem: "dlq",
		Name:      "attempts_before_resolution",
		Help:      "Retries an entry had accumulated when it was requeued or quarantined.",
		Buckets:   []float64{0, 1, 2, 3, 5, 8},
	}, []string{"aggregate_type", "outcome"})

	dlqBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "challenge_service",
		Subsystem: "dlq",
		Name:      "queued_entries",
		Help:      "Entries waiting in the DLQ, excluding quarantined ones, by aggregate.",
	}, []string{"aggregate_type"})
)

func init() {
	prometheus.MustRegister(dlqOutcomes, dlqAttempts, dlqBacklog)
}

func recordDLQOutcome(entry dlqEntry, outcome string) {
	dlqOutcomes.WithLabelValues(entry.AggregateType, entry.EventType, outcome).Inc()
	if outcome != dlqOutcomeRetry {
		dlqAttempts.WithLabelValues(entry.AggregateType, outcome).Observe(float64(entry.RetryCount))
	}
}

func setBacklog(counts map[string]int) {
	dlqBacklog.Reset()
	for _, aggregate := range dlqAggregates {
		dlqBacklog.WithLabelValues(aggregate).Set(0)
	}
	for aggregate, count := range counts {
		dlqBacklog.WithLabelValues(aggregate).Set(float64(count))
	}
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `SELECT aggregate_type, COUNT(*) FROM outbox_dlq
        WHERE quarantined_at IS NULL GROUP BY aggregate_type`)
	if err != nil {
		return
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			aggregate string
			count     int
		)
		if err := rows.Scan(&aggregate, &count); err != nil {
			return
		}
		counts[aggregate] = count
	}
	if rows.Err() != nil {
		return
	}
	setBacklog(counts)
}
