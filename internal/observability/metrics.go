// Package observability exposes engine-level prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	workoutsTracked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "engine",
		Name:      "workouts_tracked_total",
		Help:      "Number of workouts evaluated against active challenges.",
	})

	contributions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "engine",
		Name:      "contributions_total",
		Help:      "Number of positive contributions applied, labeled by challenge type.",
	}, []string{"type"})

	completions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "engine",
		Name:      "completions_total",
		Help:      "Number of completion signals raised, labeled by scope.",
	}, []string{"scope"})

	trophiesAwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "engine",
		Name:      "trophies_awarded_total",
		Help:      "Number of trophies persisted, labeled by scope.",
	}, []string{"scope"})

	challengeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "engine",
		Name:      "challenge_failures_total",
		Help:      "Number of per-challenge evaluations that failed and were isolated from the batch.",
	})

	malformedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "persistence",
		Name:      "malformed_records_total",
		Help:      "Number of stored records skipped because they could not be decoded.",
	}, []string{"source"})

	progressPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "challenge_service",
		Subsystem: "persistence",
		Name:      "last_progress_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent challenge progress write.",
	})

	notificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "notify",
		Name:      "events_dropped_total",
		Help:      "Number of completion events dropped because the delivery queue was full or closed.",
	})
)

func init() {
	prometheus.MustRegister(
		workoutsTracked,
		contributions,
		completions,
		trophiesAwarded,
		challengeFailures,
		malformedRecords,
		progressPersistGauge,
		notificationsDropped,
	)
}

// RecordWorkoutTracked counts a workout evaluated by the engine.
func RecordWorkoutTracked() {
	workoutsTracked.Inc()
}

// RecordContribution counts a positive contribution for a challenge type.
func RecordContribution(challengeType string) {
	contributions.WithLabelValues(challengeType).Inc()
}

// RecordCompletion counts a completion signal for a scope.
func RecordCompletion(scope string) {
	completions.WithLabelValues(scope).Inc()
}

// RecordTrophyAwarded counts a persisted trophy.
func RecordTrophyAwarded(scope string) {
	trophiesAwarded.WithLabelValues(scope).Inc()
}

// RecordChallengeFailure counts an isolated per-challenge failure.
func RecordChallengeFailure() {
	challengeFailures.Inc()
}

// RecordMalformedRecord counts a skipped record for the given source.
func RecordMalformedRecord(source string) {
	malformedRecords.WithLabelValues(source).Inc()
}

// RecordProgressPersisted updates the persistence watermark gauge.
func RecordProgressPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	progressPersistGauge.Set(float64(ts.Unix()))
}

// RecordNotificationDropped counts a completion event that was not delivered.
func RecordNotificationDropped() {
	notificationsDropped.Inc()
}

// Collectors exposes the registered collectors for tests.
var Collectors = struct {
	WorkoutsTracked   prometheus.Counter
	Contributions     *prometheus.CounterVec
	Completions       *prometheus.CounterVec
	TrophiesAwarded   *prometheus.CounterVec
	ChallengeFailures prometheus.Counter
	MalformedRecords  *prometheus.CounterVec
	Dropped           prometheus.Counter
}{
	WorkoutsTracked:   workoutsTracked,
	Contributions:     contributions,
	Completions:       completions,
	TrophiesAwarded:   trophiesAwarded,
	ChallengeFailures: challengeFailures,
	MalformedRecords:  malformedRecords,
	Dropped:           notificationsDropped,
}
