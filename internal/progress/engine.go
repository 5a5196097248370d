// Package progress evaluates logged workouts against a user's active challenges,
// merges contributions into challenge state and awards trophies on completion.
package progress

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/observability"
	"example.com/challenges/internal/telemetry/tracing"
)

// ErrAlreadyCounted is returned from a ProgressFunc when the workout predates
// the user's join and was folded into the initial progress.
var ErrAlreadyCounted = errors.New("workout already counted at join")

// OutcomeStatus summarises what happened to one challenge for one workout.
type OutcomeStatus string

const (
	OutcomeSkipped        OutcomeStatus = "skipped"
	OutcomeAlreadyCounted OutcomeStatus = "already_counted"
	OutcomeUpdated        OutcomeStatus = "updated"
	OutcomeCompleted      OutcomeStatus = "completed"
	OutcomeFailed         OutcomeStatus = "failed"
)

// Outcome is the per-challenge result of TrackWorkout.
type Outcome struct {
	ChallengeID  string
	Status       OutcomeStatus
	Contribution float64
	NewTotal     float64
	Trophies     []domain.Trophy
	Err          error
}

// Report collects the outcomes of one TrackWorkout call.
type Report struct {
	WorkoutID string
	UserID    string
	Outcomes  []Outcome
}

// Trophies returns every trophy awarded while tracking the workout.
func (r Report) Trophies() []domain.Trophy {
	var out []domain.Trophy
	for _, outcome := range r.Outcomes {
		out = append(out, outcome.Trophies...)
	}
	return out
}

// Option configures the Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger overrides the logger used to report isolated failures.
func WithLogger(logger *logrus.Entry) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCalculator replaces the default calculator.
func WithCalculator(calculator *Calculator) Option {
	return func(e *Engine) { e.calculator = calculator }
}

// WithAggregator replaces the default aggregator.
func WithAggregator(aggregator *Aggregator) Option {
	return func(e *Engine) { e.aggregator = aggregator }
}

// WithTracer overrides the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithLegacyTaxonomy enables the deprecated types and scope on the default
// calculator and aggregator.
func WithLegacyTaxonomy() Option {
	return func(e *Engine) { e.legacy = true }
}

// Engine is the challenge progress engine. It holds no per-user state and is
// safe for concurrent use; consistency is delegated to the store's
// transactional update.
type Engine struct {
	store      Store
	notifier   Notifier
	calculator *Calculator
	aggregator *Aggregator
	awards     *AwardDispatcher
	clock      Clock
	logger     *logrus.Entry
	tracer     trace.Tracer
	legacy     bool
}

// NewEngine constructs an Engine. notifier may be nil.
func NewEngine(store Store, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		clock:    SystemClock,
		logger:   logrus.WithField("component", "progress"),
		tracer:   tracing.Tracer,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.calculator == nil {
		var calcOpts []CalculatorOption
		if e.legacy {
			calcOpts = append(calcOpts, WithLegacyTypes())
		}
		e.calculator = NewCalculator(store, calcOpts...)
	}
	if e.aggregator == nil {
		var aggOpts []AggregatorOption
		if e.legacy {
			aggOpts = append(aggOpts, WithLegacyScopes())
		}
		e.aggregator = NewAggregator(aggOpts...)
	}
	e.awards = NewAwardDispatcher(store, notifier, e.clock, e.logger)
	return e
}

// TrackWorkout evaluates workout against every active challenge of its owner.
// Challenges are processed one after another; a failure on one challenge is
// recorded in its Outcome and in the combined error, and never prevents the
// remaining challenges from being processed.
func (e *Engine) TrackWorkout(ctx context.Context, workout domain.WorkoutSummary) (_ Report, err error) {
	ctx, span := e.tracer.Start(ctx, "progress.engine.track-workout")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if strings.TrimSpace(workout.UserID) == "" {
		return Report{}, domain.ErrMissingUserID
	}
	if strings.TrimSpace(workout.ID) == "" {
		return Report{}, domain.ErrMissingWorkoutID
	}
	span.SetAttributes(
		attribute.String("workout_id", workout.ID),
		attribute.String("user_id", workout.UserID),
	)

	report := Report{WorkoutID: workout.ID, UserID: workout.UserID}

	challenges, err := e.store.GetActiveChallenges(ctx, workout.UserID)
	if err != nil {
		return report, fmt.Errorf("get active challenges: %w", err)
	}
	observability.RecordWorkoutTracked()

	var errs error
	for _, challenge := range challenges {
		outcome := e.processChallenge(ctx, workout, challenge)
		if outcome.Err != nil {
			observability.RecordChallengeFailure()
			e.logger.WithFields(logrus.Fields{
				"challenge_id": challenge.ID,
				"workout_id":   workout.ID,
				"user_id":      workout.UserID,
				"status":       outcome.Status,
			}).WithError(outcome.Err).Error("challenge progress failed")
			errs = multierr.Append(errs, fmt.Errorf("challenge %s: %w", challenge.ID, outcome.Err))
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	return report, errs
}

func (e *Engine) processChallenge(ctx context.Context, workout domain.WorkoutSummary, challenge domain.Challenge) Outcome {
	outcome := Outcome{ChallengeID: challenge.ID, Status: OutcomeSkipped}

	contribution, err := e.calculator.Compute(ctx, workout, challenge)
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Err = fmt.Errorf("compute contribution: %w", err)
		return outcome
	}
	outcome.Contribution = contribution
	if contribution <= 0 {
		return outcome
	}

	var applied Application
	updated, err := e.store.UpdateChallengeProgress(ctx, challenge.ID, workout.UserID, func(current domain.Challenge) (float64, error) {
		if joined, ok := current.JoinedAt[workout.UserID]; ok && workout.CreatedAt.Before(joined) {
			return 0, ErrAlreadyCounted
		}
		result, err := e.aggregator.Apply(current, workout.UserID, contribution)
		if err != nil {
			return 0, err
		}
		applied = result
		return result.NewTotal, nil
	})
	if errors.Is(err, ErrAlreadyCounted) {
		outcome.Status = OutcomeAlreadyCounted
		return outcome
	}
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Err = fmt.Errorf("update progress: %w", err)
		return outcome
	}
	observability.RecordContribution(string(challenge.Type))

	outcome.Status = OutcomeUpdated
	outcome.NewTotal = applied.NewTotal
	if !applied.Completed {
		return outcome
	}

	observability.RecordCompletion(string(updated.Scope))
	outcome.Status = OutcomeCompleted
	trophies, err := e.awards.Dispatch(ctx, updated, workout.UserID)
	outcome.Trophies = trophies
	if err != nil {
		outcome.Err = fmt.Errorf("dispatch awards: %w", err)
	}
	return outcome
}

// JoinChallenge adds userID to a challenge. The user's earlier workouts inside
// the challenge window are folded into the initial progress within the same
// store transaction as the membership write; later workouts are counted by
// TrackWorkout.
func (e *Engine) JoinChallenge(ctx context.Context, challengeID, userID string) (_ domain.Challenge, err error) {
	ctx, span := e.tracer.Start(ctx, "progress.engine.join-challenge")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if strings.TrimSpace(userID) == "" {
		return domain.Challenge{}, domain.ErrMissingUserID
	}

	joinedAt := e.clock.Now()
	return e.store.JoinChallenge(ctx, challengeID, userID, joinedAt, func(ctx context.Context, challenge domain.Challenge, history HistoryReader) (float64, error) {
		if !challenge.Active(joinedAt) {
			return 0, domain.ErrChallengeEnded
		}
		if challenge.IsParticipant(userID) {
			return 0, domain.ErrAlreadyParticipant
		}
		return e.initialProgress(ctx, challenge, userID, joinedAt, history)
	})
}

func (e *Engine) initialProgress(ctx context.Context, challenge domain.Challenge, userID string, joinedAt time.Time, history HistoryReader) (float64, error) {
	past, err := history.GetWorkoutHistory(ctx, userID, joinedAt)
	if err != nil {
		return 0, fmt.Errorf("load workout history: %w", err)
	}
	slices.SortFunc(past, func(a, b domain.WorkoutSummary) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var total float64
	for _, workout := range past {
		if !challenge.Contains(workout.CreatedAt) {
			continue
		}
		contribution, err := e.calculator.ComputeWithHistory(ctx, workout, challenge, history)
		if err != nil {
			return 0, fmt.Errorf("workout %s: %w", workout.ID, err)
		}
		total, err = e.aggregator.Merge(challenge.Scope, total, contribution)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Leaderboard returns the challenge participants ordered by rank.
func (e *Engine) Leaderboard(ctx context.Context, challengeID string) ([]domain.Standing, error) {
	challenge, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, domain.ErrChallengeNotFound
	}
	return challenge.Standings(), nil
}
