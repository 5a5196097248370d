package progress

import (
	"context"
	"errors"
	"fmt"
	"math"

	"example.com/challenges/internal/domain"
)

// ErrUnsupportedChallengeType is returned for a challenge type with no registered strategy.
var ErrUnsupportedChallengeType = errors.New("unsupported challenge type")

const (
	// brzyckiRepLimit is the rep count at which the Brzycki denominator reaches zero.
	brzyckiRepLimit = 37
	// prRepCeiling bounds the sets considered for personal records; estimates degrade above ten reps.
	prRepCeiling = 10
)

// ContributionFunc computes the contribution of a workout that already falls inside the
// challenge window. history is nil-safe only for strategies that do not read it.
type ContributionFunc func(ctx context.Context, workout domain.WorkoutSummary, challenge domain.Challenge, history HistoryReader) (float64, error)

// CalculatorOption configures a Calculator.
type CalculatorOption func(*Calculator)

// WithLegacyTypes registers the deprecated distance and workout_count strategies.
func WithLegacyTypes() CalculatorOption {
	return func(c *Calculator) {
		c.strategies[domain.ChallengeTypeDistance] = distanceContribution
		c.strategies[domain.ChallengeTypeWorkoutCount] = workoutCountContribution
	}
}

// WithStrategy registers or replaces the strategy for a challenge type.
func WithStrategy(t domain.ChallengeType, fn ContributionFunc) CalculatorOption {
	return func(c *Calculator) {
		c.strategies[t] = fn
	}
}

// Calculator maps a workout and a challenge to a non-negative contribution.
type Calculator struct {
	strategies map[domain.ChallengeType]ContributionFunc
	history    HistoryReader
}

// NewCalculator builds a Calculator with the canonical strategies registered.
func NewCalculator(history HistoryReader, opts ...CalculatorOption) *Calculator {
	c := &Calculator{
		strategies: map[domain.ChallengeType]ContributionFunc{
			domain.ChallengeTypeVolume:    volumeContribution,
			domain.ChallengeTypeDuration:  durationContribution,
			domain.ChallengeTypeOneRepMax: oneRepMaxContribution,
			domain.ChallengeTypePRCount:   prCountContribution,
		},
		history: history,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supports reports whether a strategy is registered for t.
func (c *Calculator) Supports(t domain.ChallengeType) bool {
	_, ok := c.strategies[t]
	return ok
}

// Compute returns the workout's contribution to the challenge using the
// calculator's own history reader.
func (c *Calculator) Compute(ctx context.Context, workout domain.WorkoutSummary, challenge domain.Challenge) (float64, error) {
	return c.ComputeWithHistory(ctx, workout, challenge, c.history)
}

// ComputeWithHistory is Compute with an explicit history reader, used when the
// reads must happen inside a caller's transaction.
func (c *Calculator) ComputeWithHistory(ctx context.Context, workout domain.WorkoutSummary, challenge domain.Challenge, history HistoryReader) (float64, error) {
	if !challenge.Contains(workout.CreatedAt) {
		return 0, nil
	}

	fn, ok := c.strategies[challenge.Type]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedChallengeType, challenge.Type)
	}

	value, err := fn(ctx, workout, challenge, history)
	if err != nil {
		return 0, err
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, nil
	}
	return value, nil
}

// EstimateOneRepMax applies the Brzycki formula. ok is false when reps fall
// outside (0, 37) or the weight is not positive.
func EstimateOneRepMax(weight float64, reps int) (estimate float64, ok bool) {
	if reps <= 0 || reps >= brzyckiRepLimit || weight <= 0 {
		return 0, false
	}
	return weight * (36 / float64(brzyckiRepLimit-reps)), true
}

func volumeContribution(_ context.Context, workout domain.WorkoutSummary, challenge domain.Challenge, _ HistoryReader) (float64, error) {
	if challenge.Unrestricted() {
		return workout.TotalVolume, nil
	}

	var total float64
	for _, exercise := range workout.Exercises {
		if challenge.QualifiesMuscle(exercise.TargetMuscle) {
			total += exercise.Volume()
		}
	}
	return total, nil
}

// durationContribution credits the whole workout once any exercise qualifies.
func durationContribution(_ context.Context, workout domain.WorkoutSummary, challenge domain.Challenge, _ HistoryReader) (float64, error) {
	if !anyQualifying(workout, challenge) {
		return 0, nil
	}
	return workout.DurationMinutes(), nil
}

func oneRepMaxContribution(_ context.Context, workout domain.WorkoutSummary, challenge domain.Challenge, _ HistoryReader) (float64, error) {
	var best float64
	for _, exercise := range workout.Exercises {
		if !challenge.QualifiesMuscle(exercise.TargetMuscle) {
			continue
		}
		if estimate, ok := bestEstimate(exercise, brzyckiRepLimit-1); ok && estimate > best {
			best = estimate
		}
	}
	return best, nil
}

type exerciseKey struct {
	name   string
	muscle string
}

// prCountContribution counts qualifying exercises whose best estimate in this
// workout beats every earlier workout of the same user. History is read once
// and every exercise is evaluated before the count is returned.
func prCountContribution(ctx context.Context, workout domain.WorkoutSummary, challenge domain.Challenge, history HistoryReader) (float64, error) {
	current := make(map[exerciseKey]float64)
	for _, exercise := range workout.Exercises {
		if !challenge.QualifiesMuscle(exercise.TargetMuscle) {
			continue
		}
		estimate, ok := bestEstimate(exercise, prRepCeiling)
		if !ok {
			continue
		}
		key := exerciseKey{name: exercise.Name, muscle: exercise.TargetMuscle}
		if estimate > current[key] {
			current[key] = estimate
		}
	}
	if len(current) == 0 {
		return 0, nil
	}
	if history == nil {
		return 0, errors.New("pr_count requires a workout history reader")
	}

	past, err := history.GetWorkoutHistory(ctx, workout.UserID, workout.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("load workout history: %w", err)
	}

	previous := make(map[exerciseKey]float64, len(current))
	for _, earlier := range past {
		if earlier.ID == workout.ID || !earlier.CreatedAt.Before(workout.CreatedAt) {
			continue
		}
		for _, exercise := range earlier.Exercises {
			key := exerciseKey{name: exercise.Name, muscle: exercise.TargetMuscle}
			if _, tracked := current[key]; !tracked {
				continue
			}
			if estimate, ok := bestEstimate(exercise, prRepCeiling); ok && estimate > previous[key] {
				previous[key] = estimate
			}
		}
	}

	var records int
	for key, estimate := range current {
		if estimate > previous[key] {
			records++
		}
	}
	return float64(records), nil
}

func distanceContribution(_ context.Context, workout domain.WorkoutSummary, challenge domain.Challenge, _ HistoryReader) (float64, error) {
	if !anyQualifying(workout, challenge) {
		return 0, nil
	}
	return workout.DistanceKm, nil
}

func workoutCountContribution(_ context.Context, workout domain.WorkoutSummary, challenge domain.Challenge, _ HistoryReader) (float64, error) {
	if !anyQualifying(workout, challenge) {
		return 0, nil
	}
	return 1, nil
}

func anyQualifying(workout domain.WorkoutSummary, challenge domain.Challenge) bool {
	if challenge.Unrestricted() {
		return true
	}
	for _, exercise := range workout.Exercises {
		if challenge.QualifiesMuscle(exercise.TargetMuscle) {
			return true
		}
	}
	return false
}

// bestEstimate returns the highest Brzycki estimate over sets with at most maxReps reps.
func bestEstimate(exercise domain.ExerciseEntry, maxReps int) (float64, bool) {
	var best float64
	found := false
	for _, set := range exercise.Sets {
		if set.Reps > maxReps {
			continue
		}
		estimate, ok := EstimateOneRepMax(set.Weight, set.Reps)
		if !ok {
			continue
		}
		if !found || estimate > best {
			best = estimate
			found = true
		}
	}
	return best, found
}
