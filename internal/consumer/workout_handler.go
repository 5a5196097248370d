package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/events"
	"example.com/challenges/internal/progress"
)

// EventWorkoutLogged is the event type emitted by the workout service.
const EventWorkoutLogged = "workout.logged"

// WorkoutRecorder stores workouts exactly once. RecordWorkout reports false
// only when the workout was already marked tracked.
type WorkoutRecorder interface {
	RecordWorkout(ctx context.Context, workout domain.WorkoutSummary) (bool, error)
	MarkWorkoutTracked(ctx context.Context, workoutID string) error
}

// WorkoutTracker feeds a recorded workout into challenge progress.
type WorkoutTracker interface {
	TrackWorkout(ctx context.Context, workout domain.WorkoutSummary) (progress.Report, error)
}

// WorkoutHandler records workout events and tracks them against challenges.
type WorkoutHandler struct {
	recorder WorkoutRecorder
	tracker  WorkoutTracker
	logger   *logrus.Entry
}

// NewWorkoutHandler constructs a WorkoutHandler.
func NewWorkoutHandler(recorder WorkoutRecorder, tracker WorkoutTracker, logger *logrus.Entry) *WorkoutHandler {
	if logger == nil {
		logger = logrus.WithField("component", "workout-handler")
	}
	return &WorkoutHandler{recorder: recorder, tracker: tracker, logger: logger}
}

// Handle implements Handler. Messages carrying another event type are ignored;
// messages without an event_type header are treated as workout events.
func (h *WorkoutHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != "" && msg.EventType != EventWorkoutLogged {
		return nil
	}

	var evt events.WorkoutLogged
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return fmt.Errorf("%w: decode workout: %v", domain.ErrMalformedRecord, err)
	}

	workout, err := WorkoutFromEvent(evt, msg.Timestamp)
	if err != nil {
		return err
	}

	pending, err := h.recorder.RecordWorkout(ctx, workout)
	if err != nil {
		return fmt.Errorf("record workout: %w", err)
	}
	fields := logrus.Fields{"workout_id": workout.ID, "user_id": workout.UserID}
	if !pending {
		h.logger.WithFields(fields).Debug("workout already tracked")
		recordReplaySkipped()
		return nil
	}

	report, err := h.tracker.TrackWorkout(ctx, workout)
	if err != nil && len(report.Outcomes) == 0 {
		// Nothing was applied, so the workout stays pending for redelivery.
		return fmt.Errorf("track workout: %w", err)
	}
	if err != nil {
		// Per-challenge failures are already logged by the engine; the
		// remaining challenges were applied and must not be replayed.
		fields["failed"] = countFailed(report)
	}
	if markErr := h.recorder.MarkWorkoutTracked(ctx, workout.ID); markErr != nil {
		// Progress is already applied. Retrying would count it twice.
		h.logger.WithFields(fields).WithError(markErr).Error("mark workout tracked")
	}
	fields["challenges"] = len(report.Outcomes)
	fields["trophies"] = len(report.Trophies())
	h.logger.WithFields(fields).Debug("workout tracked")
	return nil
}

// WorkoutFromEvent converts a WorkoutLogged payload into a domain summary.
// A zero CreatedAt falls back to the Kafka record timestamp.
func WorkoutFromEvent(evt events.WorkoutLogged, fallback time.Time) (domain.WorkoutSummary, error) {
	if strings.TrimSpace(evt.WorkoutID) == "" {
		return domain.WorkoutSummary{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, domain.ErrMissingWorkoutID)
	}
	if strings.TrimSpace(evt.UserID) == "" {
		return domain.WorkoutSummary{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, domain.ErrMissingUserID)
	}

	createdAt := evt.CreatedAt
	if createdAt.IsZero() {
		createdAt = fallback
	}
	if createdAt.IsZero() {
		return domain.WorkoutSummary{}, fmt.Errorf("%w: workout %s has no timestamp", domain.ErrMalformedRecord, evt.WorkoutID)
	}

	exercises := make([]domain.ExerciseEntry, 0, len(evt.Exercises))
	for _, ex := range evt.Exercises {
		sets := make([]domain.SetEntry, 0, len(ex.Sets))
		for _, set := range ex.Sets {
			sets = append(sets, domain.SetEntry{Weight: set.Weight, Reps: set.Reps})
		}
		exercises = append(exercises, domain.ExerciseEntry{
			Name:         ex.Name,
			TargetMuscle: ex.TargetMuscle,
			Sets:         sets,
		})
	}

	return domain.WorkoutSummary{
		ID:          evt.WorkoutID,
		UserID:      evt.UserID,
		CreatedAt:   createdAt.UTC(),
		Duration:    time.Duration(evt.DurationSec) * time.Second,
		TotalVolume: evt.TotalVolume,
		DistanceKm:  evt.DistanceKm,
		Exercises:   exercises,
	}, nil
}

func countFailed(report progress.Report) int {
	var failed int
	for _, outcome := range report.Outcomes {
		if outcome.Status == progress.OutcomeFailed {
			failed++
		}
	}
	return failed
}
