package progress_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/persistence/memory"
	"example.com/challenges/internal/progress"
)

var (
	testNow        = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	challengeStart = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	challengeEnd   = time.Date(2026, time.March, 31, 23, 59, 59, 0, time.UTC)
)

func fixedClock() progress.Clock {
	return progress.ClockFunc(func() time.Time { return testNow })
}

func newChallenge(id string, typ domain.ChallengeType, scope domain.Scope, goal float64, participants ...string) domain.Challenge {
	progressMap := make(map[string]float64, len(participants))
	for _, p := range participants {
		progressMap[p] = 0
	}
	return domain.Challenge{
		ID:           id,
		Title:        "Challenge " + id,
		Description:  "test challenge",
		Type:         typ,
		Scope:        scope,
		Goal:         goal,
		Unit:         "kg",
		StartDate:    challengeStart,
		EndDate:      challengeEnd,
		Participants: participants,
		Progress:     progressMap,
		JoinedAt:     map[string]time.Time{},
	}
}

func chestAndLegsWorkout(id, userID string, at time.Time) domain.WorkoutSummary {
	return domain.WorkoutSummary{
		ID:          id,
		UserID:      userID,
		CreatedAt:   at,
		Duration:    45 * time.Minute,
		TotalVolume: 2800,
		Exercises: []domain.ExerciseEntry{
			{
				Name:         "Bench Press",
				TargetMuscle: "chest",
				Sets:         []domain.SetEntry{{Weight: 100, Reps: 10}, {Weight: 100, Reps: 8}},
			},
			{
				Name:         "Squat",
				TargetMuscle: "legs",
				Sets:         []domain.SetEntry{{Weight: 200, Reps: 5}},
			},
		},
	}
}

func volumeWorkout(id, userID string, at time.Time, volume float64) domain.WorkoutSummary {
	return domain.WorkoutSummary{
		ID:          id,
		UserID:      userID,
		CreatedAt:   at,
		Duration:    30 * time.Minute,
		TotalVolume: volume,
		Exercises: []domain.ExerciseEntry{
			{Name: "Deadlift", TargetMuscle: "back", Sets: []domain.SetEntry{{Weight: volume, Reps: 1}}},
		},
	}
}

func newMemoryStore(challenges ...domain.Challenge) *memory.Store {
	store := memory.NewStore(memory.WithClock(func() time.Time { return testNow }))
	for _, c := range challenges {
		if err := store.CreateChallenge(context.Background(), c); err != nil {
			panic(err)
		}
	}
	return store
}

// historyStub serves a fixed workout list.
type historyStub struct {
	workouts []domain.WorkoutSummary
	err      error
	// unfiltered returns every workout regardless of the before bound.
	unfiltered bool
	calls      int
}

func (h *historyStub) GetWorkoutHistory(_ context.Context, userID string, before time.Time) ([]domain.WorkoutSummary, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	out := make([]domain.WorkoutSummary, 0, len(h.workouts))
	for _, w := range h.workouts {
		if w.UserID != userID {
			continue
		}
		if h.unfiltered || w.CreatedAt.Before(before) {
			out = append(out, w)
		}
	}
	return out, nil
}

// recordingNotifier captures completion events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Trophy
}

func (n *recordingNotifier) NotifyChallengeCompleted(_ domain.Challenge, trophy domain.Trophy) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, trophy)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// faultyStore wraps the memory store to inject failures and count writes.
type faultyStore struct {
	*memory.Store
	failUpdateFor map[string]error
	failTrophyFor map[string]error
	updates       int
}

func (s *faultyStore) UpdateChallengeProgress(ctx context.Context, challengeID, userID string, fn progress.ProgressFunc) (domain.Challenge, error) {
	s.updates++
	if err, ok := s.failUpdateFor[challengeID]; ok {
		return domain.Challenge{}, err
	}
	return s.Store.UpdateChallengeProgress(ctx, challengeID, userID, fn)
}

func (s *faultyStore) AwardTrophy(ctx context.Context, trophy domain.Trophy) error {
	if err, ok := s.failTrophyFor[trophy.UserID]; ok {
		return err
	}
	return s.Store.AwardTrophy(ctx, trophy)
}

var errStoreUnavailable = errors.New("store unavailable")
