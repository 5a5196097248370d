// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/progress"
)

var (
	_ progress.Store             = (*Store)(nil)
	_ domain.ChallengeRepository = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time used to decide which challenges are active.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps challenges, workouts and trophies in memory. A single mutex
// serialises every mutation, which gives UpdateChallengeProgress and
// JoinChallenge the same read-modify-write guarantee as a row lock.
type Store struct {
	mu         sync.Mutex
	challenges map[string]domain.Challenge
	workouts   map[string][]domain.WorkoutSummary
	tracked    map[string]bool
	trophies   []domain.Trophy
	now        func() time.Time
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		challenges: make(map[string]domain.Challenge),
		workouts:   make(map[string][]domain.WorkoutSummary),
		tracked:    make(map[string]bool),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateChallenge implements domain.ChallengeRepository.
func (s *Store) CreateChallenge(_ context.Context, challenge domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(challenge.ID) == "" {
		challenge.ID = uuid.NewString()
	}
	stored := challenge.Clone()
	if stored.JoinedAt == nil {
		stored.JoinedAt = make(map[string]time.Time)
	}
	s.challenges[stored.ID] = stored
	return nil
}

// GetChallenge returns nil when the challenge does not exist.
func (s *Store) GetChallenge(_ context.Context, challengeID string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[challengeID]
	if !ok {
		return nil, nil
	}
	clone := challenge.Clone()
	return &clone, nil
}

// ListAvailableChallenges returns challenges ending after now, soonest first.
func (s *Store) ListAvailableChallenges(_ context.Context, now time.Time, limit int) ([]domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Challenge, 0)
	for _, challenge := range s.challenges {
		if challenge.Active(now) {
			out = append(out, challenge.Clone())
		}
	}
	sortByEndDate(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetActiveChallenges implements progress.ChallengeReader.
func (s *Store) GetActiveChallenges(_ context.Context, userID string) ([]domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]domain.Challenge, 0)
	for _, challenge := range s.challenges {
		if challenge.IsParticipant(userID) && challenge.Active(now) {
			out = append(out, challenge.Clone())
		}
	}
	sortByEndDate(out)
	return out, nil
}

// UpdateChallengeProgress implements progress.ProgressWriter.
func (s *Store) UpdateChallengeProgress(_ context.Context, challengeID, userID string, fn progress.ProgressFunc) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.challenges[challengeID]
	if !ok {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if !current.IsParticipant(userID) {
		return domain.Challenge{}, domain.ErrNotParticipant
	}

	value, err := fn(current.Clone())
	if err != nil {
		return domain.Challenge{}, err
	}

	updated := current.Clone()
	updated.Progress[userID] = value
	s.challenges[challengeID] = updated
	return updated.Clone(), nil
}

// JoinChallenge implements progress.Membership.
func (s *Store) JoinChallenge(ctx context.Context, challengeID, userID string, joinedAt time.Time, fn progress.InitialProgressFunc) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.challenges[challengeID]
	if !ok {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}

	initial, err := fn(ctx, current.Clone(), lockedHistory{store: s})
	if err != nil {
		return domain.Challenge{}, err
	}

	updated := current.Clone()
	updated.Participants = append(updated.Participants, userID)
	updated.Progress[userID] = initial
	if updated.JoinedAt == nil {
		updated.JoinedAt = make(map[string]time.Time)
	}
	updated.JoinedAt[userID] = joinedAt
	s.challenges[challengeID] = updated
	return updated.Clone(), nil
}

// RecordWorkout stores a workout once. It reports whether the workout still
// needs tracking: true for a new workout or one recorded earlier but never
// marked tracked.
func (s *Store) RecordWorkout(_ context.Context, workout domain.WorkoutSummary) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tracked, seen := s.tracked[workout.ID]; seen {
		return !tracked, nil
	}
	s.tracked[workout.ID] = false
	s.workouts[workout.UserID] = append(s.workouts[workout.UserID], workout)
	return true, nil
}

// MarkWorkoutTracked records that a workout's contribution has been applied.
func (s *Store) MarkWorkoutTracked(_ context.Context, workoutID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.tracked[workoutID]; !seen {
		return fmt.Errorf("workout %s: %w", workoutID, domain.ErrWorkoutNotRecorded)
	}
	s.tracked[workoutID] = true
	return nil
}

// GetWorkoutHistory implements progress.HistoryReader.
func (s *Store) GetWorkoutHistory(_ context.Context, userID string, before time.Time) ([]domain.WorkoutSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked(userID, before), nil
}

func (s *Store) historyLocked(userID string, before time.Time) []domain.WorkoutSummary {
	out := make([]domain.WorkoutSummary, 0)
	for _, workout := range s.workouts[userID] {
		if workout.CreatedAt.Before(before) {
			out = append(out, workout)
		}
	}
	slices.SortFunc(out, func(a, b domain.WorkoutSummary) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// AwardTrophy implements progress.TrophyWriter.
func (s *Store) AwardTrophy(_ context.Context, trophy domain.Trophy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trophies = append(s.trophies, trophy)
	return nil
}

// ListTrophies returns the user's trophies newest first.
func (s *Store) ListTrophies(_ context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Trophy, *domain.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matching := make([]domain.Trophy, 0)
	for _, trophy := range s.trophies {
		if trophy.UserID != userID {
			continue
		}
		if cursor != nil && !olderThanCursor(trophy, *cursor) {
			continue
		}
		matching = append(matching, trophy)
	}
	slices.SortFunc(matching, func(a, b domain.Trophy) int {
		if c := b.AwardedAt.Compare(a.AwardedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	if limit <= 0 || len(matching) <= limit {
		return matching, nil, nil
	}
	page := matching[:limit]
	last := page[len(page)-1]
	return page, &domain.Cursor{At: last.AwardedAt, ID: last.ID}, nil
}

// Trophies returns a copy of every trophy stored, in award order.
func (s *Store) Trophies() []domain.Trophy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.trophies)
}

// olderThanCursor reports whether trophy sorts strictly after the cursor in newest-first order.
func olderThanCursor(trophy domain.Trophy, cursor domain.Cursor) bool {
	if trophy.AwardedAt.Equal(cursor.At) {
		return trophy.ID < cursor.ID
	}
	return trophy.AwardedAt.Before(cursor.At)
}

func sortByEndDate(challenges []domain.Challenge) {
	slices.SortFunc(challenges, func(a, b domain.Challenge) int {
		if c := a.EndDate.Compare(b.EndDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// lockedHistory reads workouts while the store mutex is already held.
type lockedHistory struct {
	store *Store
}

func (h lockedHistory) GetWorkoutHistory(_ context.Context, userID string, before time.Time) ([]domain.WorkoutSummary, error) {
	return h.store.historyLocked(userID, before), nil
}
