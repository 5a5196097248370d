package progress

import (
	"context"
	"time"

	"example.com/challenges/internal/domain"
)

// ChallengeReader lists the challenges a user currently participates in.
type ChallengeReader interface {
	// GetActiveChallenges returns challenges where userID is a participant and
	// the end date is still in the future.
	GetActiveChallenges(ctx context.Context, userID string) ([]domain.Challenge, error)
}

// ProgressFunc computes a participant's new stored progress from the locked
// current state of the challenge. Returning an error aborts the update.
type ProgressFunc func(current domain.Challenge) (float64, error)

// ProgressWriter applies read-modify-write updates to a challenge.
type ProgressWriter interface {
	// UpdateChallengeProgress loads the challenge under the store's transactional
	// lock, calls fn, writes the returned value as userID's progress and returns
	// the updated challenge.
	UpdateChallengeProgress(ctx context.Context, challengeID, userID string, fn ProgressFunc) (domain.Challenge, error)
}

// HistoryReader exposes a user's previously recorded workouts.
type HistoryReader interface {
	// GetWorkoutHistory returns workouts of userID created strictly before the given time.
	GetWorkoutHistory(ctx context.Context, userID string, before time.Time) ([]domain.WorkoutSummary, error)
}

// TrophyWriter persists award records.
type TrophyWriter interface {
	AwardTrophy(ctx context.Context, trophy domain.Trophy) error
}

// InitialProgressFunc folds a joining user's earlier workouts into a starting
// progress value. It runs inside the membership transaction and receives a
// history reader bound to it.
type InitialProgressFunc func(ctx context.Context, challenge domain.Challenge, history HistoryReader) (float64, error)

// Membership adds participants to challenges.
type Membership interface {
	JoinChallenge(ctx context.Context, challengeID, userID string, joinedAt time.Time, fn InitialProgressFunc) (domain.Challenge, error)
}

// ChallengeGetter fetches one challenge by ID.
type ChallengeGetter interface {
	GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error)
}

// Store is the full set of persistence collaborators used by the Engine.
type Store interface {
	ChallengeReader
	ChallengeGetter
	ProgressWriter
	HistoryReader
	TrophyWriter
	Membership
}

// Notifier receives completion events. Implementations must not block.
type Notifier interface {
	NotifyChallengeCompleted(challenge domain.Challenge, trophy domain.Trophy)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns UTC wall-clock time.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
