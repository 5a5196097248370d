// Package domain defines the challenge, workout and trophy model together with
// the catalogue operations that sit beside the progress engine.
package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChallengeRepository captures catalogue persistence operations.
type ChallengeRepository interface {
	CreateChallenge(ctx context.Context, challenge Challenge) error
	GetChallenge(ctx context.Context, challengeID string) (*Challenge, error)
	ListAvailableChallenges(ctx context.Context, now time.Time, limit int) ([]Challenge, error)
	ListTrophies(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Trophy, *Cursor, error)
}

// Cursor models the pagination token for time-ordered listings.
type Cursor struct {
	At time.Time
	ID string
}

// Service orchestrates challenge catalogue workflows.
type Service struct {
	repo ChallengeRepository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo ChallengeRepository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// CreateChallengeInput captures the payload from the API layer.
type CreateChallengeInput struct {
	Title             string
	Description       string
	Type              ChallengeType
	Scope             Scope
	Goal              float64
	Unit              string
	StartDate         time.Time
	EndDate           time.Time
	QualifyingMuscles []string
	ImageURL          string
	CreatedBy         string
}

// CreateChallenge validates and stores a new challenge with no participants.
func (s *Service) CreateChallenge(ctx context.Context, input CreateChallengeInput) (*Challenge, error) {
	if strings.TrimSpace(input.CreatedBy) == "" {
		return nil, ErrMissingUserID
	}

	muscles := make([]string, 0, len(input.QualifyingMuscles))
	for _, muscle := range input.QualifyingMuscles {
		if trimmed := strings.TrimSpace(muscle); trimmed != "" {
			muscles = append(muscles, trimmed)
		}
	}

	challenge := Challenge{
		ID:                uuid.NewString(),
		Title:             strings.TrimSpace(input.Title),
		Description:       input.Description,
		Type:              input.Type,
		Scope:             input.Scope,
		Goal:              input.Goal,
		Unit:              input.Unit,
		StartDate:         input.StartDate.UTC(),
		EndDate:           input.EndDate.UTC(),
		QualifyingMuscles: muscles,
		Participants:      []string{},
		Progress:          map[string]float64{},
		JoinedAt:          map[string]time.Time{},
		ImageURL:          input.ImageURL,
		CreatedBy:         input.CreatedBy,
		CreatedAt:         s.now(),
	}
	if err := challenge.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.CreateChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// GetChallenge fetches by ID.
func (s *Service) GetChallenge(ctx context.Context, challengeID string) (*Challenge, error) {
	challenge, err := s.repo.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, ErrChallengeNotFound
	}
	return challenge, nil
}

// ListAvailableChallenges returns challenges that have not ended yet.
func (s *Service) ListAvailableChallenges(ctx context.Context, limit int) ([]Challenge, error) {
	return s.repo.ListAvailableChallenges(ctx, s.now(), limit)
}

// ListTrophies fetches a user's trophies with cursor pagination, newest first.
func (s *Service) ListTrophies(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Trophy, *Cursor, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil, ErrMissingUserID
	}
	return s.repo.ListTrophies(ctx, userID, cursor, limit)
}
