package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ChallengeType selects how a workout contributes to a challenge.
type ChallengeType string

const (
	ChallengeTypeVolume    ChallengeType = "volume"
	ChallengeTypeDuration  ChallengeType = "duration"
	ChallengeTypeOneRepMax ChallengeType = "one_rep_max"
	ChallengeTypePRCount   ChallengeType = "pr_count"

	// Deprecated: kept for challenges created under the summation-only rule set.
	ChallengeTypeDistance ChallengeType = "distance"
	// Deprecated: kept for challenges created under the summation-only rule set.
	ChallengeTypeWorkoutCount ChallengeType = "workout_count"
)

// Deprecated reports whether the type belongs to the legacy rule set.
func (t ChallengeType) Deprecated() bool {
	return t == ChallengeTypeDistance || t == ChallengeTypeWorkoutCount
}

// ParseChallengeType validates a stored type value.
func ParseChallengeType(value string) (ChallengeType, error) {
	t := ChallengeType(strings.TrimSpace(value))
	switch t {
	case ChallengeTypeVolume, ChallengeTypeDuration, ChallengeTypeOneRepMax, ChallengeTypePRCount,
		ChallengeTypeDistance, ChallengeTypeWorkoutCount:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown challenge type %q", ErrMalformedRecord, value)
}

// Scope is the aggregation policy of a challenge.
type Scope string

const (
	// ScopeGroup sums every participant's contributions toward one shared goal.
	ScopeGroup Scope = "group"
	// ScopeCompetitive keeps each participant's best single contribution.
	ScopeCompetitive Scope = "competitive"

	// Deprecated: per-user summation from the legacy rule set.
	ScopeCumulative Scope = "cumulative"
)

// Deprecated reports whether the scope belongs to the legacy rule set.
func (s Scope) Deprecated() bool {
	return s == ScopeCumulative
}

// ParseScope validates a stored scope value.
func ParseScope(value string) (Scope, error) {
	s := Scope(strings.TrimSpace(value))
	switch s {
	case ScopeGroup, ScopeCompetitive, ScopeCumulative:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrMalformedRecord, value)
}

// Challenge is a time-bounded goal shared by its participants.
type Challenge struct {
	ID                string               `json:"id"`
	Title             string               `json:"title"`
	Description       string               `json:"description"`
	Type              ChallengeType        `json:"type"`
	Scope             Scope                `json:"scope"`
	Goal              float64              `json:"goal"`
	Unit              string               `json:"unit"`
	StartDate         time.Time            `json:"start_date"`
	EndDate           time.Time            `json:"end_date"`
	QualifyingMuscles []string             `json:"qualifying_muscles"`
	Participants      []string             `json:"participants"`
	Progress          map[string]float64   `json:"progress"`
	JoinedAt          map[string]time.Time `json:"joined_at,omitempty"`
	ImageURL          string               `json:"image_url,omitempty"`
	CreatedBy         string               `json:"created_by,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

// Contains reports whether ts falls inside [StartDate, EndDate], both ends inclusive.
func (c Challenge) Contains(ts time.Time) bool {
	return !ts.Before(c.StartDate) && !ts.After(c.EndDate)
}

// Active reports whether the challenge is still running at now.
func (c Challenge) Active(now time.Time) bool {
	return c.EndDate.After(now)
}

// Unrestricted reports whether every exercise qualifies.
func (c Challenge) Unrestricted() bool {
	return len(c.QualifyingMuscles) == 0
}

// QualifiesMuscle matches an exercise's target muscle against the challenge filter.
// Matching is exact; an empty filter accepts everything.
func (c Challenge) QualifiesMuscle(muscle string) bool {
	if c.Unrestricted() {
		return true
	}
	return slices.Contains(c.QualifyingMuscles, muscle)
}

// IsParticipant reports whether userID has joined the challenge.
func (c Challenge) IsParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// ProgressFor returns the stored progress of userID, zero when absent.
func (c Challenge) ProgressFor(userID string) float64 {
	return c.Progress[userID]
}

// GroupTotal sums the stored progress of every participant.
func (c Challenge) GroupTotal() float64 {
	var total float64
	for _, participant := range c.Participants {
		total += c.Progress[participant]
	}
	return total
}

// Rank returns the competition rank of userID: one plus the number of
// participants with strictly greater progress.
func (c Challenge) Rank(userID string) int {
	mine := c.Progress[userID]
	rank := 1
	for _, participant := range c.Participants {
		if participant == userID {
			continue
		}
		if c.Progress[participant] > mine {
			rank++
		}
	}
	return rank
}

// ShouldAward reports whether userID is eligible for a trophy from this challenge at all.
func (c Challenge) ShouldAward(userID string) bool {
	return c.Goal > 0 && c.IsParticipant(userID)
}

// GoalLabel renders the goal and its unit, e.g. "5000 kg".
func (c Challenge) GoalLabel() string {
	label := fmt.Sprintf("%g", c.Goal)
	if c.Unit != "" {
		label += " " + c.Unit
	}
	return label
}

// Clone returns a deep copy safe to mutate.
func (c Challenge) Clone() Challenge {
	out := c
	out.QualifyingMuscles = slices.Clone(c.QualifyingMuscles)
	out.Participants = slices.Clone(c.Participants)
	out.Progress = make(map[string]float64, len(c.Progress))
	for k, v := range c.Progress {
		out.Progress[k] = v
	}
	if c.JoinedAt != nil {
		out.JoinedAt = make(map[string]time.Time, len(c.JoinedAt))
		for k, v := range c.JoinedAt {
			out.JoinedAt[k] = v
		}
	}
	return out
}

// Validate checks the fields required to create a challenge.
func (c Challenge) Validate() error {
	switch {
	case strings.TrimSpace(c.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidChallenge)
	case c.Goal <= 0:
		return fmt.Errorf("%w: goal must be positive", ErrInvalidChallenge)
	case c.StartDate.IsZero() || c.EndDate.IsZero():
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidChallenge)
	case c.EndDate.Before(c.StartDate):
		return fmt.Errorf("%w: end date precedes start date", ErrInvalidChallenge)
	}
	if _, err := ParseChallengeType(string(c.Type)); err != nil {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidChallenge, c.Type)
	}
	if _, err := ParseScope(string(c.Scope)); err != nil {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidChallenge, c.Scope)
	}
	return nil
}

// Standing is one leaderboard row.
type Standing struct {
	UserID   string  `json:"user_id"`
	Progress float64 `json:"progress"`
	Rank     int     `json:"rank"`
}

// Standings orders participants by progress, highest first, using competition ranking.
func (c Challenge) Standings() []Standing {
	out := make([]Standing, 0, len(c.Participants))
	for _, participant := range c.Participants {
		out = append(out, Standing{
			UserID:   participant,
			Progress: c.Progress[participant],
			Rank:     c.Rank(participant),
		})
	}
	slices.SortStableFunc(out, func(a, b Standing) int {
		if a.Rank != b.Rank {
			return a.Rank - b.Rank
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}
