package domain

import "time"

// TrophyType discriminates award records.
type TrophyType string

const (
	TrophyTypeChallenge   TrophyType = "challenge"
	TrophyTypeAchievement TrophyType = "achievement"
	TrophyTypeMilestone   TrophyType = "milestone"
)

// Metadata keys recorded on challenge trophies.
const (
	TrophyMetaChallengeID = "challenge_id"
	TrophyMetaGoal        = "goal"
	TrophyMetaScope       = "scope"
	TrophyMetaRank        = "rank"
)

// Trophy is an immutable award issued to one user.
type Trophy struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ImageURL    string            `json:"image_url"`
	AwardedAt   time.Time         `json:"awarded_at"`
	Type        TrophyType        `json:"type"`
	Metadata    map[string]string `json:"metadata"`
}

// ChallengeID returns the source challenge recorded in the metadata.
func (t Trophy) ChallengeID() string {
	return t.Metadata[TrophyMetaChallengeID]
}
