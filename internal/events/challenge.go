package events

import "time"

// ChallengeProgressUpdated is emitted through the outbox after a participant's progress changes.
type ChallengeProgressUpdated struct {
	ChallengeID string    `json:"challenge_id"`
	UserID      string    `json:"user_id"`
	Scope       string    `json:"scope"`
	Progress    float64   `json:"progress"`
	GroupTotal  float64   `json:"group_total"`
	Goal        float64   `json:"goal"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TrophyAwarded is emitted through the outbox when a trophy is persisted.
type TrophyAwarded struct {
	TrophyID    string            `json:"trophy_id"`
	UserID      string            `json:"user_id"`
	ChallengeID string            `json:"challenge_id"`
	Title       string            `json:"title"`
	ImageURL    string            `json:"image_url"`
	AwardedAt   time.Time         `json:"awarded_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ChallengeCompleted is the realtime notification pushed to a trophy recipient.
type ChallengeCompleted struct {
	ChallengeID    string    `json:"challenge_id"`
	ChallengeTitle string    `json:"challenge_title"`
	Scope          string    `json:"scope"`
	UserID         string    `json:"user_id"`
	TrophyID       string    `json:"trophy_id"`
	TrophyTitle    string    `json:"trophy_title"`
	Rank           string    `json:"rank,omitempty"`
	AwardedAt      time.Time `json:"awarded_at"`
}
