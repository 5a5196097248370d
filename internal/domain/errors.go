package domain

import "errors"

var (
	// ErrChallengeNotFound is returned when a referenced challenge does not exist.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrMissingUserID is returned when an operation requires a user identity and none was supplied.
	ErrMissingUserID = errors.New("user id is required")
	// ErrMissingWorkoutID is returned when a workout has no identity.
	ErrMissingWorkoutID = errors.New("workout id is required")
	// ErrInvalidChallenge wraps challenge validation failures.
	ErrInvalidChallenge = errors.New("invalid challenge")
	// ErrAlreadyParticipant is returned when a user joins a challenge twice.
	ErrAlreadyParticipant = errors.New("user already participates in challenge")
	// ErrNotParticipant is returned when a user is not part of a challenge.
	ErrNotParticipant = errors.New("user does not participate in challenge")
	// ErrChallengeEnded is returned when joining a challenge whose end date has passed.
	ErrChallengeEnded = errors.New("challenge has ended")
	// ErrWorkoutNotRecorded is returned when marking a workout that was never stored.
	ErrWorkoutNotRecorded = errors.New("workout not recorded")
	// ErrMalformedRecord marks a stored record that could not be decoded.
	ErrMalformedRecord = errors.New("malformed record")
)
