// Package events defines the payloads exchanged with other services.
package events

import "time"

// WorkoutLogged is consumed from the workout service when a session is saved.
type WorkoutLogged struct {
	WorkoutID   string           `json:"workout_id"`
	UserID      string           `json:"user_id"`
	CreatedAt   time.Time        `json:"created_at"`
	DurationSec int              `json:"duration_sec"`
	TotalVolume float64          `json:"total_volume"`
	DistanceKm  float64          `json:"distance_km,omitempty"`
	Exercises   []LoggedExercise `json:"exercises"`
	Version     string           `json:"version"`
}

// LoggedExercise is one exercise inside a WorkoutLogged event.
type LoggedExercise struct {
	Name         string      `json:"name"`
	TargetMuscle string      `json:"target_muscle"`
	Sets         []LoggedSet `json:"sets"`
}

// LoggedSet is one performed set.
type LoggedSet struct {
	Weight float64 `json:"weight"`
	Reps   int     `json:"reps"`
}
