package domain

import "time"

// SetEntry is a single performed set.
type SetEntry struct {
	Weight float64 `json:"weight"`
	Reps   int     `json:"reps"`
}

// Volume returns weight multiplied by reps.
func (s SetEntry) Volume() float64 {
	return s.Weight * float64(s.Reps)
}

// ExerciseEntry groups the sets performed for one exercise.
type ExerciseEntry struct {
	Name         string     `json:"name"`
	TargetMuscle string     `json:"target_muscle"`
	Sets         []SetEntry `json:"sets"`
}

// Volume sums the volume of every set in the entry.
func (e ExerciseEntry) Volume() float64 {
	var total float64
	for _, set := range e.Sets {
		total += set.Volume()
	}
	return total
}

// WorkoutSummary represents a completed workout as saved by the client.
// It is never mutated once recorded.
type WorkoutSummary struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Duration    time.Duration   `json:"duration"`
	TotalVolume float64         `json:"total_volume"`
	DistanceKm  float64         `json:"distance_km,omitempty"`
	Exercises   []ExerciseEntry `json:"exercises"`
}

// DurationMinutes returns the workout duration expressed in minutes.
func (w WorkoutSummary) DurationMinutes() float64 {
	return w.Duration.Minutes()
}
