package progress_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/progress"
)

func competitiveField() domain.Challenge {
	challenge := newChallenge("c1", domain.ChallengeTypeOneRepMax, domain.ScopeCompetitive, 1000, "a", "b", "c", "d", "e")
	challenge.Progress = map[string]float64{"a": 500, "b": 400, "c": 300, "d": 200, "e": 50}
	return challenge
}

func TestAwardDispatcher_CompetitivePodiumGate(t *testing.T) {
	store := newMemoryStore()
	dispatcher := progress.NewAwardDispatcher(store, nil, fixedClock(), nil)
	challenge := competitiveField()

	trophies, err := dispatcher.Dispatch(context.Background(), challenge, "e")
	require.NoError(t, err)
	assert.Empty(t, trophies, "fifth place below the goal earns nothing")

	trophies, err = dispatcher.Dispatch(context.Background(), challenge, "c")
	require.NoError(t, err)
	require.Len(t, trophies, 1)
	assert.Equal(t, "c", trophies[0].UserID)
	assert.Equal(t, "3", trophies[0].Metadata[domain.TrophyMetaRank])
}

func TestAwardDispatcher_CompetitiveGoalMetOutsidePodium(t *testing.T) {
	store := newMemoryStore()
	dispatcher := progress.NewAwardDispatcher(store, nil, fixedClock(), nil)
	challenge := competitiveField()
	challenge.Goal = 40

	trophies, err := dispatcher.Dispatch(context.Background(), challenge, "e")
	require.NoError(t, err)
	require.Len(t, trophies, 1)
	assert.Equal(t, "5", trophies[0].Metadata[domain.TrophyMetaRank])
	assert.Len(t, store.Trophies(), 1)
}

func TestAwardDispatcher_IneligibleUsers(t *testing.T) {
	store := newMemoryStore()
	dispatcher := progress.NewAwardDispatcher(store, &recordingNotifier{}, fixedClock(), nil)

	challenge := competitiveField()
	trophies, err := dispatcher.Dispatch(context.Background(), challenge, "stranger")
	require.NoError(t, err)
	assert.Empty(t, trophies)

	challenge.Goal = 0
	trophies, err = dispatcher.Dispatch(context.Background(), challenge, "a")
	require.NoError(t, err)
	assert.Empty(t, trophies)
	assert.Empty(t, store.Trophies())
}

func TestAwardDispatcher_DefaultImage(t *testing.T) {
	store := newMemoryStore()
	dispatcher := progress.NewAwardDispatcher(store, nil, fixedClock(), nil)

	challenge := newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, 10, "u1")
	trophies, err := dispatcher.Dispatch(context.Background(), challenge, "u1")
	require.NoError(t, err)
	require.Len(t, trophies, 1)
	assert.Equal(t, "trophies/challenge.png", trophies[0].ImageURL)

	challenge.ImageURL = "https://cdn.example.com/badge.png"
	trophies, err = dispatcher.Dispatch(context.Background(), challenge, "u1")
	require.NoError(t, err)
	assert.Equal(t, challenge.ImageURL, trophies[0].ImageURL)
}
