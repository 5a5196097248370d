package progress_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/progress"
)

func newEngine(store progress.Store, notifier progress.Notifier, opts ...progress.Option) *progress.Engine {
	logger, _ := logtest.NewNullLogger()
	base := []progress.Option{
		progress.WithClock(fixedClock()),
		progress.WithLogger(logrus.NewEntry(logger)),
	}
	return progress.NewEngine(store, notifier, append(base, opts...)...)
}

func TestEngine_TrackWorkoutRequiresIdentity(t *testing.T) {
	engine := newEngine(newMemoryStore(), nil)

	_, err := engine.TrackWorkout(context.Background(), volumeWorkout("w1", " ", testNow, 10))
	require.ErrorIs(t, err, domain.ErrMissingUserID)

	_, err = engine.TrackWorkout(context.Background(), volumeWorkout("", "u1", testNow, 10))
	require.ErrorIs(t, err, domain.ErrMissingWorkoutID)
}

func TestEngine_GroupProgressSumsAcrossParticipants(t *testing.T) {
	store := newMemoryStore(newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, 1000, "u1", "u2"))
	engine := newEngine(store, nil)
	ctx := context.Background()

	_, err := engine.TrackWorkout(ctx, volumeWorkout("w1", "u1", testNow, 50))
	require.NoError(t, err)
	report, err := engine.TrackWorkout(ctx, volumeWorkout("w2", "u2", testNow, 30))
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, progress.OutcomeUpdated, report.Outcomes[0].Status)

	challenge, err := store.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 50, challenge.ProgressFor("u1"), 0.0001)
	assert.InDelta(t, 30, challenge.ProgressFor("u2"), 0.0001)
	assert.InDelta(t, 80, challenge.GroupTotal(), 0.0001)
}

// groupTotalNotifier records the group total of each completion snapshot.
type groupTotalNotifier struct {
	mu     sync.Mutex
	totals map[float64]int
}

func (n *groupTotalNotifier) NotifyChallengeCompleted(challenge domain.Challenge, _ domain.Trophy) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.totals[challenge.GroupTotal()]++
}

func TestEngine_ConcurrentGroupTrackingLosesNoUpdates(t *testing.T) {
	const (
		users       = 20
		perUser     = 10
		volume      = 10.0
		goal        = 1500.0
		finalTotal  = users * perUser * volume
		completions = int((finalTotal-goal)/volume) + 1
	)

	participants := make([]string, 0, users)
	for i := 0; i < users; i++ {
		participants = append(participants, fmt.Sprintf("u%02d", i))
	}
	store := newMemoryStore(newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, goal, participants...))
	notifier := &groupTotalNotifier{totals: make(map[float64]int)}
	engine := newEngine(store, notifier)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		errs      []error
	)
	for _, user := range participants {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(user string, i int) {
				defer wg.Done()
				report, err := engine.TrackWorkout(ctx, volumeWorkout(fmt.Sprintf("%s-w%d", user, i), user, testNow, volume))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
				}
				for _, outcome := range report.Outcomes {
					if outcome.Status == progress.OutcomeCompleted {
						completed++
					}
				}
			}(user, i)
		}
	}
	wg.Wait()
	require.Empty(t, errs)

	challenge, err := store.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, finalTotal, challenge.GroupTotal(), 0.0001)
	for _, user := range participants {
		assert.InDelta(t, perUser*volume, challenge.ProgressFor(user), 0.0001, user)
	}

	// Serialised updates see every total from the goal upward exactly once.
	assert.Equal(t, completions, completed)
	assert.Len(t, store.Trophies(), completions*users)
	totals := make([]float64, 0, len(notifier.totals))
	for total, count := range notifier.totals {
		totals = append(totals, total)
		assert.Equal(t, users, count, "one trophy per participant at total %v", total)
	}
	sort.Float64s(totals)
	require.Len(t, totals, completions)
	assert.InDelta(t, goal, totals[0], 0.0001, "completion is inclusive at the goal")
	assert.InDelta(t, finalTotal, totals[len(totals)-1], 0.0001)
}

func TestEngine_GroupCompletionAwardsEveryParticipant(t *testing.T) {
	challenge := newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, 100, "u1", "u2", "u3")
	challenge.Progress["u2"] = 60
	store := newMemoryStore(challenge)
	notifier := &recordingNotifier{}
	engine := newEngine(store, notifier)

	report, err := engine.TrackWorkout(context.Background(), volumeWorkout("w1", "u1", testNow, 50))
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, progress.OutcomeCompleted, report.Outcomes[0].Status)

	trophies := store.Trophies()
	require.Len(t, trophies, 3)
	recipients := make([]string, 0, len(trophies))
	for _, trophy := range trophies {
		recipients = append(recipients, trophy.UserID)
		assert.Equal(t, domain.TrophyTypeChallenge, trophy.Type)
		assert.Equal(t, "Challenge c1", trophy.Title)
		assert.Equal(t, testNow, trophy.AwardedAt)
		assert.Equal(t, "c1", trophy.ChallengeID())
		assert.Equal(t, "100 kg", trophy.Metadata[domain.TrophyMetaGoal])
		assert.Equal(t, "group", trophy.Metadata[domain.TrophyMetaScope])
		assert.NotContains(t, trophy.Metadata, domain.TrophyMetaRank)
		assert.NotEmpty(t, trophy.ID)
	}
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, recipients)
	assert.Equal(t, 3, notifier.count())
	assert.Len(t, report.Trophies(), 3)
}

func TestEngine_CompetitiveCompletionAwardsOnlyTheTrigger(t *testing.T) {
	challenge := newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeCompetitive, 100, "u1", "u2")
	challenge.Progress["u2"] = 150
	store := newMemoryStore(challenge)
	engine := newEngine(store, &recordingNotifier{})

	report, err := engine.TrackWorkout(context.Background(), volumeWorkout("w1", "u1", testNow, 120))
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeCompleted, report.Outcomes[0].Status)

	trophies := store.Trophies()
	require.Len(t, trophies, 1)
	assert.Equal(t, "u1", trophies[0].UserID)
	assert.Equal(t, "2", trophies[0].Metadata[domain.TrophyMetaRank])
	assert.Equal(t, "competitive", trophies[0].Metadata[domain.TrophyMetaScope])
}

func TestEngine_CompetitiveKeepsBestAttempt(t *testing.T) {
	store := newMemoryStore(newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeCompetitive, 1000, "u1"))
	engine := newEngine(store, nil)
	ctx := context.Background()

	_, err := engine.TrackWorkout(ctx, volumeWorkout("w1", "u1", testNow, 80))
	require.NoError(t, err)
	_, err = engine.TrackWorkout(ctx, volumeWorkout("w2", "u1", testNow, 40))
	require.NoError(t, err)

	challenge, err := store.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 80, challenge.ProgressFor("u1"), 0.0001)
}

func TestEngine_ReprocessingACompletedChallengeAwardsAgain(t *testing.T) {
	store := newMemoryStore(newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, 100, "u1"))
	engine := newEngine(store, nil)
	workout := volumeWorkout("w1", "u1", testNow, 120)

	_, err := engine.TrackWorkout(context.Background(), workout)
	require.NoError(t, err)
	_, err = engine.TrackWorkout(context.Background(), workout)
	require.NoError(t, err)

	// The engine does not de-duplicate trophies: replays must be filtered
	// before TrackWorkout is called.
	trophies := store.Trophies()
	require.Len(t, trophies, 2)
	assert.Equal(t, trophies[0].ChallengeID(), trophies[1].ChallengeID())
	assert.NotEqual(t, trophies[0].ID, trophies[1].ID)
}

func TestEngine_FailureOnOneChallengeDoesNotStopOthers(t *testing.T) {
	store := &faultyStore{
		Store: newMemoryStore(
			newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, 1000, "u1"),
			newChallenge("c2", domain.ChallengeTypeVolume, domain.ScopeGroup, 1000, "u1"),
		),
		failUpdateFor: map[string]error{"c1": errStoreUnavailable},
	}
	logger, hook := logtest.NewNullLogger()
	engine := newEngine(store, nil, progress.WithLogger(logrus.NewEntry(logger)))

	report, err := engine.TrackWorkout(context.Background(), volumeWorkout("w1", "u1", testNow, 25))
	require.ErrorIs(t, err, errStoreUnavailable)
	require.Len(t, report.Outcomes, 2)

	assert.Equal(t, "c1", report.Outcomes[0].ChallengeID)
	assert.Equal(t, progress.OutcomeFailed, report.Outcomes[0].Status)
	assert.ErrorIs(t, report.Outcomes[0].Err, errStoreUnavailable)

	assert.Equal(t, "c2", report.Outcomes[1].ChallengeID)
	assert.Equal(t, progress.OutcomeUpdated, report.Outcomes[1].Status)

	c2, err := store.GetChallenge(context.Background(), "c2")
	require.NoError(t, err)
	assert.InDelta(t, 25, c2.ProgressFor("u1"), 0.0001)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "c1", entry.Data["challenge_id"])
}

func TestEngine_TrophyWriteFailureKeepsOtherRecipients(t *testing.T) {
	store := &faultyStore{
		Store:         newMemoryStore(newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, 100, "u1", "u2", "u3")),
		failTrophyFor: map[string]error{"u2": errStoreUnavailable},
	}
	engine := newEngine(store, nil)

	report, err := engine.TrackWorkout(context.Background(), volumeWorkout("w1", "u1", testNow, 100))
	require.ErrorIs(t, err, errStoreUnavailable)
	assert.Equal(t, progress.OutcomeCompleted, report.Outcomes[0].Status)
	assert.Len(t, report.Outcomes[0].Trophies, 2)
	assert.Len(t, store.Trophies(), 2)
}

func TestEngine_ZeroContributionSkipsTheWrite(t *testing.T) {
	challenge := newChallenge("c1", domain.ChallengeTypeDuration, domain.ScopeGroup, 600, "u1")
	challenge.QualifyingMuscles = []string{"shoulders"}
	store := &faultyStore{Store: newMemoryStore(challenge)}
	engine := newEngine(store, nil)

	report, err := engine.TrackWorkout(context.Background(), chestAndLegsWorkout("w1", "u1", testNow))
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeSkipped, report.Outcomes[0].Status)
	assert.Zero(t, store.updates)
}

func TestEngine_NoActiveChallenges(t *testing.T) {
	ended := newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, 100, "u1")
	ended.EndDate = testNow.Add(-time.Hour)
	store := newMemoryStore(ended, newChallenge("c2", domain.ChallengeTypeVolume, domain.ScopeGroup, 100, "someone-else"))
	engine := newEngine(store, nil)

	report, err := engine.TrackWorkout(context.Background(), volumeWorkout("w1", "u1", testNow, 500))
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, store.Trophies())
}

func TestEngine_UnsupportedTypeFailsThatChallengeOnly(t *testing.T) {
	store := newMemoryStore(
		newChallenge("c1", domain.ChallengeTypeDistance, domain.ScopeCumulative, 10, "u1"),
		newChallenge("c2", domain.ChallengeTypeVolume, domain.ScopeGroup, 1000, "u1"),
	)
	engine := newEngine(store, nil)

	report, err := engine.TrackWorkout(context.Background(), volumeWorkout("w1", "u1", testNow, 10))
	require.ErrorIs(t, err, progress.ErrUnsupportedChallengeType)
	assert.Equal(t, progress.OutcomeFailed, report.Outcomes[0].Status)
	assert.Equal(t, progress.OutcomeUpdated, report.Outcomes[1].Status)
}

func TestEngine_LegacyTaxonomy(t *testing.T) {
	store := newMemoryStore(newChallenge("c1", domain.ChallengeTypeDistance, domain.ScopeCumulative, 10, "u1", "u2"))
	engine := newEngine(store, nil, progress.WithLegacyTaxonomy())
	ctx := context.Background()

	first := volumeWorkout("w1", "u1", testNow, 10)
	first.DistanceKm = 6
	report, err := engine.TrackWorkout(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeUpdated, report.Outcomes[0].Status)

	second := volumeWorkout("w2", "u1", testNow, 10)
	second.DistanceKm = 4
	report, err = engine.TrackWorkout(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeCompleted, report.Outcomes[0].Status)

	trophies := store.Trophies()
	require.Len(t, trophies, 1)
	assert.Equal(t, "u1", trophies[0].UserID)
}

func TestEngine_JoinFoldsEarlierWorkoutsIntoInitialProgress(t *testing.T) {
	store := newMemoryStore(newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, 1000, "u2"))
	ctx := context.Background()
	for _, w := range []domain.WorkoutSummary{
		volumeWorkout("before-start", "u1", challengeStart.Add(-time.Hour), 500),
		volumeWorkout("w1", "u1", testNow.Add(-2*time.Hour), 50),
		volumeWorkout("w2", "u1", testNow.Add(-time.Hour), 30),
		volumeWorkout("other-user", "u2", testNow.Add(-time.Hour), 999),
	} {
		_, err := store.RecordWorkout(ctx, w)
		require.NoError(t, err)
	}
	engine := newEngine(store, nil)

	joined, err := engine.JoinChallenge(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.True(t, joined.IsParticipant("u1"))
	assert.InDelta(t, 80, joined.ProgressFor("u1"), 0.0001)
	assert.Equal(t, testNow, joined.JoinedAt["u1"])

	late := volumeWorkout("w3", "u1", testNow.Add(-30*time.Minute), 20)
	report, err := engine.TrackWorkout(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeAlreadyCounted, report.Outcomes[0].Status)

	next := volumeWorkout("w4", "u1", testNow.Add(time.Hour), 20)
	report, err = engine.TrackWorkout(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeUpdated, report.Outcomes[0].Status)
	assert.InDelta(t, 100, report.Outcomes[0].NewTotal, 0.0001)
}

func TestEngine_JoinCompetitiveUsesBestEarlierAttempt(t *testing.T) {
	store := newMemoryStore(newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeCompetitive, 1000))
	ctx := context.Background()
	for _, w := range []domain.WorkoutSummary{
		volumeWorkout("w1", "u1", testNow.Add(-3*time.Hour), 50),
		volumeWorkout("w2", "u1", testNow.Add(-2*time.Hour), 90),
		volumeWorkout("w3", "u1", testNow.Add(-time.Hour), 70),
	} {
		_, err := store.RecordWorkout(ctx, w)
		require.NoError(t, err)
	}

	joined, err := newEngine(store, nil).JoinChallenge(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.InDelta(t, 90, joined.ProgressFor("u1"), 0.0001)
}

func TestEngine_JoinRejections(t *testing.T) {
	ended := newChallenge("ended", domain.ChallengeTypeVolume, domain.ScopeGroup, 100)
	ended.EndDate = testNow.Add(-time.Minute)
	store := newMemoryStore(
		newChallenge("c1", domain.ChallengeTypeVolume, domain.ScopeGroup, 100, "u1"),
		ended,
	)
	engine := newEngine(store, nil)
	ctx := context.Background()

	_, err := engine.JoinChallenge(ctx, "c1", "u1")
	require.ErrorIs(t, err, domain.ErrAlreadyParticipant)

	_, err = engine.JoinChallenge(ctx, "ended", "u1")
	require.ErrorIs(t, err, domain.ErrChallengeEnded)

	_, err = engine.JoinChallenge(ctx, "missing", "u1")
	require.ErrorIs(t, err, domain.ErrChallengeNotFound)

	_, err = engine.JoinChallenge(ctx, "c1", "")
	require.ErrorIs(t, err, domain.ErrMissingUserID)
}

func TestEngine_Leaderboard(t *testing.T) {
	challenge := newChallenge("c1", domain.ChallengeTypeOneRepMax, domain.ScopeCompetitive, 200, "a", "b", "c")
	challenge.Progress["a"] = 100
	challenge.Progress["b"] = 150
	challenge.Progress["c"] = 100
	engine := newEngine(newMemoryStore(challenge), nil)

	standings, err := engine.Leaderboard(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, standings, 3)
	assert.Equal(t, domain.Standing{UserID: "b", Progress: 150, Rank: 1}, standings[0])
	assert.Equal(t, domain.Standing{UserID: "a", Progress: 100, Rank: 2}, standings[1])
	assert.Equal(t, domain.Standing{UserID: "c", Progress: 100, Rank: 2}, standings[2])

	_, err = engine.Leaderboard(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrChallengeNotFound)
}
