package progress

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/observability"
)

const (
	// podiumSize is the lowest rank that still earns a competitive trophy without meeting the goal.
	podiumSize = 3

	defaultTrophyImage = "trophies/challenge.png"
)

// AwardDispatcher issues trophies for completed challenges.
type AwardDispatcher struct {
	trophies TrophyWriter
	notifier Notifier
	clock    Clock
	newID    func() string
	logger   *logrus.Entry
}

// NewAwardDispatcher constructs an AwardDispatcher. notifier may be nil.
func NewAwardDispatcher(trophies TrophyWriter, notifier Notifier, clock Clock, logger *logrus.Entry) *AwardDispatcher {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AwardDispatcher{
		trophies: trophies,
		notifier: notifier,
		clock:    clock,
		newID:    uuid.NewString,
		logger:   logger,
	}
}

// Dispatch awards the trophies earned by userID completing challenge. It returns
// the trophies that were persisted. An ineligible user is not an error.
//
// There is no guard against awarding the same challenge twice; callers that
// re-run a completed challenge will issue new trophies.
func (d *AwardDispatcher) Dispatch(ctx context.Context, challenge domain.Challenge, userID string) ([]domain.Trophy, error) {
	if !challenge.ShouldAward(userID) {
		return nil, nil
	}

	recipients, rank, eligible := d.recipients(challenge, userID)
	if !eligible {
		d.logger.WithFields(logrus.Fields{
			"challenge_id": challenge.ID,
			"user_id":      userID,
			"rank":         rank,
		}).Debug("competitive finish below podium, no trophy")
		return nil, nil
	}

	var (
		awarded []domain.Trophy
		errs    error
	)
	for _, recipient := range recipients {
		trophy := d.newTrophy(challenge, recipient, rank)
		if err := d.trophies.AwardTrophy(ctx, trophy); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("award trophy to %s: %w", recipient, err))
			continue
		}
		observability.RecordTrophyAwarded(string(challenge.Scope))
		awarded = append(awarded, trophy)

		if d.notifier != nil {
			d.notifier.NotifyChallengeCompleted(challenge, trophy)
		}
	}
	return awarded, errs
}

// recipients resolves who is rewarded. rank is zero when it does not apply.
func (d *AwardDispatcher) recipients(challenge domain.Challenge, userID string) ([]string, int, bool) {
	switch challenge.Scope {
	case domain.ScopeGroup:
		return challenge.Participants, 0, true
	case domain.ScopeCompetitive:
		rank := challenge.Rank(userID)
		if rank > podiumSize && challenge.ProgressFor(userID) < challenge.Goal {
			return nil, rank, false
		}
		return []string{userID}, rank, true
	default:
		return []string{userID}, 0, true
	}
}

func (d *AwardDispatcher) newTrophy(challenge domain.Challenge, recipient string, rank int) domain.Trophy {
	image := challenge.ImageURL
	if image == "" {
		image = defaultTrophyImage
	}

	metadata := map[string]string{
		domain.TrophyMetaChallengeID: challenge.ID,
		domain.TrophyMetaGoal:        challenge.GoalLabel(),
		domain.TrophyMetaScope:       string(challenge.Scope),
	}
	if rank > 0 {
		metadata[domain.TrophyMetaRank] = strconv.Itoa(rank)
	}

	return domain.Trophy{
		ID:          d.newID(),
		UserID:      recipient,
		Title:       challenge.Title,
		Description: challenge.Description,
		ImageURL:    image,
		AwardedAt:   d.clock.Now(),
		Type:        domain.TrophyTypeChallenge,
		Metadata:    metadata,
	}
}
