// Package postgres implements challenge persistence on PostgreSQL. Progress and
// trophy writes record their outbox events inside the same transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/events"
	"example.com/challenges/internal/observability"
	"example.com/challenges/internal/progress"
	"example.com/challenges/internal/telemetry/tracing"
)

var (
	_ progress.Store             = (*Repository)(nil)
	_ domain.ChallengeRepository = (*Repository)(nil)
)

const challengeColumns = `c.challenge_id, c.title, c.description, c.challenge_type, c.scope, c.goal, c.unit,
        c.start_date, c.end_date, c.qualifying_muscles, c.image_url, c.created_by, c.created_at`

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Option configures the Repository.
type Option func(*Repository)

// WithLogger overrides the logger used for skipped records.
func WithLogger(logger *logrus.Entry) Option {
	return func(r *Repository) { r.logger = logger }
}

// WithClock overrides the time used to decide which challenges are active.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// Repository provides Postgres-backed persistence for challenges, workouts,
// trophies and outbox events.
type Repository struct {
	pool   *pgxpool.Pool
	logger *logrus.Entry
	now    func() time.Time
	tracer trace.Tracer
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{
		pool:   pool,
		logger: logrus.WithField("component", "postgres"),
		now:    func() time.Time { return time.Now().UTC() },
		tracer: tracing.Tracer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateChallenge inserts the challenge and any initial participants.
func (r *Repository) CreateChallenge(ctx context.Context, challenge domain.Challenge) (err error) {
	ctx, span := r.tracer.Start(ctx, "postgres.create-challenge")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	muscles := challenge.QualifyingMuscles
	if muscles == nil {
		muscles = []string{}
	}
	createdAt := challenge.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	const insertChallenge = `INSERT INTO challenges (challenge_id, title, description, challenge_type, scope, goal, unit, start_date, end_date, qualifying_muscles, image_url, created_by, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	if _, err = tx.Exec(ctx, insertChallenge,
		challenge.ID,
		challenge.Title,
		challenge.Description,
		string(challenge.Type),
		string(challenge.Scope),
		challenge.Goal,
		challenge.Unit,
		challenge.StartDate,
		challenge.EndDate,
		muscles,
		challenge.ImageURL,
		challenge.CreatedBy,
		createdAt,
	); err != nil {
		return err
	}

	for _, participant := range challenge.Participants {
		joinedAt, ok := challenge.JoinedAt[participant]
		if !ok {
			joinedAt = createdAt
		}
		if _, err = tx.Exec(ctx,
			`INSERT INTO challenge_participants (challenge_id, user_id, progress, joined_at, updated_at) VALUES ($1,$2,$3,$4,$4)`,
			challenge.ID, participant, challenge.Progress[participant], joinedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetChallenge returns nil when the challenge does not exist.
func (r *Repository) GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	challenge, err := r.loadChallenge(ctx, r.pool, challengeID, false)
	if errors.Is(err, domain.ErrChallengeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

// ListAvailableChallenges returns challenges ending after now, soonest first.
func (r *Repository) ListAvailableChallenges(ctx context.Context, now time.Time, limit int) ([]domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges c WHERE c.end_date > $1 ORDER BY c.end_date, c.challenge_id`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.queryChallenges(ctx, r.pool, query, args...)
}

// GetActiveChallenges implements progress.ChallengeReader. Rows that cannot be
// decoded are skipped and counted rather than failing the whole read.
func (r *Repository) GetActiveChallenges(ctx context.Context, userID string) (_ []domain.Challenge, err error) {
	ctx, span := r.tracer.Start(ctx, "postgres.get-active-challenges")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("user_id", userID))

	query := `SELECT ` + challengeColumns + `
        FROM challenges c
        JOIN challenge_participants p ON p.challenge_id = c.challenge_id
        WHERE p.user_id = $1 AND c.end_date > $2
        ORDER BY c.end_date, c.challenge_id`

	return r.queryChallenges(ctx, r.pool, query, userID, r.now())
}

// UpdateChallengeProgress implements progress.ProgressWriter. The challenge row
// is locked with FOR UPDATE so concurrent updates to the same challenge are
// serialised, which keeps group totals consistent.
func (r *Repository) UpdateChallengeProgress(ctx context.Context, challengeID, userID string, fn progress.ProgressFunc) (_ domain.Challenge, err error) {
	ctx, span := r.tracer.Start(ctx, "postgres.update-challenge-progress")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("challenge_id", challengeID), attribute.String("user_id", userID))

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Challenge{}, err
	}
	defer tx.Rollback(ctx)

	current, err := r.loadChallenge(ctx, tx, challengeID, true)
	if err != nil {
		return domain.Challenge{}, err
	}
	if !current.IsParticipant(userID) {
		return domain.Challenge{}, domain.ErrNotParticipant
	}

	value, err := fn(current.Clone())
	if err != nil {
		return domain.Challenge{}, err
	}

	now := r.now()
	if _, err = tx.Exec(ctx,
		`UPDATE challenge_participants SET progress = $3, updated_at = $4 WHERE challenge_id = $1 AND user_id = $2`,
		challengeID, userID, value, now,
	); err != nil {
		return domain.Challenge{}, err
	}

	updated := current.Clone()
	updated.Progress[userID] = value

	if err = r.insertProgressEvent(ctx, tx, updated, userID, now); err != nil {
		return domain.Challenge{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return domain.Challenge{}, err
	}
	observability.RecordProgressPersisted(now)
	return updated, nil
}

// JoinChallenge implements progress.Membership. The initial progress is computed
// from history read inside the same transaction as the membership insert.
func (r *Repository) JoinChallenge(ctx context.Context, challengeID, userID string, joinedAt time.Time, fn progress.InitialProgressFunc) (_ domain.Challenge, err error) {
	ctx, span := r.tracer.Start(ctx, "postgres.join-challenge")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("challenge_id", challengeID), attribute.String("user_id", userID))

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Challenge{}, err
	}
	defer tx.Rollback(ctx)

	current, err := r.loadChallenge(ctx, tx, challengeID, true)
	if err != nil {
		return domain.Challenge{}, err
	}

	initial, err := fn(ctx, current.Clone(), txHistory{repo: r, tx: tx})
	if err != nil {
		return domain.Challenge{}, err
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO challenge_participants (challenge_id, user_id, progress, joined_at, updated_at) VALUES ($1,$2,$3,$4,$4)`,
		challengeID, userID, initial, joinedAt,
	); err != nil {
		return domain.Challenge{}, err
	}

	updated := current.Clone()
	updated.Participants = append(updated.Participants, userID)
	updated.Progress[userID] = initial
	if updated.JoinedAt == nil {
		updated.JoinedAt = make(map[string]time.Time)
	}
	updated.JoinedAt[userID] = joinedAt

	if err = r.insertProgressEvent(ctx, tx, updated, userID, joinedAt); err != nil {
		return domain.Challenge{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return domain.Challenge{}, err
	}
	return updated, nil
}

// RecordWorkout stores a workout once. It reports whether the workout still
// needs tracking: true for a new workout or one recorded earlier but never
// marked tracked.
func (r *Repository) RecordWorkout(ctx context.Context, workout domain.WorkoutSummary) (bool, error) {
	exercises, err := json.Marshal(workout.Exercises)
	if err != nil {
		return false, err
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	const stmt = `INSERT INTO workouts (workout_id, user_id, created_at, duration_sec, total_volume, distance_km, exercises)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (workout_id) DO UPDATE SET workout_id = EXCLUDED.workout_id
        RETURNING tracked_at IS NULL`

	var pending bool
	err = r.pool.QueryRow(ctx, stmt,
		workout.ID,
		workout.UserID,
		workout.CreatedAt,
		int(workout.Duration/time.Second),
		workout.TotalVolume,
		workout.DistanceKm,
		exercises,
	).Scan(&pending)
	if err != nil {
		return false, err
	}
	return pending, nil
}

// MarkWorkoutTracked records that a workout's contribution has been applied.
func (r *Repository) MarkWorkoutTracked(ctx context.Context, workoutID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE workouts SET tracked_at = COALESCE(tracked_at, $2) WHERE workout_id = $1`, workoutID, r.now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workout %s: %w", workoutID, domain.ErrWorkoutNotRecorded)
	}
	return nil
}

// GetWorkoutHistory implements progress.HistoryReader.
func (r *Repository) GetWorkoutHistory(ctx context.Context, userID string, before time.Time) ([]domain.WorkoutSummary, error) {
	return r.history(ctx, r.pool, userID, before)
}

func (r *Repository) history(ctx context.Context, q querier, userID string, before time.Time) ([]domain.WorkoutSummary, error) {
	const query = `SELECT workout_id, user_id, created_at, duration_sec, total_volume, distance_km, exercises
        FROM workouts WHERE user_id = $1 AND created_at < $2
        ORDER BY created_at, workout_id`

	rows, err := q.Query(ctx, query, userID, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.WorkoutSummary, 0)
	for rows.Next() {
		var (
			workout     domain.WorkoutSummary
			durationSec int
			exercises   []byte
		)
		if err := rows.Scan(&workout.ID, &workout.UserID, &workout.CreatedAt, &durationSec, &workout.TotalVolume, &workout.DistanceKm, &exercises); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(exercises, &workout.Exercises); err != nil {
			r.skipMalformed("workout", workout.ID, err)
			continue
		}
		workout.Duration = time.Duration(durationSec) * time.Second
		results = append(results, workout)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// AwardTrophy implements progress.TrophyWriter.
func (r *Repository) AwardTrophy(ctx context.Context, trophy domain.Trophy) (err error) {
	ctx, span := r.tracer.Start(ctx, "postgres.award-trophy")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	metadata, err := json.Marshal(trophy.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO trophies (trophy_id, user_id, title, description, image_url, trophy_type, awarded_at, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	if _, err = tx.Exec(ctx, stmt,
		trophy.ID,
		trophy.UserID,
		trophy.Title,
		trophy.Description,
		trophy.ImageURL,
		string(trophy.Type),
		trophy.AwardedAt,
		metadata,
	); err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, outboxRecord{
		aggregateType: "trophy",
		aggregateID:   trophy.ID,
		eventType:     EventTrophyAwarded,
		partitionKey:  trophy.UserID,
		dedupeKey:     fmt.Sprintf("%s:%s", trophy.ID, EventTrophyAwarded),
		payload: events.TrophyAwarded{
			TrophyID:    trophy.ID,
			UserID:      trophy.UserID,
			ChallengeID: trophy.ChallengeID(),
			Title:       trophy.Title,
			ImageURL:    trophy.ImageURL,
			AwardedAt:   trophy.AwardedAt,
			Metadata:    trophy.Metadata,
		},
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListTrophies returns a user's trophies newest first.
func (r *Repository) ListTrophies(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Trophy, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT trophy_id, user_id, title, description, image_url, trophy_type, awarded_at, metadata
        FROM trophies WHERE user_id = $1`

	if cursor != nil {
		query += ` AND (awarded_at, trophy_id) < ($3, $4)`
		args = append(args, cursor.At, cursor.ID)
	}
	query += ` ORDER BY awarded_at DESC, trophy_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Trophy, 0, limit)
	for rows.Next() {
		var (
			trophy     domain.Trophy
			trophyType string
			metadata   []byte
		)
		if err := rows.Scan(&trophy.ID, &trophy.UserID, &trophy.Title, &trophy.Description, &trophy.ImageURL, &trophyType, &trophy.AwardedAt, &metadata); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal(metadata, &trophy.Metadata); err != nil {
			r.skipMalformed("trophy", trophy.ID, err)
			continue
		}
		trophy.Type = domain.TrophyType(trophyType)
		results = append(results, trophy)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{At: last.AwardedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// loadChallenge reads one challenge with its participants. forUpdate locks the
// challenge row until the surrounding transaction ends.
func (r *Repository) loadChallenge(ctx context.Context, q querier, challengeID string, forUpdate bool) (domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges c WHERE c.challenge_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	challenge, err := scanChallenge(q.QueryRow(ctx, query, challengeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if err != nil {
		return domain.Challenge{}, err
	}

	byID := map[string]*domain.Challenge{challenge.ID: &challenge}
	if err := r.loadParticipants(ctx, q, byID); err != nil {
		return domain.Challenge{}, err
	}
	return challenge, nil
}

func (r *Repository) queryChallenges(ctx context.Context, q querier, query string, args ...any) ([]domain.Challenge, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Challenge, 0)
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if errors.Is(err, domain.ErrMalformedRecord) {
			r.skipMalformed("challenge", challenge.ID, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, challenge)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	byID := make(map[string]*domain.Challenge, len(results))
	for i := range results {
		byID[results[i].ID] = &results[i]
	}
	if err := r.loadParticipants(ctx, q, byID); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) loadParticipants(ctx context.Context, q querier, byID map[string]*domain.Challenge) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := q.Query(ctx,
		`SELECT challenge_id, user_id, progress, joined_at FROM challenge_participants
        WHERE challenge_id = ANY($1) ORDER BY joined_at, user_id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			challengeID, userID string
			value               float64
			joinedAt            time.Time
		)
		if err := rows.Scan(&challengeID, &userID, &value, &joinedAt); err != nil {
			return err
		}
		challenge := byID[challengeID]
		challenge.Participants = append(challenge.Participants, userID)
		challenge.Progress[userID] = value
		challenge.JoinedAt[userID] = joinedAt
	}
	return rows.Err()
}

func scanChallenge(row pgx.Row) (domain.Challenge, error) {
	var (
		challenge      domain.Challenge
		challengeType  string
		scope          string
		qualifyingList []string
	)
	if err := row.Scan(
		&challenge.ID,
		&challenge.Title,
		&challenge.Description,
		&challengeType,
		&scope,
		&challenge.Goal,
		&challenge.Unit,
		&challenge.StartDate,
		&challenge.EndDate,
		&qualifyingList,
		&challenge.ImageURL,
		&challenge.CreatedBy,
		&challenge.CreatedAt,
	); err != nil {
		return domain.Challenge{}, err
	}

	parsedType, err := domain.ParseChallengeType(challengeType)
	if err != nil {
		return challenge, err
	}
	parsedScope, err := domain.ParseScope(scope)
	if err != nil {
		return challenge, err
	}
	challenge.Type = parsedType
	challenge.Scope = parsedScope
	challenge.QualifyingMuscles = qualifyingList
	challenge.Participants = []string{}
	challenge.Progress = make(map[string]float64)
	challenge.JoinedAt = make(map[string]time.Time)
	return challenge, nil
}

func (r *Repository) skipMalformed(source, id string, err error) {
	observability.RecordMalformedRecord(source)
	r.logger.WithFields(logrus.Fields{
		"source": source,
		"id":     id,
	}).WithError(err).Warn("skipping malformed record")
}

func (r *Repository) insertProgressEvent(ctx context.Context, tx pgx.Tx, challenge domain.Challenge, userID string, at time.Time) error {
	return insertOutbox(ctx, tx, outboxRecord{
		aggregateType: "challenge",
		aggregateID:   challenge.ID,
		eventType:     EventProgressUpdated,
		partitionKey:  challenge.ID,
		dedupeKey:     fmt.Sprintf("%s:%s:%s:%d", challenge.ID, userID, EventProgressUpdated, at.UnixNano()),
		payload: events.ChallengeProgressUpdated{
			ChallengeID: challenge.ID,
			UserID:      userID,
			Scope:       string(challenge.Scope),
			Progress:    challenge.ProgressFor(userID),
			GroupTotal:  challenge.GroupTotal(),
			Goal:        challenge.Goal,
			UpdatedAt:   at,
		},
	})
}

// txHistory reads workout history through an open transaction.
type txHistory struct {
	repo *Repository
	tx   pgx.Tx
}

func (h txHistory) GetWorkoutHistory(ctx context.Context, userID string, before time.Time) ([]domain.WorkoutSummary, error) {
	return h.repo.history(ctx, h.tx, userID, before)
}
