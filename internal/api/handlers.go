// Package api exposes HTTP handlers for the challenge service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"example.com/challenges/internal/auth"
	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/persistence"
	"example.com/challenges/internal/progress"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Progress is the subset of the progress engine used by the API.
type Progress interface {
	JoinChallenge(ctx context.Context, challengeID, userID string) (domain.Challenge, error)
	Leaderboard(ctx context.Context, challengeID string) ([]domain.Standing, error)
}

// Handler coordinates HTTP requests with the catalogue service and the progress engine.
type Handler struct {
	service  *domain.Service
	progress Progress
	active   progress.ChallengeReader
	logger   *logrus.Entry
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, engine Progress, active progress.ChallengeReader, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logrus.WithField("component", "api")
	}
	return &Handler{service: service, progress: engine, active: active, logger: logger}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/challenges", h.listChallenges).Methods(http.MethodGet)
	v1.HandleFunc("/challenges", h.createChallenge).Methods(http.MethodPost)
	v1.HandleFunc("/challenges/{id}", h.getChallenge).Methods(http.MethodGet)
	v1.HandleFunc("/challenges/{id}/join", h.joinChallenge).Methods(http.MethodPost)
	v1.HandleFunc("/challenges/{id}/leaderboard", h.leaderboard).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/challenges", h.activeChallenges).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/trophies", h.listTrophies).Methods(http.MethodGet)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listChallenges(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeChallengesRead); !ok {
		return
	}

	challenges, err := h.service.ListAvailableChallenges(r.Context(), pageSize(r))
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	items := make([]ChallengeView, 0, len(challenges))
	for _, c := range challenges {
		items = append(items, toChallengeView(c))
	}
	writeJSON(w, http.StatusOK, ListChallengesResponse{Items: items})
}

func (h *Handler) createChallenge(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeChallengesWrite)
	if !ok {
		return
	}

	var req CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	challenge, err := h.service.CreateChallenge(r.Context(), domain.CreateChallengeInput{
		Title:             req.Title,
		Description:       req.Description,
		Type:              domain.ChallengeType(req.Type),
		Scope:             domain.Scope(req.Scope),
		Goal:              req.Goal,
		Unit:              req.Unit,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		QualifyingMuscles: req.QualifyingMuscles,
		ImageURL:          req.ImageURL,
		CreatedBy:         claims.Subject,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidChallenge) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChallengeView(*challenge))
}

func (h *Handler) getChallenge(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeChallengesRead); !ok {
		return
	}

	challenge, err := h.service.GetChallenge(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeView(*challenge))
}

func (h *Handler) joinChallenge(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeChallengesWrite)
	if !ok {
		return
	}

	challenge, err := h.progress.JoinChallenge(r.Context(), mux.Vars(r)["id"], claims.Subject)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeView(challenge))
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeChallengesRead); !ok {
		return
	}

	standings, err := h.progress.Leaderboard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LeaderboardResponse{ChallengeID: mux.Vars(r)["id"], Standings: standings})
}

func (h *Handler) activeChallenges(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeChallengesRead)
	if !ok {
		return
	}
	userID, ok := resolveUser(w, r, claims)
	if !ok {
		return
	}

	challenges, err := h.active.GetActiveChallenges(r.Context(), userID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	items := make([]ChallengeView, 0, len(challenges))
	for _, c := range challenges {
		items = append(items, toChallengeView(c))
	}
	writeJSON(w, http.StatusOK, ListChallengesResponse{Items: items})
}

func (h *Handler) listTrophies(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeChallengesRead)
	if !ok {
		return
	}
	userID, ok := resolveUser(w, r, claims)
	if !ok {
		return
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	trophies, next, err := h.service.ListTrophies(r.Context(), userID, cursor, pageSize(r))
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	items := make([]TrophyView, 0, len(trophies))
	for _, t := range trophies {
		items = append(items, toTrophyView(t))
	}
	writeJSON(w, http.StatusOK, ListTrophiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) domainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, "not_found", "challenge not found")
	case errors.Is(err, domain.ErrAlreadyParticipant):
		writeError(w, http.StatusConflict, "already_participant", err.Error())
	case errors.Is(err, domain.ErrChallengeEnded):
		writeError(w, http.StatusConflict, "challenge_ended", err.Error())
	case errors.Is(err, domain.ErrMissingUserID):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.serverError(w, r, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

// requireScope accepts the write scope wherever the read scope is required.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if claims.HasScope(scope) {
		return claims, true
	}
	if scope == auth.ScopeChallengesRead && claims.HasScope(auth.ScopeChallengesWrite) {
		return claims, true
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
	return nil, false
}

// resolveUser maps the {id} path segment to a user; "me" is the caller.
// Callers may only read their own records.
func resolveUser(w http.ResponseWriter, r *http.Request, claims *auth.Claims) (string, bool) {
	userID := strings.TrimSpace(mux.Vars(r)["id"])
	if userID == "me" {
		userID = claims.Subject
	}
	if userID != claims.Subject {
		writeError(w, http.StatusForbidden, "forbidden", "cannot read another user's records")
		return "", false
	}
	return userID, true
}

func pageSize(r *http.Request) int {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxPageSize)
		}
	}
	return limit
}

// CreateChallengeRequest is the payload for POST /v1/challenges.
type CreateChallengeRequest struct {
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Type              string    `json:"type"`
	Scope             string    `json:"scope"`
	Goal              float64   `json:"goal"`
	Unit              string    `json:"unit"`
	StartDate         time.Time `json:"start_date"`
	EndDate           time.Time `json:"end_date"`
	QualifyingMuscles []string  `json:"qualifying_muscles"`
	ImageURL          string    `json:"image_url"`
}

// ChallengeView exposes a challenge together with its aggregated state.
type ChallengeView struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Description       string             `json:"description,omitempty"`
	Type              string             `json:"type"`
	Scope             string             `json:"scope"`
	Goal              float64            `json:"goal"`
	Unit              string             `json:"unit,omitempty"`
	StartDate         time.Time          `json:"start_date"`
	EndDate           time.Time          `json:"end_date"`
	QualifyingMuscles []string           `json:"qualifying_muscles,omitempty"`
	Participants      []string           `json:"participants"`
	Progress          map[string]float64 `json:"progress"`
	GroupTotal        float64            `json:"group_total"`
	ImageURL          string             `json:"image_url,omitempty"`
	CreatedBy         string             `json:"created_by,omitempty"`
}

// ListChallengesResponse packages challenge lists.
type ListChallengesResponse struct {
	Items []ChallengeView `json:"items"`
}

// LeaderboardResponse lists participants ordered by rank.
type LeaderboardResponse struct {
	ChallengeID string            `json:"challenge_id"`
	Standings   []domain.Standing `json:"standings"`
}

// TrophyView exposes a trophy.
type TrophyView struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	ImageURL    string            `json:"image_url"`
	Type        string            `json:"type"`
	AwardedAt   time.Time         `json:"awarded_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ListTrophiesResponse packages trophy list results.
type ListTrophiesResponse struct {
	Items      []TrophyView `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func toChallengeView(c domain.Challenge) ChallengeView {
	participants := c.Participants
	if participants == nil {
		participants = []string{}
	}
	progressMap := c.Progress
	if progressMap == nil {
		progressMap = map[string]float64{}
	}
	return ChallengeView{
		ID:                c.ID,
		Title:             c.Title,
		Description:       c.Description,
		Type:              string(c.Type),
		Scope:             string(c.Scope),
		Goal:              c.Goal,
		Unit:              c.Unit,
		StartDate:         c.StartDate,
		EndDate:           c.EndDate,
		QualifyingMuscles: c.QualifyingMuscles,
		Participants:      participants,
		Progress:          progressMap,
		GroupTotal:        c.GroupTotal(),
		ImageURL:          c.ImageURL,
		CreatedBy:         c.CreatedBy,
	}
}

func toTrophyView(t domain.Trophy) TrophyView {
	return TrophyView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		ImageURL:    t.ImageURL,
		Type:        string(t.Type),
		AwardedAt:   t.AwardedAt,
		Metadata:    t.Metadata,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
