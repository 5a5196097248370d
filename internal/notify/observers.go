package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"example.com/challenges/internal/events"
)

// DefaultChannelPrefix prefixes the per-user pub/sub channel.
const DefaultChannelPrefix = "challenges:completed:"

// LogObserver writes each event to the log.
type LogObserver struct {
	Logger *logrus.Entry
}

// Notify implements Observer.
func (o LogObserver) Notify(_ context.Context, event events.ChallengeCompleted) error {
	logger := o.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger.WithFields(logrus.Fields{
		"challenge_id": event.ChallengeID,
		"user_id":      event.UserID,
		"trophy_id":    event.TrophyID,
	}).Info("challenge completed")
	return nil
}

// RedisObserver publishes events to a per-user redis channel for realtime clients.
type RedisObserver struct {
	client *redis.Client
	prefix string
}

// NewRedisObserver constructs a RedisObserver. An empty prefix uses DefaultChannelPrefix.
func NewRedisObserver(client *redis.Client, prefix string) *RedisObserver {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisObserver{client: client, prefix: prefix}
}

// Channel returns the channel a user's notifications are published on.
func (o *RedisObserver) Channel(userID string) string {
	return o.prefix + userID
}

// Notify implements Observer.
func (o *RedisObserver) Notify(ctx context.Context, event events.ChallengeCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return o.client.Publish(ctx, o.Channel(event.UserID), payload).Err()
}

// WebhookObserver posts each event as JSON to an HTTP endpoint.
type WebhookObserver struct {
	client *http.Client
	url    string
	token  string
}

// NewWebhookObserver constructs a WebhookObserver.
func NewWebhookObserver(endpoint, token string, timeout time.Duration) *WebhookObserver {
	return &WebhookObserver{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

// Notify implements Observer.
func (w *WebhookObserver) Notify(ctx context.Context, event events.ChallengeCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &DeliveryError{Status: resp.StatusCode}
	}
	return nil
}

// DeliveryError represents a non-successful webhook response.
type DeliveryError struct {
	Status int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification webhook failed with status %d", e.Status)
}
