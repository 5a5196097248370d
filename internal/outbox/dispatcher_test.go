package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(id int64, eventType, topic, key string) Message {
	return Message{
		EventID:       id,
		AggregateType: "challenge",
		AggregateID:   key,
		EventType:     eventType,
		Topic:         topic,
		SchemaSubject: topic + "-value",
		PartitionKey:  key,
		Payload:       json.RawMessage(`{"challenge_id":"` + key + `"}`),
	}
}

func TestDeliverGroupsByTopicAndCachesSchemas(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(nil, producer, registry, time.Second, 10)

	messages := []Message{
		testMessage(1, "challenge.progress_updated", "challenge_progress", "c1"),
		testMessage(2, "trophy.awarded", "trophy_events", "u1"),
		testMessage(3, "challenge.progress_updated", "challenge_progress", "c2"),
	}
	require.NoError(t, dispatcher.deliver(context.Background(), messages))

	require.Len(t, producer.writes, 2)
	assert.Equal(t, "challenge_progress", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 2)
	assert.Equal(t, "trophy_events", producer.writes[1].topic)

	first := producer.writes[0].messages[0]
	assert.Equal(t, []byte("c1"), first.Key)
	schemaID, payload := DecodeWireFormat(first.Value)
	assert.Equal(t, 42, schemaID)
	assert.JSONEq(t, `{"challenge_id":"c1"}`, string(payload))
	require.Len(t, first.Headers, 1)
	assert.Equal(t, "challenge.progress_updated", string(first.Headers[0].Value))

	assert.Len(t, registry.calls, 2, "one registry lookup per subject")

	require.NoError(t, dispatcher.deliver(context.Background(), messages[:1]))
	assert.Len(t, registry.calls, 2, "schema IDs are cached across batches")
}

func TestDeliverFailures(t *testing.T) {
	t.Run("unknown event type", func(t *testing.T) {
		producer := &stubProducer{}
		registry := &stubRegistry{}
		dispatcher := NewDispatcher(nil, producer, registry, time.Second, 10)

		err := dispatcher.deliver(context.Background(), []Message{testMessage(1, "challenge.unknown", "challenge_progress", "c1")})
		require.ErrorContains(t, err, "no schema metadata for event_type=challenge.unknown")
		assert.Empty(t, producer.writes)
		assert.Empty(t, registry.calls)
	})

	t.Run("registry failure", func(t *testing.T) {
		producer := &stubProducer{}
		registry := &stubRegistry{err: errors.New("registry down")}
		dispatcher := NewDispatcher(nil, producer, registry, time.Second, 10)

		err := dispatcher.deliver(context.Background(), []Message{testMessage(1, "trophy.awarded", "trophy_events", "u1")})
		require.ErrorContains(t, err, "registry down")
		assert.Empty(t, producer.writes)
	})

	t.Run("producer failure", func(t *testing.T) {
		producer := &stubProducer{err: errors.New("kafka write failed")}
		dispatcher := NewDispatcher(nil, producer, &stubRegistry{}, time.Second, 10)

		err := dispatcher.deliver(context.Background(), []Message{testMessage(1, "trophy.awarded", "trophy_events", "u1")})
		require.ErrorContains(t, err, "kafka write failed")
	})
}

func TestWireFormat(t *testing.T) {
	framed := encodeWireFormat(7, []byte(`{}`))
	assert.Equal(t, []byte{0, 0, 0, 0, 7, '{', '}'}, framed)

	id, payload := DecodeWireFormat(framed)
	assert.Equal(t, 7, id)
	assert.Equal(t, []byte(`{}`), payload)

	id, payload = DecodeWireFormat([]byte(`{"plain":true}`))
	assert.Zero(t, id)
	assert.Equal(t, []byte(`{"plain":true}`), payload)
}

func TestBackoffDelay(t *testing.T) {
	manager := NewDLQManager(nil, 0, time.Minute)
	assert.Equal(t, 5, manager.maxRetries)

	assert.Equal(t, time.Minute, manager.backoffDelay(1))
	assert.Equal(t, 2*time.Minute, manager.backoffDelay(2))
	assert.Equal(t, 4*time.Minute, manager.backoffDelay(3))
	assert.Equal(t, time.Hour, manager.backoffDelay(7))
	assert.Equal(t, time.Hour, manager.backoffDelay(64))
}

func TestSchemaRegistryClient(t *testing.T) {
	var registered atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/trophy_events-value/versions/latest":
			_, _ = w.Write([]byte(`{"id": 3}`))
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/challenge_progress-value/versions/latest":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/challenge_progress-value/versions":
			registered.Add(1)
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["schemaType"] != "JSON" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"id": 11}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := NewSchemaRegistryClient(server.URL + "/")

	id, err := client.EnsureSchema(context.Background(), "trophy_events-value", trophyAwardedSchema)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
	assert.Zero(t, registered.Load())

	id, err = client.EnsureSchema(context.Background(), "challenge_progress-value", challengeProgressUpdatedSchema)
	require.NoError(t, err)
	assert.Equal(t, 11, id)
	assert.EqualValues(t, 1, registered.Load())

	_, err = client.EnsureSchema(context.Background(), "broken-value", "{}")
	require.Error(t, err)
	assert.EqualValues(t, 1, registered.Load(), "server errors must not trigger registration")
}

func TestSchemasAreValidJSON(t *testing.T) {
	for eventType, entry := range schemaCatalog {
		var doc map[string]any
		require.NoErrorf(t, json.Unmarshal([]byte(entry.Schema), &doc), "schema for %s", eventType)
		assert.Equal(t, "object", doc["type"])
	}
}
