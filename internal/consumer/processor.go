// Package consumer streams workout events from Kafka into the progress engine.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"example.com/challenges/internal/domain"
	"example.com/challenges/internal/outbox"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is the decoded representation of a Kafka record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Timestamp time.Time
	Headers   map[string]string
	EventType string
	SchemaID  int
	Payload   json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *logrus.Entry) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetryBackoff sets the pause after a fetch error.
func WithRetryBackoff(d time.Duration) Option {
	return func(p *Processor) {
		p.retryBackoff = d
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader       Reader
	handler      Handler
	logger       *logrus.Entry
	retryBackoff time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:       reader,
		handler:      handler,
		logger:       logrus.WithField("component", "consumer"),
		retryBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.WithError(err).Error("fetch error")
			p.pause(ctx)
			continue
		}

		fields := logrus.Fields{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset}

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.WithFields(fields).WithError(decodeErr).Warn("decode error")
			recordDecodeError(msg.Topic)
			p.commit(ctx, msg, fields)
			continue
		}

		if !p.dispatch(ctx, msg, event, fields) {
			return ctx.Err()
		}
	}
}

// dispatch hands the event to the handler, retrying in place until it succeeds
// or proves malformed. The partition does not advance past a failing message.
// It reports false when ctx ends first, leaving the message uncommitted.
func (p *Processor) dispatch(ctx context.Context, msg kafka.Message, event Message, fields logrus.Fields) bool {
	for attempt := 1; ; attempt++ {
		handleErr := p.handler.Handle(ctx, event)
		if handleErr == nil {
			if p.commit(ctx, msg, fields) {
				recordProcessed(event)
			}
			return true
		}

		fields["event_type"] = event.EventType
		if errors.Is(handleErr, domain.ErrMalformedRecord) {
			// Commit malformed messages to avoid poison-pill loops.
			p.logger.WithFields(fields).WithError(handleErr).Warn("skipping malformed event")
			recordDecodeError(msg.Topic)
			p.commit(ctx, msg, fields)
			return true
		}

		fields["attempt"] = attempt
		p.logger.WithFields(fields).WithError(handleErr).Error("handler error")
		recordHandlerError(event)
		p.pause(ctx)
		if ctx.Err() != nil {
			return false
		}
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message, fields logrus.Fields) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.WithFields(fields).WithError(err).Error("commit error")
		return false
	}
	return true
}

func (p *Processor) pause(ctx context.Context) {
	if p.retryBackoff <= 0 {
		return
	}
	timer := time.NewTimer(p.retryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) == 0 {
		return Message{}, fmt.Errorf("empty payload")
	}

	headers := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		headers[header.Key] = string(header.Value)
	}

	schemaID, payload := outbox.DecodeWireFormat(msg.Value)
	if !json.Valid(payload) {
		return Message{}, fmt.Errorf("payload is not valid JSON")
	}

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Timestamp: msg.Time,
		Headers:   headers,
		EventType: headers["event_type"],
		SchemaID:  schemaID,
		Payload:   json.RawMessage(append([]byte(nil), payload...)),
	}, nil
}
