package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"partner-webhooks/internal/core/domain"
	"partner-webhooks/internal/core/ports"
	"partner-webhooks/pkg/apperror"
	"partner-webhooks/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// eventField is the stream entry field holding the JSON-encoded event.
const eventField = "event"

// EventStreamConfig configures the consumer group.
type EventStreamConfig struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	// Block is how long XREADGROUP waits for new entries. Negative disables blocking.
	Block time.Duration
}

// EventStream carries domain events over a Redis stream. Producers call
// Append; the dispatcher process consumes through a consumer group and
// acknowledges an entry once it has been handed to the publisher.
type EventStream struct {
	client *goredis.Client
	cfg    EventStreamConfig
	log    zerolog.Logger
}

// NewEventStream creates a stream bound to cfg.Stream.
func NewEventStream(client *goredis.Client, cfg EventStreamConfig, log zerolog.Logger) *EventStream {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &EventStream{
		client: client,
		cfg:    cfg,
		log:    logger.WithComponent(log, "event_stream"),
	}
}

// Publish appends event to the stream. It implements ports.EventPublisher
// for processes that only produce events.
func (s *EventStream) Publish(ctx context.Context, event domain.Event) error {
	_, err := s.Append(ctx, event)
	return err
}

// Append adds event to the stream and returns the entry id.
func (s *EventStream) Append(ctx context.Context, event domain.Event) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	id, err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: map[string]any{eventField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis xadd: %w", err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group (and stream) if missing.
func (s *EventStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis xgroup create: %w", err)
	}
	return nil
}

// Run consumes the stream until ctx is cancelled. Entries this consumer
// left pending are retried before new ones are read.
func (s *EventStream) Run(ctx context.Context, publisher ports.EventPublisher) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}

	s.log.Info().
		Str("stream", s.cfg.Stream).
		Str("group", s.cfg.Group).
		Str("consumer", s.cfg.Consumer).
		Msg("event stream consumer started")

	retryPending := true
	for {
		if ctx.Err() != nil {
			s.log.Info().Msg("event stream consumer stopped")
			return nil
		}

		start := ">"
		if retryPending {
			start = "0"
		}

		res, err := s.ReadBatch(ctx, publisher, start)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.log.Error().Err(err).Msg("event stream read failed")
			s.backoff(ctx)
			continue
		}

		switch {
		case res.Pending > 0:
			retryPending = true
			s.backoff(ctx)
		case start == "0":
			retryPending = res.Read > 0
		}
	}
}

// BatchResult summarises one ReadBatch call.
type BatchResult struct {
	Read    int
	Acked   int
	Pending int
}

// ReadBatch reads up to BatchSize entries starting at start (">" for new
// entries, "0" for this consumer's pending ones) and hands each to publisher.
// Undecodable or invalid events are acknowledged and logged; entries the
// publisher could not accept stay pending. Accepted entries are acknowledged
// as soon as publisher queues them, so the stream no longer tracks them.
func (s *EventStream) ReadBatch(ctx context.Context, publisher ports.EventPublisher, start string) (BatchResult, error) {
	var res BatchResult

	block := s.cfg.Block
	if start != ">" {
		block = -1
	}

	streams, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, start},
		Count:    s.cfg.BatchSize,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return res, nil
		}
		return res, fmt.Errorf("redis xreadgroup: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			res.Read++
			if s.handle(ctx, publisher, msg) {
				if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, msg.ID).Err(); err != nil {
					return res, fmt.Errorf("redis xack: %w", err)
				}
				res.Acked++
			} else {
				res.Pending++
			}
		}
	}
	return res, nil
}

// handle reports whether msg should be acknowledged.
func (s *EventStream) handle(ctx context.Context, publisher ports.EventPublisher, msg goredis.XMessage) bool {
	log := s.log.With().Str("entry_id", msg.ID).Logger()

	raw, ok := msg.Values[eventField].(string)
	if !ok {
		log.Warn().Msg("stream entry has no event field, discarding")
		return true
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		log.Warn().Err(err).Msg("undecodable stream event, discarding")
		return true
	}

	if err := publisher.Publish(ctx, event); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.HTTPStatus < http.StatusInternalServerError {
			log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("invalid stream event, discarding")
			return true
		}
		log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("event hand-off failed, leaving pending")
		return false
	}
	return true
}

func (s *EventStream) backoff(ctx context.Context) {
	d := s.cfg.Block
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
