package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAPI is the subset of the go-redis client used by RedisSource.
type RedisAPI interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd
}

// RedisConfig configures a RedisSource.
type RedisConfig struct {
	Stream    string
	Group     string
	Consumer  string
	DLQStream string
	// DelayedKey is the sorted set holding retries until they are due.
	DelayedKey string
	// RetryDelay postpones redelivery of a retried entry. Zero re-adds it
	// to the stream immediately.
	RetryDelay time.Duration
	BatchSize  int64
	Block      time.Duration
}

// RedisSource reads notifications from a Redis stream consumer group. Each
// entry carries the payload in "body" and the delivery count in "attempt".
// Delayed retries wait in a sorted set scored by due time and are moved back
// onto the stream by Receive.
type RedisSource struct {
	client RedisAPI
	cfg    RedisConfig
	now    func() time.Time
}

// NewRedisSource creates the consumer group if needed and returns a source.
func NewRedisSource(ctx context.Context, client RedisAPI, cfg RedisConfig) (*RedisSource, error) {
	if client == nil {
		return nil, errors.New("notify: redis client is required")
	}
	if cfg.Stream == "" || cfg.Group == "" || cfg.Consumer == "" {
		return nil, errors.New("notify: redis stream, group and consumer are required")
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + ":dlq"
	}
	if cfg.DelayedKey == "" {
		cfg.DelayedKey = cfg.Stream + ":delayed"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	// Start from "0" so entries added before the group existed are read.
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("notify: create consumer group: %w", err)
	}
	return &RedisSource{client: client, cfg: cfg, now: time.Now}, nil
}

// Receive promotes due retries, then reads new entries for this consumer.
func (s *RedisSource) Receive(ctx context.Context) ([]Message, error) {
	if err := s.promote(ctx); err != nil {
		return nil, err
	}
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    s.cfg.BatchSize,
		Block:    s.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("notify: read %s: %w", s.cfg.Stream, err)
	}
	var msgs []Message
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			msgs = append(msgs, ParseStreamEntry(entry))
		}
	}
	return msgs, nil
}

// promote moves due delayed entries onto the stream. ZREM decides which
// consumer owns an entry when several promote concurrently.
func (s *RedisSource) promote(ctx context.Context) error {
	due, err := s.client.ZRangeByScore(ctx, s.cfg.DelayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: s.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("notify: read %s: %w", s.cfg.DelayedKey, err)
	}
	for _, member := range due {
		removed, err := s.client.ZRem(ctx, s.cfg.DelayedKey, member).Result()
		if err != nil {
			return fmt.Errorf("notify: zrem %s: %w", s.cfg.DelayedKey, err)
		}
		if removed == 0 {
			continue
		}
		values, err := decodeDelayed(member)
		if err != nil {
			// Corrupt members cannot be retried; keep them visible in the DLQ.
			values = map[string]any{"body": member, "error": err.Error()}
			if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: s.cfg.DLQStream, Values: values}).Err(); err != nil {
				return fmt.Errorf("notify: xadd %s: %w", s.cfg.DLQStream, err)
			}
			continue
		}
		if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: s.cfg.Stream, Values: values}).Err(); err != nil {
			return fmt.Errorf("notify: xadd %s: %w", s.cfg.Stream, err)
		}
	}
	return nil
}

// Ack acknowledges the entry.
func (s *RedisSource) Ack(ctx context.Context, msg Message) error {
	if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, msg.receipt).Err(); err != nil {
		return fmt.Errorf("notify: xack %s: %w", s.cfg.Stream, err)
	}
	return nil
}

// Retry acknowledges the entry and re-adds a copy with the next attempt,
// after RetryDelay when one is configured.
func (s *RedisSource) Retry(ctx context.Context, msg Message, reason string) error {
	if s.cfg.RetryDelay <= 0 {
		return s.move(ctx, msg, s.cfg.Stream, msg.Attempt+1, "last_error", reason)
	}
	if err := s.Ack(ctx, msg); err != nil {
		return err
	}
	member, err := encodeDelayed(msg, msg.Attempt+1, reason)
	if err != nil {
		return err
	}
	due := s.now().Add(s.cfg.RetryDelay).UnixMilli()
	if err := s.client.ZAdd(ctx, s.cfg.DelayedKey, redis.Z{Score: float64(due), Member: member}).Err(); err != nil {
		return fmt.Errorf("notify: zadd %s: %w", s.cfg.DelayedKey, err)
	}
	return nil
}

// DeadLetter acknowledges the entry and appends it to the DLQ stream.
func (s *RedisSource) DeadLetter(ctx context.Context, msg Message, reason string) error {
	return s.move(ctx, msg, s.cfg.DLQStream, msg.Attempt, "error", reason)
}

func (s *RedisSource) move(ctx context.Context, msg Message, stream string, attempt int, errField, reason string) error {
	if err := s.Ack(ctx, msg); err != nil {
		return err
	}
	values := StreamValues(msg.Body, attempt)
	values[errField] = orUnknown(reason)
	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("notify: xadd %s: %w", stream, err)
	}
	return nil
}

// ParseStreamEntry converts a stream entry into a Message.
func ParseStreamEntry(entry redis.XMessage) Message {
	msg := Message{ID: entry.ID, receipt: entry.ID, Attempt: 1}
	if body, ok := entry.Values["body"]; ok {
		msg.Body = []byte(fmt.Sprint(body))
	}
	if raw, ok := entry.Values["attempt"]; ok {
		if n, err := strconv.Atoi(fmt.Sprint(raw)); err == nil && n > 0 {
			msg.Attempt = n
		}
	}
	return msg
}

// StreamValues builds the fields of a stream entry.
func StreamValues(body []byte, attempt int) map[string]any {
	if attempt <= 0 {
		attempt = 1
	}
	return map[string]any{
		"body":    string(body),
		"attempt": attempt,
	}
}

// delayedEntry is the sorted-set member of a pending retry. The original
// entry id keeps members unique.
type delayedEntry struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error"`
}

func encodeDelayed(msg Message, attempt int, reason string) (string, error) {
	data, err := json.Marshal(delayedEntry{
		ID:        msg.ID,
		Body:      string(msg.Body),
		Attempt:   attempt,
		LastError: orUnknown(reason),
	})
	if err != nil {
		return "", fmt.Errorf("notify: encode delayed entry: %w", err)
	}
	return string(data), nil
}

func decodeDelayed(member string) (map[string]any, error) {
	var e delayedEntry
	if err := json.Unmarshal([]byte(member), &e); err != nil {
		return nil, fmt.Errorf("notify: decode delayed entry: %w", err)
	}
	values := StreamValues([]byte(e.Body), e.Attempt)
	values["last_error"] = e.LastError
	return values, nil
}
