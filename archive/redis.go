package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/report"
)

// RedisStore keeps each record as a JSON string and indexes IDs in a
// sorted set scored by generation time.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string        // e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string        // key namespace
	TTL      time.Duration // 0 means no expiration
}

// DefaultRedisConfig returns the local development configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{Addr: "localhost:6379", Prefix: "paper-survey"}
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return newRedisStore(client, config), nil
}

func newRedisStore(client *redis.Client, config *RedisConfig) *RedisStore {
	prefix := config.Prefix
	if prefix == "" {
		prefix = "paper-survey"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: config.TTL}
}

func (s *RedisStore) reportKey(id string) string {
	return fmt.Sprintf("%s:report:%s", s.prefix, id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":reports"
}

// Save stores the record and adds it to the index in one transaction.
func (s *RedisStore) Save(ctx context.Context, rep *report.Report) (string, error) {
	if err := validate(rep); err != nil {
		return "", err
	}
	data, err := json.Marshal(NewRecord(rep))
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.reportKey(rep.ID), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(rep.GeneratedAt.Unix()),
			Member: rep.ID,
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store report in Redis: %w", err)
	}
	return rep.ID, nil
}

// Get loads one record.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.reportKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("report %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get report from Redis: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &rec, nil
}

// List walks the index newest first. IDs whose record expired are pruned.
func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		rec.Markdown = ""
		records = append(records, *rec)
	}
	return records, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
