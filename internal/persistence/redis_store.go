package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MimeLyc/profile-letterbox/internal/jobs"
	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

const defaultRedisPrefix = "letterbox:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	Prefix   string // Key prefix, defaults to "letterbox:"
}

// RedisStore is a jobs.Store keeping one JSON document per job plus an id index set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Info("Connected to Redis job store at %s (db %d)", cfg.Addr, cfg.DB)
	return newRedisStore(client, cfg.Prefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "jobs"
}

func (s *RedisStore) jobKey(id string) string {
	return s.prefix + "job:" + id
}

func (s *RedisStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	ret := make([]*jobs.Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a document
			log.Warn("Job %s is indexed but missing in Redis", ids[i])
			continue
		}
		var job jobs.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Warn("Skipping undecodable job %s: %v", ids[i], err)
			continue
		}
		ret = append(ret, &job)
	}
	return ret, nil
}

func (s *RedisStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(job.ID), data, 0)
		pipe.SAdd(ctx, s.indexKey(), job.ID)
		return nil
	})
	return err
}

func (s *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.jobKey(jobID))
		pipe.SRem(ctx, s.indexKey(), jobID)
		return nil
	})
	return err
}
