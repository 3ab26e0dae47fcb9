package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Channel receives every job update as JSON.
	Channel = "enricher:jobs"

	jobKeyPrefix = "enricher:job:"

	defaultLogCap = 500
	defaultTTL    = 7 * 24 * time.Hour
)

// JobKey returns the Redis hash holding a job's latest progress.
func JobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

// LogKey returns the Redis list holding a job's recent log lines.
func LogKey(jobID string) string {
	return jobKeyPrefix + jobID + ":logs"
}

// logLine is the JSON stored in the log list.
type logLine struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RedisSink publishes job progress to Redis: a hash per job, a capped list
// of log lines, and a pub/sub channel for live watchers.
type RedisSink struct {
	redis  *redis.Client
	logCap int64
	ttl    time.Duration
}

// NewRedisSink creates a Redis progress sink.
func NewRedisSink(redisClient *redis.Client) (*RedisSink, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisSink{
		redis:  redisClient,
		logCap: defaultLogCap,
		ttl:    defaultTTL,
	}, nil
}

// UpdateJob stores the update in the job hash and publishes it.
func (s *RedisSink) UpdateJob(ctx context.Context, u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal job update: %w", err)
	}

	key := JobKey(u.JobID)
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", string(u.Status),
			"items_processed", u.ItemsProcessed,
			"items_failed", u.ItemsFailed,
			"total_items", u.TotalItems,
			"result_message", u.ResultMessage,
			"updated_at", time.Now().UTC().Format(time.RFC3339),
		)
		pipe.Expire(ctx, key, s.ttl)
		pipe.Publish(ctx, Channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis update job %s: %w", u.JobID, err)
	}
	return nil
}

// AppendLog pushes a log line, keeping only the most recent entries.
func (s *RedisSink) AppendLog(ctx context.Context, jobID string, level Level, message string) error {
	payload, err := json.Marshal(logLine{Level: level, Message: message, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal job log: %w", err)
	}

	key := LogKey(jobID)
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, -s.logCap, -1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append log %s: %w", jobID, err)
	}
	return nil
}
