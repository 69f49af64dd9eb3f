package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apmoney/backend/pkg/config"
	"github.com/apmoney/backend/pkg/logger"
)

const (
	RechargeQueue     = "recharge_jobs"
	RechargeDLQ       = "recharge_jobs_dead"
	NotificationQueue = "notifications"
)

type RedisClient struct {
	Client *redis.Client
}

// RechargeJob is the queue contract between the initiation handler and the
// recharge worker. Amounts are in minor units.
type RechargeJob struct {
	TransactionID string    `json:"transaction_id"`
	TxnRef        string    `json:"txn_ref"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	ServiceCharge int64     `json:"service_charge"`
	OperatorCode  string    `json:"operator_code"`
	Mobile        string    `json:"mobile"`
	Provider      string    `json:"provider,omitempty"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

type Notification struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

func NewRedisClient(cfg config.Config) *RedisClient {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis url", logger.Fields{"error": err.Error(), "url": cfg.RedisURL})
		opt = &redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		}
	}

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Error("Failed to connect to Redis", logger.Fields{"error": err.Error(), "url": cfg.RedisURL})

	} else {
		logger.Info("Connected to Redis", logger.Fields{"url": cfg.RedisURL})
	}

	return &RedisClient{Client: rdb}
}

func (r *RedisClient) EnqueueRecharge(ctx context.Context, job RechargeJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal recharge job: %v", err)
	}

	if err := r.Client.RPush(ctx, RechargeQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to push recharge job to redis: %v", err)
	}

	return nil
}

// DequeueRecharge blocks up to timeout waiting for the next job. A nil job
// with a nil error means the wait timed out and the caller should loop.
func (r *RedisClient) DequeueRecharge(ctx context.Context, timeout time.Duration) (*RechargeJob, error) {
	res, err := r.Client.BLPop(ctx, timeout, RechargeQueue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop recharge job from redis: %v", err)
	}
	if len(res) < 2 {
		return nil, nil
	}

	var job RechargeJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recharge job: %v", err)
	}
	return &job, nil
}

func (r *RedisClient) PushToDLQ(ctx context.Context, data []byte) error {
	if err := r.Client.RPush(ctx, RechargeDLQ, data).Err(); err != nil {
		return fmt.Errorf("failed to push job to DLQ: %v", err)
	}
	return nil
}

func (r *RedisClient) EnqueueNotification(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %v", err)
	}
	if err := r.Client.RPush(ctx, NotificationQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to push notification to redis: %v", err)
	}
	return nil
}
