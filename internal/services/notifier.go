package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const notificationQueue = "notification_events"

// RedisNotificationSink pushes events onto a Redis list for the excluded
// notification fan-out layer to drain. Push failures are the caller's
// problem to log, never to act on.
type RedisNotificationSink struct {
	redis *redis.Client
}

func NewRedisNotificationSink(redisClient *redis.Client) *RedisNotificationSink {
	return &RedisNotificationSink{redis: redisClient}
}

func (s *RedisNotificationSink) Emit(ctx context.Context, eventType, accountID string, payload map[string]any) error {
	event := map[string]any{
		"id":         uuid.New().String(),
		"event":      eventType,
		"account_id": accountID,
		"payload":    payload,
		"emitted_at": time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.redis.RPush(ctx, notificationQueue, data).Err()
}

// LogNotificationSink is the fallback when Redis is unavailable.
type LogNotificationSink struct{}

func (LogNotificationSink) Emit(_ context.Context, eventType, accountID string, _ map[string]any) error {
	log.Printf("[NOTIFY] %s account=%s", eventType, accountID)
	return nil
}

// emitEvent sends a notification and swallows any sink failure: a missed
// notification never affects transaction status.
func emitEvent(ctx context.Context, sink NotificationSink, eventType, accountID string, payload map[string]any) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, eventType, accountID, payload); err != nil {
		log.Printf("[NOTIFY] emit %s failed for account %s: %v", eventType, accountID, err)
	}
}
