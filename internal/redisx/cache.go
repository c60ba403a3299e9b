package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
)

// Cache implements enrollment.Cache on Redis.
type Cache struct {
	rdb redis.Cmdable
}

var _ enrollment.Cache = (*Cache)(nil)

func NewCache(rdb redis.Cmdable) *Cache { return &Cache{rdb: rdb} }

func (c *Cache) getJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		// corrupt entry: treat as a miss and let it be overwritten
		return false, nil
	}
	return true, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

func (c *Cache) WebhookResult(ctx context.Context, eventID string) (enrollment.WebhookResult, bool, error) {
	var res enrollment.WebhookResult
	ok, err := c.getJSON(ctx, fmt.Sprintf(KeyWebhookDedup, eventID), &res)
	return res, ok, err
}

func (c *Cache) RememberWebhook(ctx context.Context, eventID string, res enrollment.WebhookResult) error {
	return c.setJSON(ctx, fmt.Sprintf(KeyWebhookDedup, eventID), res, TTLWebhookDedup)
}

func (c *Cache) OrderState(ctx context.Context, orderID string) (enrollment.OrderState, bool, error) {
	var st enrollment.OrderState
	ok, err := c.getJSON(ctx, fmt.Sprintf(KeyOrderStatus, orderID), &st)
	return st, ok, err
}

func (c *Cache) SetOrderState(ctx context.Context, orderID string, st enrollment.OrderState) error {
	return c.setJSON(ctx, fmt.Sprintf(KeyOrderStatus, orderID), st, TTLStatusCache)
}

func (c *Cache) ForgetOrder(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

func (c *Cache) Enrolled(ctx context.Context, studentID int64, courseID string) (bool, error) {
	return Exists(ctx, c.rdb, fmt.Sprintf(KeyEnrolled, studentID, courseID))
}

func (c *Cache) SetEnrolled(ctx context.Context, studentID int64, courseID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyEnrolled, studentID, courseID), "1", TTLEnrolled).Err()
}

func (c *Cache) ForgetEnrolled(ctx context.Context, studentID int64, courseID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyEnrolled, studentID, courseID)).Err()
}
