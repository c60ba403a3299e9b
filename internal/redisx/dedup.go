package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed event ids per consuming service.
type Deduper struct {
	rdb     redis.Cmdable
	service string
}

func NewDeduper(rdb redis.Cmdable, service string) *Deduper {
	return &Deduper{rdb: rdb, service: service}
}

func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.rdb, fmt.Sprintf(KeyDedup, d.service, eventID))
}

func (d *Deduper) Mark(ctx context.Context, eventID string) error {
	return d.rdb.Set(ctx, fmt.Sprintf(KeyDedup, d.service, eventID), "1", TTLDedup).Err()
}
