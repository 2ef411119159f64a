package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	idempotencyTTL     = 24 * time.Hour
	idempotencyLockTTL = 30 * time.Second
)

// storedResponse is what a replayed request receives.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// idempotency remembers responses to requests carrying an
// Idempotency-Key. Without Redis every call is a no-op and requests run
// normally.
type idempotency struct {
	client *redis.Client
	log    *zap.Logger

	warnedUnavailable atomic.Bool
}

func newIdempotency(url string, logger *zap.Logger) *idempotency {
	i := &idempotency{log: logger}
	if url == "" {
		logger.Info("REDIS_URL not set, idempotency keys are ignored")
		return i
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("invalid REDIS_URL, idempotency keys are ignored", zap.Error(err))
		return i
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, idempotency keys are ignored", zap.Error(err))
		_ = client.Close()
		return i
	}
	i.client = client
	return i
}

func (i *idempotency) enabled() bool {
	return i != nil && i.client != nil
}

func (i *idempotency) warnUnavailableOnce(err error) {
	if i.warnedUnavailable.CompareAndSwap(false, true) {
		i.log.Warn("redis call failed, continuing without idempotency", zap.Error(err))
	}
}

// lookup returns the stored response for key, if any.
func (i *idempotency) lookup(ctx context.Context, key string) (*storedResponse, bool) {
	if !i.enabled() {
		return nil, false
	}
	b, err := i.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			i.warnUnavailableOnce(err)
		}
		return nil, false
	}
	var resp storedResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// acquire marks key as in flight. It reports false when another request
// holds it. Redis failures let the request through.
func (i *idempotency) acquire(ctx context.Context, key string) bool {
	if !i.enabled() {
		return true
	}
	ok, err := i.client.SetNX(ctx, key+":lock", "1", idempotencyLockTTL).Result()
	if err != nil {
		i.warnUnavailableOnce(err)
		return true
	}
	return ok
}

func (i *idempotency) release(ctx context.Context, key string) {
	if !i.enabled() {
		return
	}
	if err := i.client.Del(ctx, key+":lock").Err(); err != nil {
		i.warnUnavailableOnce(err)
	}
}

func (i *idempotency) save(ctx context.Context, key string, status int, body any) {
	if !i.enabled() {
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return
	}
	b, err := json.Marshal(storedResponse{Status: status, Body: raw})
	if err != nil {
		return
	}
	if err := i.client.Set(ctx, key, b, idempotencyTTL).Err(); err != nil {
		i.warnUnavailableOnce(err)
	}
}

func (i *idempotency) close() {
	if i.enabled() {
		_ = i.client.Close()
	}
}
