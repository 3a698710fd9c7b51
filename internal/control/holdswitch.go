package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kinetra/agentplane/internal/infra"
)

// HoldSwitch is the compliance emergency stop. While engaged, the
// policy engine downgrades every auto-approval to require_review and
// the executor refuses to run anything. State lives in a local cache
// synchronized across instances over Redis; with no Redis client the
// switch is process-local.
type HoldSwitch struct {
	mu     sync.RWMutex
	held   bool
	reason string

	rdb    *redis.Client
	logger *zap.Logger
}

func NewHoldSwitch(rdb *redis.Client, logger *zap.Logger) *HoldSwitch {
	return &HoldSwitch{rdb: rdb, logger: logger.Named("holdswitch")}
}

// Init loads the persisted hold state at startup so a restarted
// instance does not silently resume execution during an active hold.
func (h *HoldSwitch) Init(ctx context.Context) error {
	if h.rdb == nil {
		return nil
	}
	reason, err := h.rdb.Get(ctx, infra.RedisKeyHold).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("holdswitch: load state: %w", err)
	}
	h.set(true, reason)
	return nil
}

// Held reports the current hold state and its reason.
func (h *HoldSwitch) Held() (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.held, h.reason
}

// Engage activates the hold and broadcasts it to every instance.
func (h *HoldSwitch) Engage(ctx context.Context, reason string) error {
	h.set(true, reason)
	if h.rdb == nil {
		return nil
	}
	if err := h.rdb.Set(ctx, infra.RedisKeyHold, reason, 0).Err(); err != nil {
		return fmt.Errorf("holdswitch: persist: %w", err)
	}
	return h.rdb.Publish(ctx, infra.RedisChanHold, "on:"+reason).Err()
}

// Release clears the hold and broadcasts the release.
func (h *HoldSwitch) Release(ctx context.Context) error {
	h.set(false, "")
	if h.rdb == nil {
		return nil
	}
	if err := h.rdb.Del(ctx, infra.RedisKeyHold).Err(); err != nil {
		return fmt.Errorf("holdswitch: clear: %w", err)
	}
	return h.rdb.Publish(ctx, infra.RedisChanHold, "off:").Err()
}

// StartListener follows hold signals published by other instances.
// Blocks until ctx is done; run it in its own goroutine.
func (h *HoldSwitch) StartListener(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	ListenSignalResilient(ctx, h.rdb, h.logger, infra.RedisChanHold,
		h.Init,
		func(state bool, detail string) {
			h.set(state, detail)
			if state {
				h.logger.Warn("compliance hold engaged", zap.String("reason", detail))
			} else {
				h.logger.Info("compliance hold released")
			}
		},
	)
}

func (h *HoldSwitch) set(held bool, reason string) {
	h.mu.Lock()
	h.held = held
	h.reason = reason
	h.mu.Unlock()
}
