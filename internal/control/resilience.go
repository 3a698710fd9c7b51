package control

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenSignalResilient is the shared loop for long-lived Redis
// subscriptions. It survives disconnects, resynchronizes state through
// onReconnect after every successful (re)subscribe, and parses
// "state:detail" payloads where state is on/off (or true/false).
func ListenSignalResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func(ctx context.Context) error,
	onMessage func(state bool, detail string),
) {
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Resync on every successful connect so signals missed while
		// disconnected are not lost.
		if onReconnect != nil {
			if err := onReconnect(ctx); err != nil {
				logger.Error("sync failed on reconnect", zap.String("chan", channel), zap.Error(err))
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // channel closed, resubscribe
				}
				state, detail, ok := parseSignal(msg.Payload)
				if !ok {
					logger.Error("invalid signal format", zap.String("chan", channel), zap.String("payload", msg.Payload))
					continue
				}
				onMessage(state, detail)
			}
		}

		pubsub.Close()
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
	}
}

func parseSignal(payload string) (state bool, detail string, ok bool) {
	head, tail, found := strings.Cut(payload, ":")
	if !found {
		head = payload
	}
	switch head {
	case "on", "true":
		return true, tail, true
	case "off", "false":
		return false, tail, true
	}
	return false, "", false
}
