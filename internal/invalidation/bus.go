// Package invalidation fans avatar cache evictions out to every instance
// of the service over Redis pub/sub. It only matters for per-instance
// caches; a shared Redis cache is already coherent.
package invalidation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-live/avatar-service/pkg/log"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/pubsub"
)

const EventInvalidate = "avatar.invalidate"

// Broadcaster announces that an avatar key's cached entries are stale.
type Broadcaster interface {
	Broadcast(ctx context.Context, avatarKey string) error
}

// Invalidator evicts an avatar key's entries from a local cache.
type Invalidator interface {
	Invalidate(ctx context.Context, avatarKey string) (int, error)
}

// Bus publishes invalidations and applies those published by other
// instances to the local cache.
type Bus struct {
	ps      pubsub.PubSub
	channel string
	origin  string
	local   Invalidator
}

// NewBus creates a bus on channel. Events published by this bus are
// ignored by its own listener, since the caller already evicted locally.
func NewBus(ps pubsub.PubSub, channel string, local Invalidator) *Bus {
	return &Bus{
		ps:      ps,
		channel: channel,
		origin:  uuid.New().String(),
		local:   local,
	}
}

// Broadcast publishes an invalidation for avatarKey.
func (b *Bus) Broadcast(ctx context.Context, avatarKey string) error {
	evt, err := pubsub.NewEvent(EventInvalidate, avatarKey, nil)
	if err != nil {
		return err
	}
	evt.Origin = b.origin
	if err := b.ps.Publish(ctx, b.channel, evt); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Start subscribes and applies remote invalidations until ctx is done.
func (b *Bus) Start(ctx context.Context) error {
	events, err := b.ps.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}

	l := log.L()
	l.Info().Str("channel", b.channel).Msg("invalidation listener started")

	go b.listen(ctx, events)
	return nil
}

func (b *Bus) listen(ctx context.Context, events <-chan *pubsub.Event) {
	l := log.L()
	for evt := range events {
		if evt.Type != EventInvalidate || evt.Origin == b.origin || evt.Key == "" {
			continue
		}
		n, err := b.local.Invalidate(ctx, evt.Key)
		if err != nil {
			l.Error().Err(err).Str(log.FieldAvatarKey, evt.Key).Msg("failed to apply remote invalidation")
			continue
		}
		l.Debug().Str(log.FieldAvatarKey, evt.Key).Int("evicted", n).Msg("applied remote invalidation")
	}
	l.Info().Str("channel", b.channel).Msg("invalidation listener stopped")
}
