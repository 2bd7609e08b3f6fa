package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/landhub-tz/backend/internal/logger"
)

// ChannelPlotUpdates is the shared pub/sub channel every instance
// publishes to and subscribes on.
const ChannelPlotUpdates = "plot_updates"

// relayMessage tags an envelope with its origin instance so a process
// does not re-deliver its own broadcasts; local delivery already
// happened at publish time.
type relayMessage struct {
	Origin   string   `json:"origin"`
	Envelope Envelope `json:"envelope"`
}

// Relay bridges the local registry and the cross-instance channel.
// Delivery across instances is at-least-once with no total order.
type Relay struct {
	rdb        *redis.Client
	registry   *Registry
	log        *logger.Logger
	instanceID string
}

// NewRelay creates a relay for the given registry.
func NewRelay(rdb *redis.Client, registry *Registry, log *logger.Logger) *Relay {
	return &Relay{
		rdb:        rdb,
		registry:   registry,
		log:        log,
		instanceID: uuid.New().String(),
	}
}

// Publish delivers an envelope to local connections and republishes it
// on the shared channel for sibling instances. The channel publish is
// best-effort; local delivery never depends on Redis being reachable.
func (r *Relay) Publish(ctx context.Context, env Envelope) {
	r.registry.BroadcastLocal(env)

	payload, err := json.Marshal(relayMessage{Origin: r.instanceID, Envelope: env})
	if err != nil {
		r.log.Error("Failed to encode relay message", err, nil)
		return
	}
	if err := r.rdb.Publish(ctx, ChannelPlotUpdates, payload).Err(); err != nil {
		r.log.Warn("Cross-instance publish failed", map[string]interface{}{
			"channel": ChannelPlotUpdates,
			"error":   err.Error(),
		})
	}
}

// Run subscribes to the shared channel and re-broadcasts sibling
// messages to the local registry until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, ChannelPlotUpdates)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var relayed relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &relayed); err != nil {
				r.log.Warn("Dropping undecodable relay message", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			if relayed.Origin == r.instanceID {
				continue
			}
			r.registry.BroadcastLocal(relayed.Envelope)
		}
	}
}
