// Package redisbus relays clienthub broadcast frames across process
// boundaries so multiple labctl-server instances, each owning a disjoint
// set of serial-linked devices, can present their clients with a single
// merged event stream. Every relay instance publishes to and subscribes
// from the same Redis Pub/Sub channel, so a frame broadcast on one
// instance arrives as an inbound message on every other.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Relay publishes and receives clienthub broadcast frames over a single
// Redis Pub/Sub channel.
type Relay struct {
	rdb     *redis.Client
	channel string
	health  *Monitor
}

// New creates a Relay bound to channel on rdb. The caller owns rdb's
// lifecycle (Close it after the relay is done).
func New(rdb *redis.Client, channel string) *Relay {
	return &Relay{rdb: rdb, channel: channel, health: newMonitor(rdb)}
}

// Health returns the relay's connection monitor, for exposing Redis
// reachability on the system status endpoint.
func (r *Relay) Health() *Monitor {
	return r.health
}

// Publish sends a single clienthub broadcast frame to every relay
// subscribed to the channel, this one included: Redis delivers the frame
// to this relay's own Run callback as well. A caller that must skip its
// own frames tags them with Wrap and filters on the instance Unwrap returns.
func (r *Relay) Publish(ctx context.Context, data []byte) error {
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redisbus: publish: %w", err)
	}
	return nil
}

// Run subscribes to the relay's channel and invokes onMessage for every
// frame received on it, this instance's own publications included, until
// ctx is cancelled. It also
// drives the relay's health monitor in the background.
func (r *Relay) Run(ctx context.Context, onMessage func(data []byte)) error {
	go r.health.Run(ctx)

	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redisbus: subscription channel closed")
			}
			onMessage([]byte(msg.Payload))
		}
	}
}

// envelope tags a relayed frame with the instance that published it, so
// a relay can recognize and skip its own frames if the caller chooses to
// wire onMessage back into the same instance's Publish path.
type envelope struct {
	Instance string          `json:"instance"`
	Frame    json.RawMessage `json:"frame"`
}

// Wrap tags data with instance before publishing, allowing receivers to
// filter out frames they themselves originated.
func Wrap(instance string, data []byte) ([]byte, error) {
	out, err := json.Marshal(envelope{Instance: instance, Frame: data})
	if err != nil {
		return nil, fmt.Errorf("redisbus: wrap: %w", err)
	}
	return out, nil
}

// Unwrap extracts the originating instance tag and the inner frame from
// a Wrap'd message. Malformed input is reported as an error (nothing is
// logged here) rather than panicking the relay's receive loop.
func Unwrap(data []byte) (instance string, frame []byte, err error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("redisbus: unwrap: %w", err)
	}
	return env.Instance, []byte(env.Frame), nil
}
