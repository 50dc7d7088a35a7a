package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Bus message kinds. A "deliver" message carries a finished outbound frame
// for a user connected to the receiving instance; a "dispatch" message
// forwards a raw command envelope to the instance owning the target user.
const (
	KindDeliver  = "deliver"
	KindDispatch = "dispatch"
)

// BusMessage is the unit published between instances. Delivery is
// fire-and-forget and at-most-once: it only ever carries notifications about
// already-committed state, never the mutation itself.
type BusMessage struct {
	Kind       string          `json:"kind"`
	ToUserID   string          `json:"toUserId,omitempty"`
	FromUserID string          `json:"fromUserId,omitempty"`
	FromAdmin  bool            `json:"fromAdmin,omitempty"`
	Frame      json.RawMessage `json:"frame,omitempty"`
	Envelope   json.RawMessage `json:"envelope,omitempty"`
}

// Handler consumes messages arriving on this instance's channel.
type Handler func(msg BusMessage)

// Bus is the per-instance publish/subscribe channel pair layered on the same
// redis the directory uses. Start subscribes to the local channel; Stop
// unsubscribes before closing so no message lands on a dead handler.
type Bus struct {
	rdb        *redis.Client
	logger     *zap.Logger
	stackName  string
	instanceID string

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewBus(rdb *redis.Client, logger *zap.Logger, stackName, instanceID string) *Bus {
	return &Bus{
		rdb:        rdb,
		logger:     logger,
		stackName:  stackName,
		instanceID: instanceID,
	}
}

func (b *Bus) channelFor(instanceID string) string {
	return fmt.Sprintf("%s:task:%s", b.stackName, instanceID)
}

// Publish sends a message to the named instance's channel. A publish to an
// instance that died between lookup and publish is silently lost; the ledger
// has already committed, only the notification is gone.
func (b *Bus) Publish(ctx context.Context, instanceID string, msg BusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus marshal: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channelFor(instanceID), data).Err(); err != nil {
		return fmt.Errorf("bus publish: %w", err)
	}
	return nil
}

// Start subscribes to this instance's own channel and pumps messages into
// the handler until Stop is called.
func (b *Bus) Start(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub != nil {
		return nil
	}

	pubsub := b.rdb.Subscribe(ctx, b.channelFor(b.instanceID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("bus subscribe: %w", err)
	}

	b.pubsub = pubsub
	b.done = make(chan struct{})

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-b.done:
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg BusMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.logger.Error("bus: dropping malformed message",
						zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				handler(msg)
			}
		}
	}()

	return nil
}

// Stop unsubscribes and closes the channel. Safe to call more than once.
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub == nil {
		return nil
	}

	close(b.done)
	if err := b.pubsub.Unsubscribe(context.Background(), b.channelFor(b.instanceID)); err != nil {
		b.pubsub.Close()
		b.pubsub = nil
		return fmt.Errorf("bus unsubscribe: %w", err)
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
