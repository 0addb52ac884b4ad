package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// resourceTopic is the single topic all watcher events flow through.
// The controller consumes every kind; routing happens on Event.Kind.
const resourceTopic = "resource.events"

// Bus carries ResourceEvents from watchers to one session controller.
// It is constructed per session and injected; there is no process-wide
// instance.
type Bus struct {
	mu     sync.Mutex
	pubsub *gochannel.GoChannel
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Publish sends an event to all subscribers. Events published while
// the controller is mid-turn sit in the subscription buffer until the
// controller returns to its input race.
func (b *Bus) Publish(ev ResourceEvent) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.pubsub.Publish(resourceTopic, message.NewMessage(watermill.NewUUID(), data))
}

// Subscribe returns a channel of decoded events. The channel closes
// when ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan ResourceEvent, error) {
	msgs, err := b.pubsub.Subscribe(ctx, resourceTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan ResourceEvent)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev ResourceEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				msg.Nack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down. Pending deliveries are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}
