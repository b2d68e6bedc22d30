package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/roomchat/pkg/logging"
)

// KafkaBroker carries every room over a single topic, keyed by channel name so
// a room's messages stay on one partition in publish order. Each instance
// reads the whole topic through its own consumer group and keeps only the
// channels it is subscribed to.
type KafkaBroker struct {
	brokers []string
	topic   string
	groupID string
	log     hclog.Logger

	writer *kafka.Writer
	reader *kafka.Reader

	mu         sync.RWMutex
	subscribed map[string]struct{}

	events    chan Event
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewKafkaBroker(brokers []string, topic string, logger hclog.Logger) *KafkaBroker {
	return &KafkaBroker{
		brokers: brokers,
		topic:   topic,
		// Unique group per instance: every gateway must see every message.
		groupID:    "roomchat-gateway-" + uuid.NewString(),
		log:        logging.OrDiscard(logger).Named("kafka"),
		subscribed: make(map[string]struct{}),
		events:     make(chan Event),
		done:       make(chan struct{}),
	}
}

func (b *KafkaBroker) Connect(ctx context.Context) error {
	if len(b.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka %s: %w", b.brokers[0], err)
	}
	_ = conn.Close()

	b.writer = &kafka.Writer{
		Addr:                   kafka.TCP(b.brokers...),
		Topic:                  b.topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	b.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       b.topic,
		GroupID:     b.groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})

	readCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.consume(readCtx)
	return nil
}

func (b *KafkaBroker) consume(ctx context.Context) {
	defer close(b.done)
	defer close(b.events)

	for {
		m, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error("kafka read failed, retrying", "error", err)
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		channel := string(m.Key)
		if !b.isSubscribed(channel) {
			continue
		}
		select {
		case b.events <- Event{Kind: EventMessage, Channel: channel, Payload: m.Value}:
		case <-ctx.Done():
			return
		}
	}
}

func (b *KafkaBroker) isSubscribed(channel string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subscribed[channel]
	return ok
}

func (b *KafkaBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.writer == nil {
		return errBrokerClosed
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(channel),
		Value: payload,
		Time:  time.Now(),
	})
}

func (b *KafkaBroker) Subscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	b.subscribed[channel] = struct{}{}
	b.mu.Unlock()
	return nil
}

func (b *KafkaBroker) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	delete(b.subscribed, channel)
	b.mu.Unlock()
	return nil
}

func (b *KafkaBroker) Events() <-chan Event {
	return b.events
}

func (b *KafkaBroker) CloseSubscription() error {
	var err error
	b.closeOnce.Do(func() {
		if b.cancel == nil {
			return
		}
		b.cancel()
		<-b.done
		err = b.reader.Close()
	})
	return err
}

func (b *KafkaBroker) Close() error {
	if err := b.CloseSubscription(); err != nil {
		return err
	}
	if b.writer == nil {
		return nil
	}
	return b.writer.Close()
}
