package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer buffers messages in an inbox and writes them from a single goroutine.
// Messages carry their own topic.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var ErrProducerClosed = errors.New("kafka: producer closed")

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Producer{
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log,
	}
	p.w = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				p.log.Error("kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return p
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

// drain flushes whatever is still buffered after the context ends.
func (p *Producer) drain() {
	for {
		select {
		case m, ok := <-p.inbox:
			if !ok {
				_ = p.w.Close()
				return
			}
			p.write(m)
		default:
			_ = p.w.Close()
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka enqueue failed", zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// Publish queues a message. It fails instead of blocking or panicking once the producer
// is closed or its loop has exited.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case <-p.closeCh:
		return ErrProducerClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.closeCh:
		return ErrProducerClosed
	}
}

// Close stops accepting messages; the loop flushes the rest and exits. Safe to call twice.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// WaitClosed blocks until the loop has exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
