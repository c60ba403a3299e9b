package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when the message was processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Fetcher is the part of *kafka.Reader the consumer uses.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultRetryMin = 200 * time.Millisecond
	defaultRetryMax = 10 * time.Second
)

type Consumer struct {
	r        Fetcher
	workers  int
	retryMin time.Duration
	retryMax time.Duration
	log      *zap.Logger
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r Fetcher, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, retryMin: defaultRetryMin, retryMax: defaultRetryMax, log: log}
}

// slot pins every partition to one worker so its messages are handled and committed in offset order.
func (c *Consumer) slot(m kafka.Message) int {
	return int((xxhash.Sum64String(m.Topic) + uint64(m.Partition)) % uint64(c.workers))
}

// Start dispatches messages to a pool of workers until ctx is done or the reader fails.
// A committed offset covers every earlier offset of its partition, so a failing message is
// retried with backoff and blocks its partition until it succeeds or ctx ends.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(id int, q <-chan kafka.Message) {
			defer wg.Done()
			for m := range q {
				if !c.process(ctx, id, m, h) {
					return
				}
			}
		}(i, queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case queues[c.slot(m)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// process runs h until it succeeds and then commits m. It returns false when ctx ended first;
// m stays uncommitted and is redelivered to the next member of the group.
func (c *Consumer) process(ctx context.Context, worker int, m kafka.Message, h Handler) bool {
	wait := c.retryMin
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		c.log.Warn("handler failed, retrying",
			zap.Int("worker", worker),
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		if wait *= 2; wait > c.retryMax {
			wait = c.retryMax
		}
	}

	if err := c.r.CommitMessages(ctx, m); err != nil {
		// a later commit on the same partition covers this offset
		c.log.Error("commit failed",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
	}
	return ctx.Err() == nil
}
