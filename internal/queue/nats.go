package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/dhanababum/supermcp-sub001/internal/config"
)

// NATSPublisher implements Publisher using NATS JetStream.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    *config.QueueConfig
}

// Compile-time check that NATSPublisher implements Publisher.
var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a new NATS JetStream publisher.
// It connects to NATS, creates the JetStream context, and ensures
// the stream exists with the required configuration.
func NewNATSPublisher(cfg *config.QueueConfig) (*NATSPublisher, error) {
	// Connect to NATS with retry options
	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Create or update stream
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamConfig := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Pool invalidation tasks",
		Subjects: []string{
			cfg.StreamName + ".invalidate",
		},
		Retention:    jetstream.WorkQueuePolicy,
		MaxConsumers: -1,
		MaxMsgs:      -1,
		MaxBytes:     -1,
		MaxAge:       24 * time.Hour,
		Storage:      jetstream.FileStorage,
		Replicas:     1,
		Discard:      jetstream.DiscardOld,
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamConfig)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &NATSPublisher{
		nc:     nc,
		js:     js,
		stream: stream,
		cfg:    cfg,
	}, nil
}

// PublishInvalidation publishes an invalidation task to the stream.
func (p *NATSPublisher) PublishInvalidation(ctx context.Context, task InvalidationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	subject := p.cfg.StreamName + ".invalidate"
	_, err = p.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(task.TaskID),
	)
	if err != nil {
		return fmt.Errorf("failed to publish invalidation task: %w", err)
	}

	return nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// NATSConsumer implements Consumer using NATS JetStream pull consumers.
type NATSConsumer struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	handler InvalidationHandler
	cfg     *config.QueueConfig

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// Compile-time check that NATSConsumer implements Consumer.
var _ Consumer = (*NATSConsumer)(nil)

// NewNATSConsumer creates a new NATS JetStream consumer with the given
// invalidation handler.
func NewNATSConsumer(cfg *config.QueueConfig, handler InvalidationHandler) (*NATSConsumer, error) {
	// Connect to NATS
	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Get stream handle (must exist - created by publisher)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get stream %s: %w", cfg.StreamName, err)
	}

	return &NATSConsumer{
		nc:      nc,
		js:      js,
		stream:  stream,
		handler: handler,
		cfg:     cfg,
	}, nil
}

// Start begins consuming messages with WorkerCount goroutines.
func (c *NATSConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer already running")
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       "invalidation-workers",
		Description:   "Workers that process pool invalidation tasks",
		FilterSubject: c.cfg.StreamName + ".invalidate",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: c.cfg.WorkerCount * 2,
	}

	cons, err := c.stream.CreateOrUpdateConsumer(ctx, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create invalidation consumer: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.runWorker(cons, workerID)
		}(i)
	}

	// Wait for all workers in separate goroutine
	go func() {
		wg.Wait()
		close(c.doneCh)
	}()

	log.Printf("NATS consumer started with %d invalidation workers", c.cfg.WorkerCount)

	return nil
}

// runWorker processes invalidation tasks.
func (c *NATSConsumer) runWorker(cons jetstream.Consumer, workerID int) {
	log.Printf("Invalidation worker %d started", workerID)
	defer log.Printf("Invalidation worker %d stopped", workerID)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		// Fetch messages with timeout
		msgs, err := cons.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if err != context.DeadlineExceeded {
				log.Printf("Invalidation worker %d fetch error: %v", workerID, err)
			}
			continue
		}

		for msg := range msgs.Messages() {
			c.processMessage(msg, workerID)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			log.Printf("Invalidation worker %d messages error: %v", workerID, msgs.Error())
		}
	}
}

func (c *NATSConsumer) processMessage(msg jetstream.Msg, workerID int) {
	var task InvalidationTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		log.Printf("Worker %d: failed to unmarshal invalidation task: %v", workerID, err)
		msg.Term() // Terminate - don't redeliver malformed messages
		return
	}

	log.Printf("Worker %d processing invalidation task: %s (tenant: %s)", workerID, task.TaskID, task.TenantID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.handler(ctx, task); err != nil {
		log.Printf("Worker %d: invalidation task %s failed: %v", workerID, task.TaskID, err)
		msg.Nak() // Negative ack - will be redelivered
		return
	}

	msg.Ack()
	log.Printf("Worker %d completed invalidation task: %s", workerID, task.TaskID)
}

// Stop gracefully stops the consumer.
func (c *NATSConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	close(c.stopCh)
	c.running = false
	c.mu.Unlock()

	// Wait for workers to finish or context timeout
	select {
	case <-c.doneCh:
		log.Println("All NATS consumer workers stopped")
	case <-ctx.Done():
		log.Println("NATS consumer stop timed out")
	}

	// Drain connection
	return c.nc.Drain()
}
