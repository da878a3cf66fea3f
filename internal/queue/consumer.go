/**
 * Delivery Consumer - sends finished analyses to students
 *
 * Consumes analysis:deliver tasks from Redis via asynq and posts each summary
 * to the notification service. Failed deliveries are retried with exponential
 * backoff; malformed payloads are dropped without retry.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/notes-ocr-service/internal/clients"
	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

// Notifier delivers one analysis summary
type Notifier interface {
	DeliverAnalysis(ctx context.Context, req *clients.DeliveryRequest) (*clients.DeliveryResponse, error)
}

// Consumer handles delivery task consumption from the Redis queue
type Consumer struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	notifier Notifier
	config   *ConsumerConfig
	logger   *logging.Logger

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Notifier    Notifier
	// DeliveryTimeout bounds a single notification call (default: 30s)
	DeliveryTimeout time.Duration
}

// NewConsumer creates a new delivery consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Notifier == nil {
		return nil, fmt.Errorf("Notifier is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	consumer := newHandlerOnly(cfg)

	consumer.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				consumer.logger.Warn("Delivery task failed",
					"type", task.Type(),
					"retry", retried,
					"maxRetry", maxRetry,
					"error", err)
			}),
			Logger: consumer.logger.Entry(),
		},
	)

	consumer.mux = asynq.NewServeMux()
	consumer.mux.HandleFunc(TaskTypeDeliver, consumer.handleDeliver)

	return consumer, nil
}

// newHandlerOnly builds a consumer without a server, enough to run handlers
func newHandlerOnly(cfg *ConsumerConfig) *Consumer {
	return &Consumer{
		notifier: cfg.Notifier,
		config:   cfg,
		logger:   logging.NewLogger("DeliveryConsumer"),
	}
}

// retryDelay is exponential backoff: 5s, 10s, 20s ... capped at 60s
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if n > 4 {
		return 60 * time.Second
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// Start starts the consumer in the background
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting delivery consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start delivery consumer: %w", err)
	}
	return nil
}

// Stop waits for in-flight deliveries and stops the consumer
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping delivery consumer")
	c.server.Shutdown()
	c.logger.Info("Delivery consumer stopped")
	return nil
}

// handleDeliver posts one analysis summary to the notification service
func (c *Consumer) handleDeliver(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var req clients.DeliveryRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		c.dropped.Add(1)
		c.logger.Error("Dropping malformed delivery task", "error", err)
		return fmt.Errorf("failed to unmarshal delivery payload: %v: %w", err, asynq.SkipRetry)
	}
	if req.StudentID == "" {
		c.dropped.Add(1)
		c.logger.Error("Dropping delivery without student", "deliveryId", req.DeliveryID)
		return fmt.Errorf("delivery %s has no student id: %w", req.DeliveryID, asynq.SkipRetry)
	}

	timeout := 30 * time.Second
	if c.config.DeliveryTimeout > 0 {
		timeout = c.config.DeliveryTimeout
	}
	deliverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.notifier.DeliverAnalysis(deliverCtx, &req)
	if err != nil {
		c.failed.Add(1)
		return errors.NewDeliveryFailedError(req.DeliveryID, err)
	}
	c.delivered.Add(1)

	message := ""
	if resp != nil {
		message = resp.Message
	}
	c.logger.Info("Analysis delivered",
		"deliveryId", req.DeliveryID,
		"studentId", req.StudentID,
		"subject", req.Subject,
		"message", message,
		"duration", time.Since(startTime))
	return nil
}

// GetStatistics returns consumer statistics since start. Failed counts
// attempts, so a delivery retried twice counts twice.
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"delivered":   c.delivered.Load(),
		"failed":      c.failed.Load(),
		"dropped":     c.dropped.Load(),
	}
}
