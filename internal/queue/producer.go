package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/notes-ocr-service/internal/clients"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
	"github.com/adverant/nexus/notes-ocr-service/internal/processor"
)

// TaskTypeDeliver is the asynq task type for student delivery
const TaskTypeDeliver = "analysis:deliver"

// excerptRunes bounds the OCR text carried in a delivery
const excerptRunes = 280

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	RedisURL  string
	QueueName string
	MaxRetry  int
}

// Producer enqueues delivery tasks
type Producer struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	logger   *logging.Logger
}

// NewProducer creates a delivery producer
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	maxRetry := cfg.MaxRetry
	if maxRetry < 0 {
		maxRetry = 0
	}

	return &Producer{
		client:   asynq.NewClient(redisOpt),
		queue:    cfg.QueueName,
		maxRetry: maxRetry,
		logger:   logging.NewLogger("DeliveryProducer"),
	}, nil
}

// EnqueueDelivery schedules delivery of the response to its student and
// returns the delivery id
func (p *Producer) EnqueueDelivery(ctx context.Context, resp *processor.PipelineResponse) (string, error) {
	req, err := NewDeliveryRequest(resp, time.Now())
	if err != nil {
		return "", err
	}

	task, err := NewDeliveryTask(req)
	if err != nil {
		return "", err
	}

	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queue),
		asynq.MaxRetry(p.maxRetry),
		asynq.TaskID(req.DeliveryID),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	p.logger.Info("Delivery enqueued",
		"deliveryId", req.DeliveryID,
		"requestId", resp.RequestID,
		"studentId", req.StudentID,
		"queue", info.Queue)
	return req.DeliveryID, nil
}

// Close closes the Redis connection
func (p *Producer) Close() error {
	return p.client.Close()
}

// NewDeliveryRequest summarizes a pipeline response for the student
func NewDeliveryRequest(resp *processor.PipelineResponse, now time.Time) (*clients.DeliveryRequest, error) {
	if resp == nil {
		return nil, fmt.Errorf("response is required")
	}
	studentID := strings.TrimSpace(resp.AIAnalysis.StudentID)
	if studentID == "" {
		return nil, fmt.Errorf("response %s has no student id", resp.RequestID)
	}

	an := resp.AIAnalysis
	return &clients.DeliveryRequest{
		DeliveryID:    uuid.NewString(),
		StudentID:     studentID,
		FileName:      resp.FileName,
		Subject:       an.Subject,
		Difficulty:    an.Difficulty,
		Understanding: an.Understanding,
		Concepts:      an.Concepts,
		Gaps:          an.Gaps,
		Suggestions:   an.Suggestions,
		Excerpt:       excerpt(resp.OCRResult.Text),
		CreatedAt:     now.UTC(),
	}, nil
}

// NewDeliveryTask wraps a delivery request in an asynq task
func NewDeliveryTask(req *clients.DeliveryRequest) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery: %w", err)
	}
	return asynq.NewTask(TaskTypeDeliver, payload), nil
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:excerptRunes])) + "…"
}
