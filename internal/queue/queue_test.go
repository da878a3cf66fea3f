package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/notes-ocr-service/internal/clients"
	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/processor"
)

type fakeNotifier struct {
	got []*clients.DeliveryRequest
	err error
}

func (f *fakeNotifier) DeliverAnalysis(ctx context.Context, req *clients.DeliveryRequest) (*clients.DeliveryResponse, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &clients.DeliveryResponse{Success: true, Message: "sent"}, nil
}

func sampleResponse() *processor.PipelineResponse {
	return &processor.PipelineResponse{
		RequestID: "req-1",
		FileName:  "homework.png",
		OCRResult: processor.OCRSection{Text: "2x + 5 = 15"},
		AIAnalysis: processor.AnalysisSection{
			Subject:       "Mathematics",
			Difficulty:    "beginner",
			Concepts:      []string{"Algebraic Equations"},
			Understanding: 86,
			Gaps:          []string{},
			Suggestions:   []string{"Keep practicing"},
			StudentID:     "student-7",
		},
	}
}

func TestNewDeliveryRequest(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	req, err := NewDeliveryRequest(sampleResponse(), now)
	if err != nil {
		t.Fatalf("NewDeliveryRequest() error = %v", err)
	}

	if req.DeliveryID == "" {
		t.Error("DeliveryID is empty")
	}
	if req.StudentID != "student-7" || req.Subject != "Mathematics" || req.Understanding != 86 {
		t.Errorf("request = %+v", req)
	}
	if req.Excerpt != "2x + 5 = 15" || !req.CreatedAt.Equal(now) {
		t.Errorf("Excerpt/CreatedAt = %q/%v", req.Excerpt, req.CreatedAt)
	}

	noStudent := sampleResponse()
	noStudent.AIAnalysis.StudentID = "  "
	if _, err := NewDeliveryRequest(noStudent, now); err == nil {
		t.Error("NewDeliveryRequest() without student error = nil, want error")
	}
}

func TestExcerptTruncates(t *testing.T) {
	long := strings.Repeat("é", excerptRunes+50)
	got := excerpt(long)
	if n := utf8.RuneCountInString(got); n != excerptRunes+1 {
		t.Errorf("excerpt rune count = %d, want %d", n, excerptRunes+1)
	}
	if excerpt("  short  ") != "short" {
		t.Errorf("excerpt(short) = %q", excerpt("  short  "))
	}
}

func TestHandleDeliver(t *testing.T) {
	req, err := NewDeliveryRequest(sampleResponse(), time.Now())
	if err != nil {
		t.Fatalf("NewDeliveryRequest() error = %v", err)
	}
	task, err := NewDeliveryTask(req)
	if err != nil {
		t.Fatalf("NewDeliveryTask() error = %v", err)
	}

	t.Run("delivered", func(t *testing.T) {
		notifier := &fakeNotifier{}
		c := newHandlerOnly(&ConsumerConfig{Notifier: notifier})
		if err := c.handleDeliver(context.Background(), task); err != nil {
			t.Fatalf("handleDeliver() error = %v", err)
		}
		if len(notifier.got) != 1 || notifier.got[0].DeliveryID != req.DeliveryID {
			t.Errorf("notifier got %+v", notifier.got)
		}
	})

	t.Run("notifier failure is retried", func(t *testing.T) {
		c := newHandlerOnly(&ConsumerConfig{Notifier: &fakeNotifier{err: fmt.Errorf("503")}})
		err := c.handleDeliver(context.Background(), task)
		var perr *errors.PipelineError
		if !stderrors.As(err, &perr) || perr.Code != errors.ErrorDeliveryFailed {
			t.Fatalf("handleDeliver() error = %v, want DELIVERY_FAILED", err)
		}
		if stderrors.Is(err, asynq.SkipRetry) {
			t.Error("transient failure marked SkipRetry")
		}
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		notifier := &fakeNotifier{}
		c := newHandlerOnly(&ConsumerConfig{Notifier: notifier})
		for _, payload := range []string{"{not json", `{"delivery_id":"d1"}`} {
			err := c.handleDeliver(context.Background(), asynq.NewTask(TaskTypeDeliver, []byte(payload)))
			if !stderrors.Is(err, asynq.SkipRetry) {
				t.Errorf("handleDeliver(%s) error = %v, want SkipRetry", payload, err)
			}
		}
		if len(notifier.got) != 0 {
			t.Errorf("notifier called %d times for malformed tasks", len(notifier.got))
		}
	})
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 60 * time.Second},
		{40, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.n, nil, nil); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestConfigErrors(t *testing.T) {
	if _, err := NewConsumer(&ConsumerConfig{QueueName: "q", Notifier: &fakeNotifier{}}); err == nil {
		t.Error("NewConsumer() without RedisURL error = nil")
	}
	if _, err := NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", QueueName: "q"}); err == nil {
		t.Error("NewConsumer() without Notifier error = nil")
	}
	if _, err := NewProducer(&ProducerConfig{RedisURL: "redis://localhost:6379"}); err == nil {
		t.Error("NewProducer() without QueueName error = nil")
	}
}

func TestConsumerStatistics(t *testing.T) {
	req, err := NewDeliveryRequest(sampleResponse(), time.Now())
	if err != nil {
		t.Fatalf("NewDeliveryRequest() error = %v", err)
	}
	task, err := NewDeliveryTask(req)
	if err != nil {
		t.Fatalf("NewDeliveryTask() error = %v", err)
	}

	notifier := &fakeNotifier{}
	c := newHandlerOnly(&ConsumerConfig{QueueName: "notes:delivery", Concurrency: 3, Notifier: notifier})
	_ = c.handleDeliver(context.Background(), task)
	_ = c.handleDeliver(context.Background(), asynq.NewTask(TaskTypeDeliver, []byte("{not json")))
	notifier.err = fmt.Errorf("503")
	_ = c.handleDeliver(context.Background(), task)
	_ = c.handleDeliver(context.Background(), task)

	stats := c.GetStatistics()
	want := map[string]interface{}{
		"queue":       "notes:delivery",
		"concurrency": 3,
		"delivered":   int64(1),
		"failed":      int64(2),
		"dropped":     int64(1),
	}
	for k, v := range want {
		if stats[k] != v {
			t.Errorf("stats[%q] = %v, want %v", k, stats[k], v)
		}
	}
}
