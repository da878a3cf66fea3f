package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adverant/nexus/notes-ocr-service/internal/config"
	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/processor"
)

type fakePipeline struct {
	mu       sync.Mutex
	requests []processor.ProcessRequest
	block    chan struct{}
	panics   bool
}

func (f *fakePipeline) record(req *processor.ProcessRequest) {
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	f.mu.Unlock()
}

func (f *fakePipeline) Process(ctx context.Context, req *processor.ProcessRequest) (*processor.PipelineResponse, error) {
	f.record(req)
	if f.panics {
		panic("pipeline exploded")
	}
	if f.block != nil {
		<-f.block
	}
	if err := processor.ValidateUpload(req.Filename, int64(len(req.Data)), 1<<20); err != nil {
		return nil, err
	}
	return &processor.PipelineResponse{
		RequestID:  req.RequestID,
		FileName:   req.Filename,
		FileSize:   int64(len(req.Data)),
		Status:     processor.StatusCompleted,
		Engine:     "fake/heuristic",
		AIAnalysis: processor.AnalysisSection{Subject: "Mathematics", StudentID: req.StudentID},
	}, nil
}

func (f *fakePipeline) RecognizeOnly(ctx context.Context, req *processor.ProcessRequest) (*processor.OCRResponse, error) {
	f.record(req)
	return &processor.OCRResponse{RequestID: req.RequestID, FileName: req.Filename, Status: processor.StatusCompleted, Engine: "fake"}, nil
}

type fakeEngine struct{ available bool }

func (f fakeEngine) Available() bool { return f.available }
func (f fakeEngine) EngineName() string {
	if !f.available {
		return "none"
	}
	return "fake"
}
func (f fakeEngine) SelfTest(ctx context.Context) bool { return f.available }

type fakeKana struct{ err error }

func (f fakeKana) BaseURL() string                       { return "http://kana.test" }
func (f fakeKana) HealthCheck(ctx context.Context) error { return f.err }

type fakeNotifier struct{ err error }

func (f fakeNotifier) HealthCheck(ctx context.Context) error { return f.err }

type fakeStats map[string]interface{}

func (f fakeStats) GetStatistics() map[string]interface{} { return f }

type fakeDeliveries struct {
	mu       sync.Mutex
	students []string
}

func (f *fakeDeliveries) EnqueueDelivery(ctx context.Context, resp *processor.PipelineResponse) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.students = append(f.students, resp.AIAnalysis.StudentID)
	return "delivery-1", nil
}

func testConfig() *config.Config {
	return &config.Config{
		MaxFileSize:           1 << 20,
		MaxConcurrentRequests: 4,
		RateLimitRPS:          1000,
		RateLimitBurst:        1000,
		RequestTimeout:        5 * time.Second,
		BatchMaxFiles:         3,
		OCRWorkers:            2,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, pipeline *fakePipeline, mutate func(*ServerConfig)) *Server {
	t.Helper()
	sc := ServerConfig{
		Config:   cfg,
		Pipeline: pipeline,
		Engine:   fakeEngine{available: true},
		Version:  "test",
	}
	if mutate != nil {
		mutate(&sc)
	}
	s, err := NewServer(sc)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s
}

type part struct {
	field, filename string
	data            []byte
}

func multipartRequest(t *testing.T, target string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		fw.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart Close() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestAnalyzeUpload(t *testing.T) {
	pipeline := &fakePipeline{}
	deliveries := &fakeDeliveries{}
	s := newTestServer(t, testConfig(), pipeline, func(sc *ServerConfig) { sc.Deliveries = deliveries })

	req := multipartRequest(t, "/analyze-upload?student_id=student-7", part{"file", "homework.png", []byte("png bytes")})
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	s.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["request_id"] != "req-abc" || rec.Header().Get("X-Request-ID") != "req-abc" {
		t.Errorf("request id not propagated: body=%v header=%q", body["request_id"], rec.Header().Get("X-Request-ID"))
	}
	if got := pipeline.requests[0]; got.StudentID != "student-7" || got.IncludeImage || string(got.Data) != "png bytes" {
		t.Errorf("pipeline request = %+v", got)
	}
	if len(deliveries.students) != 1 || deliveries.students[0] != "student-7" {
		t.Errorf("deliveries = %v, want [student-7]", deliveries.students)
	}
}

func TestAnalyzeRoutes(t *testing.T) {
	tests := []struct {
		path         string
		includeImage bool
	}{
		{"/recognize-and-analyze", false},
		{"/analyze-direct", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			pipeline := &fakePipeline{}
			s := newTestServer(t, testConfig(), pipeline, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, multipartRequest(t, tt.path, part{"file", "a.jpg", []byte("x")}))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if pipeline.requests[0].IncludeImage != tt.includeImage {
				t.Errorf("IncludeImage = %v, want %v", pipeline.requests[0].IncludeImage, tt.includeImage)
			}
		})
	}
}

func TestAnalyzeErrors(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSize = 1024

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantErr  string
	}{
		{"no file", multipartRequest(t, "/analyze-upload"), http.StatusBadRequest, string(errors.ErrorInvalidInput)},
		{"wrong field", multipartRequest(t, "/analyze-upload", part{"upload", "a.png", []byte("x")}), http.StatusBadRequest, string(errors.ErrorInvalidInput)},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/analyze-upload", strings.NewReader("{}")), http.StatusBadRequest, string(errors.ErrorInvalidInput)},
		{"unsupported", multipartRequest(t, "/analyze-upload", part{"file", "notes.pdf", []byte("%PDF")}), http.StatusBadRequest, string(errors.ErrorUnsupportedFormat)},
		{"too large", multipartRequest(t, "/analyze-upload", part{"file", "big.png", make([]byte, 4096)}), http.StatusRequestEntityTooLarge, string(errors.ErrorFileTooLarge)},
		{"wrong method", httptest.NewRequest(http.MethodGet, "/ocr", nil), http.StatusMethodNotAllowed, "method_not_allowed"},
		{"unknown path", httptest.NewRequest(http.MethodGet, "/nope", nil), http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, cfg, &fakePipeline{}, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, tt.req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["success"] != false || body["code"] != tt.wantErr {
				t.Errorf("body = %v, want code %s", body, tt.wantErr)
			}
		})
	}
}

func TestOCROnly(t *testing.T) {
	pipeline := &fakePipeline{}
	s := newTestServer(t, testConfig(), pipeline, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, "/ocr", part{"file", "a.png", []byte("x")}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := decodeBody(t, rec)["ai_analysis"]; ok {
		t.Error("/ocr response carries ai_analysis")
	}
}

func TestBatchAnalyze(t *testing.T) {
	pipeline := &fakePipeline{}
	s := newTestServer(t, testConfig(), pipeline, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, "/batch-analyze",
		part{"files", "one.png", []byte("1")},
		part{"files", "two.gif", []byte("2")},
		part{"files", "three.jpg", []byte("3")},
	))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(3) || body["succeeded"] != float64(2) || body["failed"] != float64(1) {
		t.Errorf("counts = %v/%v/%v", body["total"], body["succeeded"], body["failed"])
	}

	results := body["results"].([]any)
	failed := results[1].(map[string]any)
	if failed["file_name"] != "two.gif" || failed["status"] != "failed" || failed["code"] != string(errors.ErrorUnsupportedFormat) {
		t.Errorf("failed entry = %v", failed)
	}
	if results[0].(map[string]any)["status"] != processor.StatusCompleted {
		t.Errorf("first entry = %v", results[0])
	}
}

func TestBatchDeadlineFailsWaitingFiles(t *testing.T) {
	cfg := testConfig()
	cfg.OCRWorkers = 0 // one file at a time
	cfg.RequestTimeout = 50 * time.Millisecond
	pipeline := &fakePipeline{block: make(chan struct{})}
	s := newTestServer(t, cfg, pipeline, nil)

	go func() {
		time.Sleep(200 * time.Millisecond)
		close(pipeline.block)
	}()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, "/batch-analyze",
		part{"files", "one.png", []byte("1")},
		part{"files", "two.png", []byte("2")},
	))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["succeeded"] != float64(1) || body["failed"] != float64(1) {
		t.Fatalf("succeeded/failed = %v/%v, want 1/1", body["succeeded"], body["failed"])
	}
	late := body["results"].([]any)[1].(map[string]any)
	if late["code"] != string(errors.ErrorProcessingTimeout) || late["file_name"] != "two.png" {
		t.Errorf("late entry = %v", late)
	}
	if len(pipeline.requests) != 1 {
		t.Errorf("pipeline ran %d files, want 1", len(pipeline.requests))
	}
}

func TestBatchTooManyFiles(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakePipeline{}, nil)
	var parts []part
	for i := 0; i < 4; i++ {
		parts = append(parts, part{"files", fmt.Sprintf("p%d.png", i), []byte("x")})
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, "/batch-analyze", parts...))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	s := newTestServer(t, cfg, &fakePipeline{}, nil)
	h := s.Handler()

	first := httptest.NewRecorder()
	h.ServeHTTP(first, multipartRequest(t, "/ocr", part{"file", "a.png", []byte("x")}))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, multipartRequest(t, "/ocr", part{"file", "a.png", []byte("x")}))

	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Errorf("statuses = %d, %d; want 200, 429", first.Code, second.Code)
	}
}

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	s := newTestServer(t, cfg, &fakePipeline{}, nil)
	h := s.Handler()

	var codes []int
	for _, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
		req := multipartRequest(t, "/ocr", part{"file", "a.png", []byte("x")})
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("statuses = %v; a spoofed X-Forwarded-For must not reset the limit", codes)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"remote addr", nil, false, "192.0.2.1"},
		{"untrusted forwarded", map[string]string{"X-Forwarded-For": "203.0.113.9"}, false, "192.0.2.1"},
		{"trusted forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, true, "203.0.113.9"},
		{"trusted real ip", map[string]string{"X-Real-IP": " 203.0.113.7 "}, true, "203.0.113.7"},
		{"trusted without headers", nil, true, "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:4711"
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConcurrencyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	pipeline := &fakePipeline{block: make(chan struct{})}
	s := newTestServer(t, cfg, pipeline, nil)
	h := s.Handler()

	firstReq := multipartRequest(t, "/analyze-upload", part{"file", "a.png", []byte("x")})
	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, firstReq)
		done <- rec.Code
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.active.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first request never became active")
		}
		time.Sleep(time.Millisecond)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/analyze-upload", part{"file", "b.png", []byte("x")}))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("second status = %d, want 503", rec.Code)
	}

	close(pipeline.block)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first status = %d, want 200", code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakePipeline{panics: true}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, "/analyze-upload", part{"file", "a.png", []byte("x")}))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if decodeBody(t, rec)["code"] != "internal_error" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name          string
		engine        fakeEngine
		kana          RemoteProbe
		wantStatus    string
		wantReachable bool
	}{
		{"healthy", fakeEngine{available: true}, fakeKana{}, "healthy", true},
		{"engine down", fakeEngine{available: false}, fakeKana{}, "degraded", true},
		{"kana down", fakeEngine{available: true}, fakeKana{err: fmt.Errorf("refused")}, "healthy", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, testConfig(), &fakePipeline{}, func(sc *ServerConfig) {
				sc.Engine = tt.engine
				sc.Kana = tt.kana
			})
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			body := decodeBody(t, rec)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			if body["kana_reachable"] != tt.wantReachable {
				t.Errorf("kana_reachable = %v, want %v", body["kana_reachable"], tt.wantReachable)
			}
			if body["ocr_working"] != tt.engine.available {
				t.Errorf("ocr_working = %v", body["ocr_working"])
			}
			if _, ok := body["system"].(map[string]any)["cpu_count"]; !ok {
				t.Error("system.cpu_count missing")
			}
		})
	}
}

func TestHealthDelivery(t *testing.T) {
	tests := []struct {
		name          string
		notifier      HealthChecker
		stats         DeliveryStats
		wantReachable bool
		wantStats     bool
	}{
		{"disabled", nil, nil, false, false},
		{"reachable", fakeNotifier{}, fakeStats{"delivered": 4}, true, true},
		{"unreachable", fakeNotifier{err: fmt.Errorf("refused")}, fakeStats{"delivered": 0}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, testConfig(), &fakePipeline{}, func(sc *ServerConfig) {
				sc.Notifier = tt.notifier
				sc.DeliveryStats = tt.stats
			})
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			body := decodeBody(t, rec)
			if body["notify_reachable"] != tt.wantReachable {
				t.Errorf("notify_reachable = %v, want %v", body["notify_reachable"], tt.wantReachable)
			}
			if _, ok := body["delivery"].(map[string]any); ok != tt.wantStats {
				t.Errorf("delivery = %v, want present=%v", body["delivery"], tt.wantStats)
			}
		})
	}
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakePipeline{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != "notes-ocr-service" || body["ocr_engine"] != "fake" {
		t.Errorf("body = %v", body)
	}
}

func TestLimiterPrune(t *testing.T) {
	l := newLimiterSet(1, 1)
	l.get("10.0.0.1")
	l.prune(time.Now().Add(2 * limiterIdle))
	if len(l.entries) != 0 {
		t.Errorf("entries = %d after prune, want 0", len(l.entries))
	}
}
