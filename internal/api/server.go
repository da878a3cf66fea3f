/**
 * HTTP surface for the notes OCR service
 *
 * Routes:
 * - GET  /                       service description
 * - GET  /health                 engine, remote and host status
 * - POST /analyze-upload         recognize + analyze one image (multipart "file")
 * - POST /recognize-and-analyze  alias of /analyze-upload
 * - POST /analyze-direct         same, with the image forwarded to remote analysis
 * - POST /ocr                    recognition and extraction only
 * - POST /batch-analyze          several images (multipart "files")
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/adverant/nexus/notes-ocr-service/internal/config"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
	"github.com/adverant/nexus/notes-ocr-service/internal/processor"
)

// Pipeline runs recognition and analysis for one upload
type Pipeline interface {
	Process(ctx context.Context, req *processor.ProcessRequest) (*processor.PipelineResponse, error)
	RecognizeOnly(ctx context.Context, req *processor.ProcessRequest) (*processor.OCRResponse, error)
}

// EngineProbe reports recognition engine health
type EngineProbe interface {
	Available() bool
	EngineName() string
	SelfTest(ctx context.Context) bool
}

// HealthChecker checks a downstream service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RemoteProbe reports remote analysis service health
type RemoteProbe interface {
	HealthChecker
	BaseURL() string
}

// DeliveryStats reports delivery consumer counters
type DeliveryStats interface {
	GetStatistics() map[string]interface{}
}

// DeliveryQueue schedules delivery of a finished analysis to its student
type DeliveryQueue interface {
	EnqueueDelivery(ctx context.Context, resp *processor.PipelineResponse) (string, error)
}

// ServerConfig holds the server's collaborators
type ServerConfig struct {
	Config   *config.Config
	Pipeline Pipeline
	Engine   EngineProbe
	// Kana is nil when the remote tier is disabled
	Kana RemoteProbe
	// Deliveries, Notifier and DeliveryStats are nil when student delivery is disabled
	Deliveries     DeliveryQueue
	Notifier       HealthChecker
	DeliveryStats  DeliveryStats
	Providers      []string
	DiagramBackend string
	Version        string
}

// Server is the HTTP API
type Server struct {
	cfg            *config.Config
	pipeline       Pipeline
	engine         EngineProbe
	kana           RemoteProbe
	deliveries     DeliveryQueue
	notifier       HealthChecker
	deliveryStats  DeliveryStats
	providers      []string
	diagramBackend string
	version        string

	requestSem *semaphore.Weighted
	limiters   *limiterSet
	active     atomic.Int64
	total      atomic.Int64

	// background deliveries, waited on by Shutdown
	pending sync.WaitGroup
	logger  *logging.Logger
}

// NewServer creates the API server
func NewServer(sc ServerConfig) (*Server, error) {
	if sc.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if sc.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if sc.Engine == nil {
		return nil, fmt.Errorf("engine probe is required")
	}

	version := sc.Version
	if version == "" {
		version = "dev"
	}

	return &Server{
		cfg:            sc.Config,
		pipeline:       sc.Pipeline,
		engine:         sc.Engine,
		kana:           sc.Kana,
		deliveries:     sc.Deliveries,
		notifier:       sc.Notifier,
		deliveryStats:  sc.DeliveryStats,
		providers:      sc.Providers,
		diagramBackend: sc.DiagramBackend,
		version:        version,
		requestSem:     semaphore.NewWeighted(int64(sc.Config.MaxConcurrentRequests)),
		limiters:       newLimiterSet(sc.Config.RateLimitRPS, sc.Config.RateLimitBurst),
		logger:         logging.NewLogger("API"),
	}, nil
}

// Handler builds the routed, middleware-wrapped handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.withMethod(http.MethodGet, s.handleRoot))
	mux.HandleFunc("/health", s.withMethod(http.MethodGet, s.handleHealth))

	analyze := s.pipelineRoute(s.handleAnalyze(false))
	mux.HandleFunc("/analyze-upload", analyze)
	mux.HandleFunc("/recognize-and-analyze", analyze)
	mux.HandleFunc("/analyze-direct", s.pipelineRoute(s.handleAnalyze(true)))
	mux.HandleFunc("/ocr", s.pipelineRoute(s.handleOCR))
	mux.HandleFunc("/batch-analyze", s.pipelineRoute(s.handleBatch))

	return s.withRequestID(s.withLogging(s.withRecovery(mux)))
}

func (s *Server) pipelineRoute(h http.HandlerFunc) http.HandlerFunc {
	return s.withRateLimit(s.withMethod(http.MethodPost, s.withConcurrencyLimit(h)))
}

// RunJanitor evicts idle rate limiters until ctx is cancelled
func (s *Server) RunJanitor(ctx context.Context) {
	s.limiters.run(ctx)
}

// Wait blocks until background deliveries started by handlers have finished
func (s *Server) Wait() {
	s.pending.Wait()
}
