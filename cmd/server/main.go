/**
 * Notes OCR Service - Main Entry Point
 *
 * Recognizes and analyzes photographed student work.
 *
 * Architecture:
 * - net/http API (multipart uploads) with rate, concurrency and recovery middleware
 * - Tesseract recognition behind a bounded worker pool (build tag "ocr")
 * - Equation and diagram extraction in parallel
 * - Analysis chain: K.A.N.A. -> Gemini -> heuristic rules -> degraded
 * - Optional Redis cache for remote analyses
 * - Optional asynq queue delivering analyses to students
 */

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/notes-ocr-service/internal/analysis"
	"github.com/adverant/nexus/notes-ocr-service/internal/api"
	"github.com/adverant/nexus/notes-ocr-service/internal/clients"
	"github.com/adverant/nexus/notes-ocr-service/internal/config"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
	"github.com/adverant/nexus/notes-ocr-service/internal/processor"
	"github.com/adverant/nexus/notes-ocr-service/internal/queue"
	"github.com/adverant/nexus/notes-ocr-service/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

const shutdownTimeout = 30 * time.Second

func main() {
	logger := logging.NewLogger("Main")

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Error("Invalid logging configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Notes OCR service starting",
		"version", version,
		"port", cfg.Port,
		"ocrWorkers", cfg.OCRWorkers,
		"kana", cfg.KanaEnabled,
		"gemini", cfg.GeminiEnabled(),
		"cache", cfg.CacheEnabled(),
		"delivery", cfg.DeliveryEnabled())

	// Recognition engine; a failed init leaves the service running in degraded mode
	var factory processor.EngineFactory
	if cfg.OCREnabled {
		factory = func() (processor.Engine, error) {
			return processor.NewTesseractEngine(&processor.TesseractConfig{
				Language: cfg.OCRLanguage,
				Clients:  cfg.OCRWorkers,
			})
		}
	}
	recognizer := processor.NewRecognizer(&processor.RecognizerConfig{
		Factory:    factory,
		EngineName: "tesseract",
		Workers:    cfg.OCRWorkers,
	})
	recognizer.Init()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := recognizer.Close(closeCtx); err != nil {
			logger.Warn("Error closing OCR engine", "error", err)
		}
	}()

	// Analysis chain
	var cache analysis.Cache
	if cfg.CacheEnabled() {
		c, err := storage.NewAnalysisCache(ctx, &storage.AnalysisCacheConfig{
			RedisURL:    cfg.RedisURL,
			DialTimeout: 2 * time.Second,
			OpTimeout:   500 * time.Millisecond,
		})
		if err != nil {
			logger.Warn("Analysis cache disabled", "error", err)
		} else {
			defer c.Close()
			cache = c
		}
	}

	var kanaClient *clients.KanaClient
	if cfg.KanaEnabled {
		kanaClient = clients.NewKanaClient(cfg.KanaAPIURL, nil)
	}

	orchestrator, err := buildOrchestrator(cfg, kanaClient, cache)
	if err != nil {
		return err
	}
	logger.Info("Analysis chain ready", "providers", orchestrator.Providers())

	diagrams := processor.NewDiagramDetector(nil)
	proc, err := processor.NewNotesProcessor(&processor.ProcessorConfig{
		Normalizer:  processor.NewNormalizer(&processor.NormalizerConfig{Denoise: cfg.NormalizeDenoise}),
		Recognizer:  recognizer,
		Diagrams:    diagrams,
		Analyzer:    orchestrator,
		MaxFileSize: cfg.MaxFileSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	// Student delivery
	var (
		deliveries    api.DeliveryQueue
		notifier      api.HealthChecker
		deliveryStats api.DeliveryStats
	)
	if cfg.DeliveryEnabled() {
		notifyClient := clients.NewNotifyClient(cfg.NotifyURL)
		producer, consumer, err := startDelivery(ctx, cfg, notifyClient)
		if err != nil {
			logger.Warn("Student delivery disabled", "error", err)
		} else {
			deliveries, notifier, deliveryStats = producer, notifyClient, consumer
			defer func() {
				consumer.Stop(context.Background())
				producer.Close()
			}()
		}
	}

	serverCfg := api.ServerConfig{
		Config:         cfg,
		Pipeline:       proc,
		Engine:         recognizer,
		Deliveries:     deliveries,
		Notifier:       notifier,
		DeliveryStats:  deliveryStats,
		Providers:      orchestrator.Providers(),
		DiagramBackend: diagrams.Backend(),
		Version:        version,
	}
	if kanaClient != nil {
		serverCfg.Kana = kanaClient
	}
	server, err := api.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize API: %w", err)
	}
	go server.RunJanitor(ctx)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", srv.Addr, "engine", recognizer.EngineName(), "diagrams", diagrams.Backend())
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received, draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server did not drain cleanly", "error", err)
	}
	server.Wait()
	return nil
}

// buildOrchestrator assembles the provider chain: K.A.N.A., Gemini, heuristic
func buildOrchestrator(cfg *config.Config, kana *clients.KanaClient, cache analysis.Cache) (*analysis.Orchestrator, error) {
	timeouts := analysis.RemoteTimeouts{Text: cfg.RemoteTextTimeout, Image: cfg.RemoteImageTimeout}

	var rules *analysis.Rules
	if cfg.AnalysisRulesFile != "" {
		r, err := analysis.LoadRules(cfg.AnalysisRulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load analysis rules: %w", err)
		}
		rules = r
	}
	heuristic, err := analysis.NewHeuristicProvider(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build heuristic analyzer: %w", err)
	}

	var chain []analysis.Provider
	if kana != nil {
		chain = append(chain, withCache(analysis.NewKanaProvider(kana, timeouts), cache, cfg.AnalysisCacheTTL))
	}
	if cfg.GeminiEnabled() {
		chain = append(chain, withCache(analysis.NewGeminiProvider(cfg.GoogleAPIKey, cfg.GeminiModel, timeouts), cache, cfg.AnalysisCacheTTL))
	}
	chain = append(chain, heuristic)

	return analysis.NewOrchestrator(chain...), nil
}

func withCache(p analysis.Provider, cache analysis.Cache, ttl time.Duration) analysis.Provider {
	if cache == nil {
		return p
	}
	return analysis.NewCachedProvider(p, cache, ttl)
}

func startDelivery(ctx context.Context, cfg *config.Config, notifier queue.Notifier) (*queue.Producer, *queue.Consumer, error) {
	producer, err := queue.NewProducer(&queue.ProducerConfig{
		RedisURL:  cfg.RedisURL,
		QueueName: cfg.DeliveryQueue,
		MaxRetry:  cfg.DeliveryMaxRetry,
	})
	if err != nil {
		return nil, nil, err
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.DeliveryQueue,
		Concurrency: cfg.DeliveryConcurrency,
		Notifier:    notifier,
	})
	if err != nil {
		producer.Close()
		return nil, nil, err
	}

	if err := consumer.Start(ctx); err != nil {
		producer.Close()
		return nil, nil, err
	}
	return producer, consumer, nil
}
