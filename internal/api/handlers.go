package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/processor"
)

// deliveryEnqueueTimeout bounds the Redis round trip of a background enqueue
const deliveryEnqueueTimeout = 5 * time.Second

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeErr(w, http.StatusNotFound, "not_found", "Not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":         "notes-ocr-service",
		"version":         s.version,
		"status":          "operational",
		"ocr_engine":      s.engine.EngineName(),
		"ocr_available":   s.engine.Available(),
		"providers":       s.providers,
		"diagram_backend": s.diagramBackend,
		"endpoints": []string{
			"/analyze-upload - POST: Recognize and analyze one image",
			"/recognize-and-analyze - POST: Alias of /analyze-upload",
			"/analyze-direct - POST: Analyze with the image sent to remote analysis",
			"/ocr - POST: Recognition and extraction only",
			"/batch-analyze - POST: Analyze several images",
			"/health - GET: Health check",
		},
	})
}

func (s *Server) handleAnalyze(includeImage bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		up, err := s.singleUpload(w, r)
		if err != nil {
			writePipelineErr(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()

		resp, err := s.pipeline.Process(ctx, &processor.ProcessRequest{
			RequestID:    requestIDFrom(r.Context()),
			Filename:     up.Filename,
			Data:         up.Data,
			StudentID:    studentID(r),
			IncludeImage: includeImage,
		})
		if err != nil {
			writePipelineErr(w, err)
			return
		}

		s.deliver(resp)
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	up, err := s.singleUpload(w, r)
	if err != nil {
		writePipelineErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.pipeline.RecognizeOnly(ctx, &processor.ProcessRequest{
		RequestID: requestIDFrom(r.Context()),
		Filename:  up.Filename,
		Data:      up.Data,
	})
	if err != nil {
		writePipelineErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// batchFailure is the inline report for a file the pipeline rejected
type batchFailure struct {
	FileName string `json:"file_name"`
	Status   string `json:"status"`
	Error    string `json:"error"`
	Code     string `json:"code"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r, s.cfg.BatchMaxFiles); err != nil {
		writePipelineErr(w, err)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writePipelineErr(w, errors.NewInvalidInputError("files are required", nil))
		return
	}
	if len(headers) > s.cfg.BatchMaxFiles {
		writeErr(w, http.StatusBadRequest, string(errors.ErrorInvalidInput),
			"too many files in batch")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	student := studentID(r)
	batchID := requestIDFrom(r.Context())
	results := make([]any, len(headers))

	g := new(errgroup.Group)
	g.SetLimit(batchParallelism(s.cfg.OCRWorkers))
	for i, fh := range headers {
		g.Go(func() error {
			id := batchID + "-" + strconv.Itoa(i)
			if err := ctx.Err(); err != nil {
				// the deadline passed while this file waited for a slot
				results[i] = failureFor(fh.Filename, errors.NewProcessingTimeoutError(id, s.cfg.RequestTimeout, err))
				return nil
			}

			up, err := s.readUpload(fh)
			if err == nil {
				var resp *processor.PipelineResponse
				resp, err = s.pipeline.Process(ctx, &processor.ProcessRequest{
					RequestID: id,
					Filename:  up.Filename,
					Data:      up.Data,
					StudentID: student,
				})
				if err == nil {
					s.deliver(resp)
					results[i] = resp
					return nil
				}
			}
			results[i] = failureFor(fh.Filename, err)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, res := range results {
		if _, ok := res.(*processor.PipelineResponse); ok {
			succeeded++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": batchID,
		"total":      len(results),
		"succeeded":  succeeded,
		"failed":     len(results) - succeeded,
		"results":    results,
	})
}

func failureFor(filename string, err error) batchFailure {
	out := batchFailure{FileName: filename, Status: "failed", Code: "internal_error", Error: "Internal server error"}
	var perr *errors.PipelineError
	if stderrors.As(err, &perr) {
		out.Code = string(perr.Code)
		out.Error = sanitizeError(perr.Message)
	}
	return out
}

// deliver schedules student delivery in the background; it never affects the response
func (s *Server) deliver(resp *processor.PipelineResponse) {
	if s.deliveries == nil || resp == nil || resp.AIAnalysis.StudentID == "" {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryEnqueueTimeout)
		defer cancel()

		if _, err := s.deliveries.EnqueueDelivery(ctx, resp); err != nil {
			s.logger.Warn("Failed to enqueue student delivery",
				"requestId", resp.RequestID,
				"studentId", resp.AIAnalysis.StudentID,
				"error", err)
		}
	}()
}

func batchParallelism(workers int) int {
	if workers < 1 {
		return 1
	}
	// recognition is already bounded by the engine pool; allow analysis to overlap
	return workers * 2
}
