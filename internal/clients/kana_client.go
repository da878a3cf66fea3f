/**
 * K.A.N.A. Client - remote structured analysis of student work
 *
 * One POST per call and no retries; callers own the deadline through ctx.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

// KanaContext tags requests coming from the teacher dashboard pipeline
const KanaContext = "teacher_dashboard_ocr"

// maxResponseBytes caps how much of a remote body is read
const maxResponseBytes = 1 << 20

// KanaClient handles communication with the K.A.N.A. analysis service
type KanaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NotesAnalysisRequest asks K.A.N.A. to analyze recognized student work
type NotesAnalysisRequest struct {
	// RequestID is sent as X-Request-ID; a fresh id is used when empty
	RequestID     string   `json:"-"`
	Prompt        string   `json:"prompt"`
	Message       string   `json:"message,omitempty"`
	Context       string   `json:"context"`
	ImageFilename string   `json:"image_filename,omitempty"`
	StudentID     string   `json:"student_id,omitempty"`
	Equations     []string `json:"equations,omitempty"`
	ImageData     string   `json:"image_data,omitempty"` // Base64 encoded original upload
	ImageAnalysis bool     `json:"image_analysis"`
}

// NotesAnalysis is the structured analysis body returned by K.A.N.A.
type NotesAnalysis struct {
	Subject       string   `json:"subject"`
	Difficulty    string   `json:"difficulty"`
	Concepts      []string `json:"concepts"`
	Understanding float64  `json:"understanding"`
	Gaps          []string `json:"gaps"`
	Suggestions   []string `json:"suggestions"`
}

// NotesAnalysisResponse wraps the analysis, which K.A.N.A. may nest under
// "analysis" or return at the top level
type NotesAnalysisResponse struct {
	Analysis NotesAnalysis
	Raw      json.RawMessage
}

// NewKanaClient creates a new K.A.N.A. client
func NewKanaClient(baseURL string, httpClient *http.Client) *KanaClient {
	if httpClient == nil {
		// deadlines come from the caller's context
		httpClient = &http.Client{}
	}
	return &KanaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logging.NewLogger("KanaClient"),
	}
}

// BaseURL returns the configured service URL
func (c *KanaClient) BaseURL() string {
	return c.baseURL
}

// AnalyzeNotes posts recognized text (and optionally the image) for analysis.
// Only HTTP 200 with a decodable analysis body is a success.
func (c *KanaClient) AnalyzeNotes(ctx context.Context, req *NotesAnalysisRequest) (*NotesAnalysisResponse, error) {
	if req.Context == "" {
		req.Context = KanaContext
	}

	c.logger.Debug("Requesting notes analysis from K.A.N.A.",
		"requestId", req.RequestID,
		"file", req.ImageFilename,
		"promptLength", len(req.Prompt),
		"imageAnalysis", req.ImageAnalysis)

	endpoint := fmt.Sprintf("%s/api/kana/analyze-notes", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "notes-ocr-service")
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to K.A.N.A. failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewRemoteStatusError("K.A.N.A.", resp.StatusCode, string(body))
	}

	analysis, err := decodeNotesAnalysis(body)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Notes analysis received",
		"subject", analysis.Subject,
		"difficulty", analysis.Difficulty,
		"concepts", len(analysis.Concepts))

	return &NotesAnalysisResponse{Analysis: *analysis, Raw: body}, nil
}

func decodeNotesAnalysis(body []byte) (*NotesAnalysis, error) {
	var envelope struct {
		Success  *bool          `json:"success"`
		Error    string         `json:"error"`
		Analysis *NotesAnalysis `json:"analysis"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if envelope.Success != nil && !*envelope.Success {
		return nil, fmt.Errorf("K.A.N.A. analysis failed: %s", envelope.Error)
	}
	if envelope.Analysis != nil {
		return envelope.Analysis, nil
	}

	var flat NotesAnalysis
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if flat.Subject == "" {
		return nil, fmt.Errorf("response carries no analysis")
	}
	return &flat, nil
}

// HealthCheck verifies K.A.N.A. is reachable
func (c *KanaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("K.A.N.A. health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("K.A.N.A. health check returned status %d", resp.StatusCode)
	}

	return nil
}
