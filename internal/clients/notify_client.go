/**
 * Notification Client - delivers analysis results to students
 *
 * Wraps the backend's improvement-plan endpoint. Retries are the queue's job.
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
	"time"

	"github.com/adverant/nexus/notes-ocr-service/internal/errors"
	"github.com/adverant/nexus/notes-ocr-service/internal/logging"
)

// NotifyClient handles communication with the student notification service
type NotifyClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// DeliveryRequest is an analysis summary addressed to one student
type DeliveryRequest struct {
	DeliveryID    string    `json:"delivery_id"`
	StudentID     string    `json:"student_id"`
	FileName      string    `json:"file_name"`
	Subject       string    `json:"subject"`
	Difficulty    string    `json:"difficulty"`
	Understanding int       `json:"understanding"`
	Concepts      []string  `json:"concepts"`
	Gaps          []string  `json:"gaps"`
	Suggestions   []string  `json:"suggestions"`
	Excerpt       string    `json:"excerpt"`
	CreatedAt     time.Time `json:"created_at"`
}

// DeliveryResponse is the notification service acknowledgement
type DeliveryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	SentAt  string `json:"sent_at,omitempty"`
}

// NewNotifyClient creates a new notification client
func NewNotifyClient(baseURL string) *NotifyClient {
	return &NotifyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("NotifyClient"),
	}
}

// DeliverAnalysis sends the analysis summary to the student
func (c *NotifyClient) DeliverAnalysis(ctx context.Context, req *DeliveryRequest) (*DeliveryResponse, error) {
	if req.StudentID == "" {
		return nil, fmt.Errorf("student id is required")
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/api/improvement-plan/send"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "notes-ocr-service")
	httpReq.Header.Set("X-Request-ID", req.DeliveryID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to notification service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewRemoteStatusError("notification service", resp.StatusCode, string(body))
	}

	out := &DeliveryResponse{Success: true}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	if !out.Success {
		return nil, fmt.Errorf("notification service rejected delivery: %s", out.Message)
	}

	c.logger.Info("Analysis delivered",
		"deliveryId", req.DeliveryID,
		"studentId", req.StudentID,
		"subject", req.Subject)

	return out, nil
}

// HealthCheck verifies the notification service is available
func (c *NotifyClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification service health check returned status %d", resp.StatusCode)
	}

	return nil
}
