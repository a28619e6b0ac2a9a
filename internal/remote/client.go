// Package remote implements the HTTP clients for the gateway's external
// collaborators: the diagnostic classification service, the generated
// document store and the history archive.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/retina-screening-gateway/internal/domain"
)

// Config represents configuration for the diagnostic service client.
type Config struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second

	BreakerMaxRequests uint32        `json:"breaker_max_requests"`
	BreakerInterval    time.Duration `json:"breaker_interval"`
	BreakerTimeout     time.Duration `json:"breaker_timeout"`
}

// Client talks to the remote diagnostic service. A circuit breaker guards the
// classification endpoint so a struggling service degrades into fast, clearly
// reported failures instead of piling up slow ones.
type Client struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

// NewClient creates a diagnostic service client.
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 3
	}
	if cfg.BreakerInterval == 0 {
		cfg.BreakerInterval = 30 * time.Second
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "DiagnosticService",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		rateLimit:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		breaker:    breaker,
		logger:     logger,
	}
}

// classificationWire mirrors the service's JSON response. Pointer fields make
// absent required keys distinguishable from zero values.
type classificationWire struct {
	ReportID      *string                 `json:"report_id"`
	IsSafe        *bool                   `json:"is_safe"`
	Grade         string                  `json:"grade"`
	SeverityIndex *int                    `json:"severity_index"`
	RiskScore     int                     `json:"risk_score"`
	Details       *domain.DetailBreakdown `json:"details"`
	DocumentRef   string                  `json:"pdf_url"`
	ErrorMessage  string                  `json:"error"`
}

// Classify uploads the retinal image with its intake metadata and returns the
// service's classification. Failures surface as the workflow's taxonomy:
// TransportError for network and non-success responses, ErrMalformedResponse
// when the payload violates the data model. Correlation against the sent
// report id is the workflow's responsibility.
func (c *Client) Classify(ctx context.Context, req domain.SubmissionRequest) (*domain.ClassificationResult, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, domain.NewTransportError("Submission cancelled before it was sent.", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doClassify(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewTransportError(
				"The diagnostic service is temporarily unavailable. Please try again shortly.", err)
		}
		return nil, err
	}
	return out.(*domain.ClassificationResult), nil
}

func (c *Client) doClassify(ctx context.Context, req domain.SubmissionRequest) (*domain.ClassificationResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", req.ImageName)
	if err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(req.ImageData); err != nil {
		return nil, fmt.Errorf("writing image payload: %w", err)
	}

	fields := map[string]string{
		"name":       req.Record.Name,
		"age":        fmt.Sprintf("%d", req.Record.Age),
		"gender":     string(req.Record.Gender),
		"patient_id": req.Record.PatientID,
		"report_id":  req.ReportID.String(),
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("writing form field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing upload form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("building classification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransportError(
			"Could not reach the diagnostic service. Please ensure it is running.", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.NewTransportError("The diagnostic service connection was interrupted.", err)
	}

	var wire classificationWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, domain.NewTransportError(
				fmt.Sprintf("The diagnostic service returned status %d.", resp.StatusCode), nil)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	if resp.StatusCode != http.StatusOK || wire.ErrorMessage != "" {
		reason := wire.ErrorMessage
		if reason == "" {
			reason = fmt.Sprintf("The diagnostic service returned status %d.", resp.StatusCode)
		}
		return nil, domain.NewTransportError(reason, nil)
	}

	if wire.ReportID == nil || wire.IsSafe == nil || wire.SeverityIndex == nil {
		return nil, fmt.Errorf("%w: missing required fields", domain.ErrMalformedResponse)
	}

	result := &domain.ClassificationResult{
		ReportID:      domain.ReportID(*wire.ReportID),
		IsSafe:        *wire.IsSafe,
		Grade:         wire.Grade,
		SeverityIndex: *wire.SeverityIndex,
		RiskScore:     wire.RiskScore,
		Details:       wire.Details,
		DocumentRef:   wire.DocumentRef,
		ReceivedAt:    time.Now().UTC(),
	}

	c.logger.WithFields(logrus.Fields{
		"report_id":      result.ReportID.String(),
		"severity_index": result.SeverityIndex,
	}).Debug("Classification response decoded")

	return result, nil
}

// ListReports fetches the authoritative history list from the archive.
func (c *Client) ListReports(ctx context.Context) ([]domain.HistoryEntry, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reports", nil)
	if err != nil {
		return nil, fmt.Errorf("building history request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransportError("Could not fetch screening history.", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewTransportError(
			fmt.Sprintf("History fetch returned status %d.", resp.StatusCode), nil)
	}

	var entries []domain.HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	return entries, nil
}

// FetchDocument polls for the asynchronously generated report document. An
// empty reference with a nil error means generation is still in progress;
// the caller must treat the reference as optional at all times.
func (c *Client) FetchDocument(ctx context.Context, id domain.ReportID) (string, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return "", err
	}

	// The leading '#' in report ids must not be parsed as a URL fragment.
	endpoint := fmt.Sprintf("%s/reports/%s/document", c.baseURL, url.PathEscape(id.String()))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building document request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.NewTransportError("Could not check report document status.", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil // not generated yet
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.NewTransportError(
			fmt.Sprintf("Document fetch returned status %d.", resp.StatusCode), nil)
	}

	var doc struct {
		DocumentRef string `json:"pdf_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	return doc.DocumentRef, nil
}
