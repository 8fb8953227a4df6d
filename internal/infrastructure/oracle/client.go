package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/infrastructure/config"
	"github.com/grcops/compliance-core/internal/metrics"
	workflowsvc "github.com/grcops/compliance-core/internal/service/workflow"
)

// Client calls the external assessment oracle over HTTP. Calls are rate
// limited and bounded by the configured timeout; any failure surfaces as a
// retryable oracle error to the step machinery.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metricsReg *metrics.Registry
	logger     *zap.Logger
}

// NewClient creates an oracle client.
func NewClient(cfg *config.OracleConfig, metricsRegistry *metrics.Registry, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		metricsReg: metricsRegistry,
		logger:     logger,
	}
}

// Assess submits an assessment request and decodes the structured answer.
func (c *Client) Assess(ctx context.Context, req workflowsvc.AssessmentRequest) (*workflowsvc.Assessment, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.NewOracleUnavailableError("rate limit wait aborted").WithCause(err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode assessment request").WithCause(err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/assess", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to build oracle request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if c.metricsReg != nil {
		c.metricsReg.RecordOracleCall(ctx, time.Since(start), err)
	}
	if err != nil {
		return nil, errors.NewOracleUnavailableError("oracle request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewOracleUnavailableError(
			fmt.Sprintf("oracle returned status %d", resp.StatusCode))
	}

	var assessment workflowsvc.Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return nil, errors.NewOracleUnavailableError("failed to decode oracle response").WithCause(err)
	}
	if assessment.ConfidenceScore < 0 || assessment.ConfidenceScore > 1 {
		return nil, errors.NewOracleUnavailableError(
			fmt.Sprintf("oracle confidence %f out of range", assessment.ConfidenceScore))
	}
	return &assessment, nil
}

var _ workflowsvc.AssessmentOracle = (*Client)(nil)
