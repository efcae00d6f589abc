package aport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted verification service endpoint used when no
// base URL is configured.
const DefaultBaseURL = "https://api.aport.io"

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "aport-go/1.0"
)

// Client is the HTTP-backed Verifier. It issues one signed POST per
// verification call against the policy verification endpoint and never
// retries; idempotent re-submission is the caller's choice via
// VerifyRequest.IdempotencyKey.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Verifier = (*Client)(nil)

// NewClient creates a new APort API client.
// It reads configuration from APORT_* environment variables by default;
// options override the environment. A missing API key is a configuration
// error raised here, never at call time.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:   envOrDefault("APORT_BASE_URL", DefaultBaseURL),
		apiKey:    os.Getenv("APORT_API_KEY"),
		userAgent: defaultUserAgent,
		timeout:   parseDurationEnv("APORT_TIMEOUT", defaultTimeout),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.baseURL = strings.TrimRight(c.baseURL, "/")
	if c.apiKey == "" {
		return nil, &ConfigError{Reason: "API key is required: pass WithAPIKey or set APORT_API_KEY"}
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c, nil
}

// verifyPayload is the wire body of the verification endpoint; the policy id
// travels in the path.
type verifyPayload struct {
	AgentID        string         `json:"agent_id"`
	Context        map[string]any `json:"context"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Verify implements Verifier. It POSTs to
// {base_url}/api/verify/policy/{policy_id} and decodes the decision
// document. Non-2xx responses surface as *ServiceError, transport failures
// as *TransportError.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	payload := verifyPayload{
		AgentID:        req.AgentID,
		Context:        req.Context,
		IdempotencyKey: req.IdempotencyKey,
	}
	if payload.Context == nil {
		payload.Context = map[string]any{}
	}

	var result VerifyResult
	path := "/api/verify/policy/" + url.PathEscape(req.PolicyID)
	if err := c.doRequest(ctx, http.MethodPost, path, req.IdempotencyKey, payload, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("verification decision received",
		"agent_id", req.AgentID,
		"policy_id", req.PolicyID,
		"decision_id", result.Decision.DecisionID,
		"allow", result.Decision.Allow,
	)
	return &result, nil
}

// doRequest performs one HTTP request against the verification service.
func (c *Client) doRequest(ctx context.Context, method, path, idempotencyKey string, body, result any) error {
	target := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{URL: target, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &TransportError{URL: target, Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		svcErr := &ServiceError{
			Status: httpResp.StatusCode,
			Body:   string(respBody),
		}
		var detail struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &detail) == nil {
			svcErr.Code = detail.Error
			svcErr.Message = detail.Message
		}
		return svcErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// validateRequest checks the call preconditions shared by every Verifier.
func validateRequest(req VerifyRequest) error {
	if strings.TrimSpace(req.AgentID) == "" {
		return &ArgumentError{Field: "agent_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.PolicyID) == "" {
		return &ArgumentError{Field: "policy_id", Reason: "must not be empty"}
	}
	return nil
}

// Helper functions for env var parsing.

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Try parsing as seconds (integer).
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Try parsing as duration string.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
