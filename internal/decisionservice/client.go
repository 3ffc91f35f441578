package decisionservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "loanops-console/internal/common/errors"
	commonhttp "loanops-console/internal/common/http"
	"loanops-console/internal/common/logger"
	"loanops-console/internal/common/metrics"
	"loanops-console/internal/common/observability"
	"loanops-console/internal/contract"
)

const (
	EndpointChat         = "chat"
	EndpointVerify       = "verify"
	EndpointFiles        = "files"
	EndpointApplications = "applications"
	EndpointApplication  = "application"
	EndpointStages       = "stages"
	EndpointHealth       = "health"
	EndpointSession      = "session"
)

// maxBodyBytes caps JSON replies; artifact downloads are streamed and not
// subject to it.
const maxBodyBytes = 4 << 20

// Client talks to the Decision Service. Every method issues exactly one HTTP
// request; there are no retries.
type Client struct {
	config *Config
	http   *commonhttp.Client
	obs    *observability.Observability
	logger logger.Logger
}

// New builds a client. token is consulted on each request and may return ""
// when no session is active.
func New(cfg *Config, token func() string, obs *observability.Observability, log logger.Logger) *Client {
	if obs == nil {
		obs = observability.NewNoop()
	}
	return &Client{
		config: cfg,
		http:   commonhttp.NewClient(cfg.Timeout).WithBearer(token),
		obs:    obs,
		logger: log.WithFields(map[string]interface{}{
			"component": "decisionservice",
		}),
	}
}

// WithTransport returns a copy of c using rt for every request.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	cp := *c
	cp.http = c.http.WithTransport(rt)
	return &cp
}

// BaseURL is the Decision Service root every path is resolved against.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Chat posts one user message and returns the validated reply.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (*contract.ChatResponse, error) {
	body, err := c.doJSON(ctx, EndpointChat, http.MethodPost, "/chat",
		contract.ChatRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return nil, err
	}
	resp, err := contract.DecodeChatResponse(body)
	if err != nil {
		return nil, c.contractViolation(EndpointChat, err)
	}
	return resp, nil
}

// Verify submits the composite KYC payload.
func (c *Client) Verify(ctx context.Context, req contract.VerifyRequest) (*contract.VerifyResponse, error) {
	body, err := c.doJSON(ctx, EndpointVerify, http.MethodPost, "/verify", req)
	if err != nil {
		return nil, err
	}
	resp, err := contract.DecodeVerifyResponse(body)
	if err != nil {
		return nil, c.contractViolation(EndpointVerify, err)
	}
	return resp, nil
}

// ListApplications returns prior applications, newest first as served.
func (c *Client) ListApplications(ctx context.Context) (*contract.ApplicationList, error) {
	body, err := c.doJSON(ctx, EndpointApplications, http.MethodGet, "/applications", nil)
	if err != nil {
		return nil, err
	}
	list, err := contract.DecodeApplicationList(body)
	if err != nil {
		return nil, c.contractViolation(EndpointApplications, err)
	}
	return list, nil
}

func (c *Client) GetApplication(ctx context.Context, applicationID string) (*contract.ApplicationSummary, error) {
	body, err := c.doJSON(ctx, EndpointApplication, http.MethodGet, "/applications/"+url.PathEscape(applicationID), nil)
	if err != nil {
		return nil, err
	}
	var app contract.ApplicationSummary
	if err := json.Unmarshal(body, &app); err != nil {
		return nil, c.contractViolation(EndpointApplication, err)
	}
	if app.ApplicationID == "" {
		return nil, c.contractViolation(EndpointApplication, fmt.Errorf("missing application_id"))
	}
	return &app, nil
}

func (c *Client) Stages(ctx context.Context) (*contract.StageCatalogue, error) {
	body, err := c.doJSON(ctx, EndpointStages, http.MethodGet, "/stages", nil)
	if err != nil {
		return nil, err
	}
	var cat contract.StageCatalogue
	if err := json.Unmarshal(body, &cat); err != nil {
		return nil, c.contractViolation(EndpointStages, err)
	}
	return &cat, nil
}

func (c *Client) Health(ctx context.Context) (*contract.Health, error) {
	body, err := c.doJSON(ctx, EndpointHealth, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var h contract.Health
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, c.contractViolation(EndpointHealth, err)
	}
	return &h, nil
}

// ClearSession drops the server-side state of a session.
func (c *Client) ClearSession(ctx context.Context, sessionID string) error {
	_, err := c.doJSON(ctx, EndpointSession, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil)
	return err
}

// FileURL is the download location of a sanction artifact.
func (c *Client) FileURL(artifactID string) string {
	return c.config.BaseURL + "/files/" + url.PathEscape(artifactID)
}

// DownloadFile streams a sanction artifact into w and returns the number of
// bytes written.
func (c *Client) DownloadFile(ctx context.Context, artifactID string, w io.Writer) (int64, error) {
	ctx, span := c.obs.StartSpan(ctx, "decisionservice."+EndpointFiles,
		attribute.String("artifact_id", artifactID))
	defer span.End()

	start := time.Now()
	result := "ok"
	defer func() { c.record(ctx, EndpointFiles, result, time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FileURL(artifactID), nil)
	if err != nil {
		result = "error"
		return 0, apperrors.NewServiceUnavailableError(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		result = "error"
		se := c.transportError(ctx, err)
		c.fail(span, se)
		return 0, se
	}
	defer resp.Body.Close()

	if se := statusError(EndpointFiles, resp.StatusCode); se != nil {
		result = fmt.Sprintf("%d", resp.StatusCode)
		c.fail(span, se)
		return 0, se
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		result = "error"
		se := c.transportError(ctx, err)
		c.fail(span, se)
		return n, se
	}
	span.SetAttributes(attribute.Int64("bytes", n))
	return n, nil
}

// doJSON performs one request and returns the 2xx body. All transport
// failures come back as *errors.StandardError.
func (c *Client) doJSON(ctx context.Context, endpoint, method, path string, payload interface{}) ([]byte, error) {
	ctx, span := c.obs.StartSpan(ctx, "decisionservice."+endpoint,
		attribute.String("http.method", method),
		attribute.String("http.path", path))
	defer span.End()

	start := time.Now()
	result := "ok"
	defer func() { c.record(ctx, endpoint, result, time.Since(start)) }()

	req, err := commonhttp.NewJSONRequest(ctx, method, c.config.BaseURL+path, payload)
	if err != nil {
		result = "error"
		se := apperrors.NewServiceUnavailableError(err)
		c.fail(span, se)
		return nil, se
	}

	resp, err := c.http.Do(req)
	if err != nil {
		result = "error"
		se := c.transportError(ctx, err)
		c.fail(span, se)
		c.logger.Warn("decision service request failed", map[string]interface{}{
			"endpoint": endpoint,
			"error":    se.Error(),
		})
		return nil, se
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if se := statusError(endpoint, resp.StatusCode); se != nil {
		result = fmt.Sprintf("%d", resp.StatusCode)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		c.fail(span, se)
		c.logger.Warn("decision service returned error status", map[string]interface{}{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
		})
		return nil, se
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		result = "error"
		se := c.transportError(ctx, err)
		c.fail(span, se)
		return nil, se
	}
	return body, nil
}

func (c *Client) contractViolation(endpoint string, err error) error {
	metrics.DecisionServiceRequests.WithLabelValues(endpoint, "contract_violation").Inc()
	c.logger.Warn("decision service response violates contract", map[string]interface{}{
		"endpoint": endpoint,
		"error":    err.Error(),
	})
	return apperrors.NewContractViolationError(endpoint, err)
}

func (c *Client) transportError(ctx context.Context, err error) *apperrors.StandardError {
	var netErr net.Error
	if ctx.Err() == context.DeadlineExceeded || (apperrors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.NewServiceTimeoutError(err).WithMetadata("timeout", c.http.Timeout().String())
	}
	return apperrors.NewServiceUnavailableError(err)
}

func (c *Client) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (c *Client) record(ctx context.Context, endpoint, result string, d time.Duration) {
	metrics.DecisionServiceRequests.WithLabelValues(endpoint, result).Inc()
	metrics.DecisionServiceDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	c.obs.RecordCall(ctx, endpoint, result, d)
}

func statusError(endpoint string, status int) *apperrors.StandardError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewUnauthorizedError(endpoint)
	case status == http.StatusNotFound:
		return apperrors.NewNotFoundError(endpoint)
	default:
		return apperrors.NewBadStatusError(endpoint, status)
	}
}
