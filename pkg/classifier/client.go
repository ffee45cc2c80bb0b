// Package classifier is an HTTP client for the ticket classification service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRPS     = 10
	defaultBurst   = 20
)

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client implements protocol.Classifier. Transport failures, 429 and 5xx
// responses surface as protocol.ErrClassifierUnavailable.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("module", "classifier")

	return c
}

type categorizeRequest struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type entityRequest struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Fields     map[string]any    `json:"fields"`
}

type suggestResponse struct {
	Suggestions []string `json:"suggestions"`
}

type escalationResponse struct {
	Probability float64 `json:"probability"`
}

func (c *Client) Categorize(ctx context.Context, subject, body string) (*protocol.Categorization, error) {
	var result protocol.Categorization

	err := c.post(ctx, "/categorize", categorizeRequest{Subject: subject, Text: body}, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Client) SuggestResponses(ctx context.Context, entity *models.Entity) ([]string, error) {
	var result suggestResponse

	err := c.post(ctx, "/suggest-responses", newEntityRequest(entity), &result)
	if err != nil {
		return nil, err
	}

	return result.Suggestions, nil
}

func (c *Client) PredictEscalation(ctx context.Context, entity *models.Entity) (float64, error) {
	var result escalationResponse

	err := c.post(ctx, "/predict-escalation", newEntityRequest(entity), &result)
	if err != nil {
		return 0, err
	}

	return result.Probability, nil
}

func newEntityRequest(entity *models.Entity) entityRequest {
	return entityRequest{
		EntityType: entity.Ref.Type,
		EntityID:   entity.Ref.ID,
		Fields:     entity.Fields,
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrClassifierUnavailable, err)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build classifier request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Classifier request failed", "path", path, "error", err)

		return fmt.Errorf("%w: %w", protocol.ErrClassifierUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s returned %d", protocol.ErrClassifierUnavailable, path, resp.StatusCode)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return fmt.Errorf("classifier %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decode classifier response: %w", err)
	}

	return nil
}
