package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// Config holds the chat-completions endpoint settings
type Config struct {
	BaseURL        string
	APIKey         string // used when a task carries no tenant credential
	Model          string
	VisionModel    string
	Temperature    float32
	RequestTimeout time.Duration
	RetryMax       int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	// BreakerFailures consecutive transient failures open the breaker for BreakerTimeout
	BreakerFailures int
	BreakerTimeout  time.Duration
	// MaxPromptTextSize caps document text sent to the model, in runes
	MaxPromptTextSize int
}

// CompletionRequest is one system+user exchange
type CompletionRequest struct {
	Credential   string
	Model        string
	System       string
	User         string
	ImageDataURL string
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float32           `json:"temperature"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client talks to an OpenAI-compatible chat-completions API with retries
// and a circuit breaker shared by all workers.
type Client struct {
	cfg     Config
	http    *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates the process-wide model client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	httpClient.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		httpClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		httpClient.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.RequestTimeout > 0 {
		httpClient.HTTPClient.Timeout = cfg.RequestTimeout
	}

	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "extraction-llm",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		// a tenant's bad key or a bad document must not open the breaker for everyone
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Client{cfg: cfg, http: httpClient, breaker: breaker, logger: logger}
}

// Complete sends one request and returns the first choice's content.
// Network errors, 429 and 5xx after retries, and an open breaker are
// returned as retryable errors.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", domain.NewRetryableError(fmt.Errorf("extraction service unavailable: %w", err))
		}
		return "", err
	}
	return out.(string), nil
}

func (c *Client) post(ctx context.Context, req CompletionRequest) (string, error) {
	start := time.Now()

	key := req.Credential
	if key == "" {
		key = c.cfg.APIKey
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+key)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		c.logger.Warn("Completion request failed",
			slog.Any("error", err),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		)
		return "", domain.NewRetryableError(fmt.Errorf("completion request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NewRetryableError(fmt.Errorf("failed to read completion response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.Permanentf("completion status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", domain.Permanentf("failed to decode completion response: %v", err)
	}
	if len(cc.Choices) == 0 {
		return "", domain.Permanentf("no choices in completion response")
	}

	c.logger.Debug("Completion received",
		slog.String("model", req.Model),
		slog.Bool("vision", req.ImageDataURL != ""),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)

	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

func (c *Client) buildRequest(req CompletionRequest) chatRequest {
	var user any = req.User
	if req.ImageDataURL != "" {
		user = []contentPart{
			{Type: "text", Text: req.User},
			{Type: "image_url", ImageURL: &imageURL{URL: req.ImageDataURL}},
		}
	}

	return chatRequest{
		Model:       req.Model,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
