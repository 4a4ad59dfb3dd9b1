// Package provider implements the chat provider client. The only transport
// is HTTP against an Ollama-compatible /api/chat endpoint, guarded by a hard
// network gate, a retry budget, and a circuit breaker.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ProviderName identifies this client in responses and traces.
const ProviderName = "ollama"

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is a successful provider generation.
type Response struct {
	Content   string `json:"content"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	LatencyMS int64  `json:"latency_ms"`
	Attempts  int    `json:"attempts"`
	Truncated bool   `json:"truncated"`
}

// ClientConfig contains configuration for the provider client.
type ClientConfig struct {
	// NetworkEnabled gates all outbound calls. When false every call
	// fails with network_disabled.
	NetworkEnabled bool

	// BaseURL is the provider base URL. Default: http://127.0.0.1:11434
	BaseURL string

	// Model is the chat model identifier.
	Model string

	// Timeout is the per-attempt deadline. Default: 30 seconds
	Timeout time.Duration

	// HealthTimeout is the health probe deadline. Default: 5 seconds
	HealthTimeout time.Duration

	// RetryCount is the number of retries after the first attempt.
	RetryCount int

	// RetryBackoff is the constant sleep between attempts.
	// Default: 500ms
	RetryBackoff time.Duration

	// MaxOutputChars caps response content length. Zero disables the cap.
	// Default: 4000
	MaxOutputChars int

	// CircuitMaxFailures opens the breaker after this many consecutive
	// timeout/network failures. Default: 3
	CircuitMaxFailures int

	// CircuitReset is the open-state window before a half-open probe.
	// Default: 30 seconds
	CircuitReset time.Duration

	// ModelAllowlist restricts usable models when non-empty.
	ModelAllowlist []string
}

// Client calls an Ollama-compatible chat endpoint.
type Client struct {
	config    ClientConfig
	breaker   *Breaker
	http      *http.Client
	allowlist map[string]struct{}
	logger    *slog.Logger

	// sleep is swappable so retry tests do not wait out real backoffs.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a provider client. The model must pass the allowlist.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 5 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}
	if config.MaxOutputChars < 0 {
		config.MaxOutputChars = 0
	}

	allowlist := make(map[string]struct{}, len(config.ModelAllowlist))
	for _, m := range config.ModelAllowlist {
		allowlist[m] = struct{}{}
	}

	c := &Client{
		config:    config,
		breaker:   NewBreaker(config.CircuitMaxFailures, config.CircuitReset),
		http:      &http.Client{Timeout: config.Timeout},
		allowlist: allowlist,
		logger:    slog.Default().With("component", "provider.client"),
		sleep:     sleepCtx,
	}

	if err := c.ensureModelAllowed(config.Model); err != nil {
		return nil, err
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) ensureModelAllowed(model string) error {
	if len(c.allowlist) == 0 {
		return nil
	}
	if _, ok := c.allowlist[model]; !ok {
		return &Error{Kind: KindModelRejected, Provider: ProviderName, Detail: fmt.Sprintf("model %q not allowlisted", model)}
	}
	return nil
}

// Breaker exposes the client's circuit breaker state for readiness checks.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Generate produces a completion for the given messages. The breaker is
// consulted once per call; all attempts within the retry budget share its
// verdict, and only timeout/network outcomes feed back into it.
func (c *Client) Generate(ctx context.Context, messages []Message) (Response, error) {
	if !c.config.NetworkEnabled {
		return Response{}, &Error{Kind: KindNetworkDisabled, Provider: ProviderName, Detail: "outbound provider calls are disabled"}
	}
	if err := c.ensureModelAllowed(c.config.Model); err != nil {
		return Response{}, err
	}
	if !c.breaker.Allow() {
		return Response{}, &Error{Kind: KindCircuitOpen, Provider: ProviderName, Detail: "provider temporarily unavailable"}
	}

	start := time.Now()
	content, attempts, err := c.requestWithRetries(ctx, messages)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) && countsAsBreakerFailure(perr.Kind) {
			c.breaker.RecordFailure()
		}
		return Response{}, err
	}
	c.breaker.RecordSuccess()

	truncated := false
	if c.config.MaxOutputChars > 0 && len(content) > c.config.MaxOutputChars {
		content = content[:c.config.MaxOutputChars]
		truncated = true
	}

	return Response{
		Content:   content,
		Model:     c.config.Model,
		Provider:  ProviderName,
		LatencyMS: time.Since(start).Milliseconds(),
		Attempts:  attempts,
		Truncated: truncated,
	}, nil
}

func (c *Client) requestWithRetries(ctx context.Context, messages []Message) (string, int, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		attempts = attempt + 1
		content, err := c.doChat(ctx, messages)
		if err == nil {
			return content, attempts, nil
		}
		lastErr = err

		var perr *Error
		if errors.As(err, &perr) && !countsAsBreakerFailure(perr.Kind) {
			// Protocol and model errors are not transient; retrying
			// burns the budget for the same answer.
			break
		}
		if attempt < c.config.RetryCount {
			if serr := c.sleep(ctx, c.config.RetryBackoff); serr != nil {
				break
			}
		}
	}
	return "", attempts, lastErr
}

func (c *Client) doChat(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.config.Model, Messages: messages, Stream: false})
	if err != nil {
		return "", &Error{Kind: KindProtocol, Provider: ProviderName, Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindProtocol, Provider: ProviderName, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &Error{Kind: KindModelRejected, Provider: ProviderName, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, detail)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Kind: KindProtocol, Provider: ProviderName, Detail: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &Error{Kind: KindProtocol, Provider: ProviderName, Cause: err}
	}
	return parsed.Message.Content, nil
}

// classifyTransportError maps a transport failure to timeout or network.
func (c *Client) classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: ProviderName, Cause: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTimeout, Provider: ProviderName, Cause: err}
	}
	return &Error{Kind: KindNetwork, Provider: ProviderName, Cause: err}
}

// HealthCheck probes the provider's tag listing endpoint. It reports a
// reason string suitable for readiness responses and never trips the
// breaker by itself.
func (c *Client) HealthCheck(ctx context.Context) (bool, string) {
	if !c.config.NetworkEnabled {
		return false, KindNetworkDisabled
	}
	if c.breaker.State() == StateOpen {
		return false, KindCircuitOpen
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Sprintf("provider unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("provider status %d", resp.StatusCode)
	}
	return true, "ok"
}
