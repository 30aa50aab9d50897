package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/time/rate"

	"github.com/netsift/netsift"
)

// Client is the language-model boundary. Implementations must honor the
// context deadline.
type Client interface {
	// Complete returns the raw completion text for one prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Default completion parameters. Low temperature keeps label output stable
// across identical prompts.
const (
	DefaultMaxTokens   = 256
	DefaultTemperature = 0.2
)

// ClientConfig configures an HTTPClient.
type ClientConfig struct {
	// Endpoint is the inference runtime's root URL. The completions path is
	// resolved against it.
	Endpoint string
	// Model names the model to request; empty lets the runtime pick.
	Model string
	// MaxTokens bounds the completion length. Zero means DefaultMaxTokens.
	MaxTokens int
	// Temperature is the sampling temperature. Zero means
	// DefaultTemperature.
	Temperature float64
	// RequestsPerMinute caps the call rate to the runtime. Zero means no
	// cap.
	RequestsPerMinute int
	// Client is the HTTP client to use. Nil means http.DefaultClient.
	Client *http.Client
}

// HTTPClient talks to an OpenAI-compatible completions endpoint.
type HTTPClient struct {
	c           *http.Client
	root        *url.URL
	model       string
	maxTokens   int
	temperature float64
	limiter     *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates the configuration and returns a ready client.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("inference: endpoint not provided")
	}
	if !strings.HasSuffix(cfg.Endpoint, "/") {
		cfg.Endpoint += "/"
	}
	root, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("inference: bad endpoint: %w", err)
	}
	c := &HTTPClient{
		c:           cfg.Client,
		root:        root,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
	if c.c == nil {
		c.c = http.DefaultClient
	}
	if c.maxTokens == 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.temperature == 0 {
		c.temperature = DefaultTemperature
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

type completionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "inference/HTTPClient.Complete")
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &netsift.Error{
				Op:    "complete",
				Kind:  netsift.ErrTimeout,
				Inner: err,
			}
		}
	}

	u, err := c.root.Parse("v1/completions")
	if err != nil {
		return "", fmt.Errorf("bad completions URL: %w", err)
	}
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Prompt:      prompt,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("unable to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	zlog.Debug(ctx).
		Stringer("url", u).
		Int("prompt_bytes", len(prompt)).
		Msg("requesting completion")
	res, err := c.c.Do(req)
	if err != nil {
		kind := netsift.ErrUpstream
		if errors.Is(err, context.DeadlineExceeded) {
			kind = netsift.ErrTimeout
		}
		return "", &netsift.Error{
			Op:    "complete",
			Kind:  kind,
			Inner: err,
		}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		// Read a little of the body for the log; runtimes put the reason
		// there.
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		zlog.Warn(ctx).
			Int("status", res.StatusCode).
			Str("body", string(snippet)).
			Msg("completion request rejected")
		return "", &netsift.Error{
			Op:      "complete",
			Kind:    netsift.ErrUpstream,
			Message: fmt.Sprintf("unexpected status: %s", res.Status),
		}
	}

	var cr completionResponse
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return "", &netsift.Error{
			Op:      "complete",
			Kind:    netsift.ErrUpstream,
			Message: "undecodable completion response",
			Inner:   err,
		}
	}
	if cr.Error != nil {
		return "", &netsift.Error{
			Op:      "complete",
			Kind:    netsift.ErrUpstream,
			Message: cr.Error.Message,
		}
	}
	if len(cr.Choices) == 0 {
		return "", &netsift.Error{
			Op:      "complete",
			Kind:    netsift.ErrUpstream,
			Message: "completion response carried no choices",
		}
	}
	return cr.Choices[0].Text, nil
}
