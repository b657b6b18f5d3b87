// Package llm provides the generative tier of the decision engine: an
// OpenAI-compatible chat client with bounded retry, and an embeddings
// client for the retrieval store. Both ride the shared pooled transport
// from pkg/httputil.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/policygenie/verdict/pkg/config"
	"github.com/policygenie/verdict/pkg/httputil"
)

// DefaultTemperature keeps adjudication output near-deterministic.
const DefaultTemperature = 0.1

// maxAttempts bounds generation retries. The last error is surfaced after
// the final attempt; callers decide whether that is terminal.
const maxAttempts = 3

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	client   *http.Client
	provider config.LLMProvider
	baseURL  string
	apiKey   string
	model    string
}

// ClientConfig configures the chat client.
type ClientConfig struct {
	Provider config.LLMProvider
	APIKey   string // Optional for Ollama
	Model    string
	BaseURL  string // Optional override
	Timeout  time.Duration
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// NewClient creates a chat client for the configured provider.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Model == "" {
		if cfg.Provider == config.ProviderOllama {
			cfg.Model = "qwen2.5:7b" // Default local
		} else {
			cfg.Model = "meta-llama/llama-3.3-70b-instruct:free" // Default cloud
		}
	}

	var baseURL string
	switch cfg.Provider {
	case config.ProviderOllama:
		baseURL = "http://localhost:11434/v1" // OpenAI compatible endpoint of Ollama
	case config.ProviderGroq:
		baseURL = "https://api.groq.com/openai/v1"
	case config.ProviderOpenAI:
		baseURL = "https://api.openai.com/v1"
	case config.ProviderOpenRouter, config.ProviderCustom:
		fallthrough
	default:
		baseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	httpClient := httputil.SlowClient()
	if cfg.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Timeout, Transport: httpClient.Transport}
	}

	return &Client{
		client:   httpClient,
		provider: cfg.Provider,
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Generate sends a single-user-message completion request and returns the
// raw assistant text. Transient failures are retried up to maxAttempts
// with exponential backoff; the last error is returned once exhausted.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	return c.GenerateWithSystem(ctx, "", prompt, temperature, maxTokens)
}

// GenerateWithSystem is Generate with an optional system message.
func (c *Client) GenerateWithSystem(ctx context.Context, system, prompt string, temperature float64, maxTokens int) (string, error) {
	if c.provider == config.ProviderOpenRouter && c.apiKey == "" {
		return "", fmt.Errorf("API key not configured for OpenRouter")
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	var msgs []message
	if system != "" {
		msgs = append(msgs, message{Role: "system", Content: system})
	}
	msgs = append(msgs, message{Role: "user", Content: prompt})

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var lastErr error
	backoff := 2 * time.Second
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		content, err := c.callChat(ctx, reqBody)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return "", err
		}
		if attempt < maxAttempts {
			log.Printf("[WARN] llm: attempt %d/%d failed, retrying in %s: %v", attempt, maxAttempts, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
		}
	}
	return "", fmt.Errorf("generation failed after %d attempts: %w", maxAttempts, lastErr)
}

// statusError carries the HTTP status for retry decisions.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.status, e.body)
}

func isRetryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		// Client errors other than rate limiting will not heal on retry.
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return true // network and decode errors are worth retrying
}

func (c *Client) callChat(ctx context.Context, reqBody chatRequest) (string, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	// Handle trailing slash in baseURL just in case
	endpoint := strings.TrimRight(c.baseURL, "/") + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	// OpenRouter specific headers (ignored by Ollama)
	if c.provider == config.ProviderOpenRouter {
		req.Header.Set("HTTP-Referer", "https://github.com/policygenie/verdict")
		req.Header.Set("X-Title", "PolicyGenie Verdict")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer httputil.DrainAndClose(resp.Body)

	// External LLM providers are untrusted; bound the body read so a
	// misbehaving provider cannot exhaust memory. 2MB is generous for
	// any legitimate completion.
	const maxResponseSize = 2 * 1024 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{status: resp.StatusCode, body: string(body)}
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("unmarshal error: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	return result.Choices[0].Message.Content, nil
}

// ExtractJSON strips markdown fences and surrounding prose from a model
// response, returning the outermost JSON object.
func ExtractJSON(content string) string {
	clean := strings.TrimSpace(content)
	if start := strings.Index(clean, "{"); start != -1 {
		clean = clean[start:]
	}
	if end := strings.LastIndex(clean, "}"); end != -1 {
		clean = clean[:end+1]
	}
	return clean
}
