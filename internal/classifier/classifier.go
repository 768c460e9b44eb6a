// Package classifier is the boundary to the external AI model that turns a
// thought into proposed actions. The core treats it as a single blocking
// call: no retry policy beyond rate-limit handling lives here, and callers
// do not retry failures.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// ErrCredentialMissing is returned by Ready when no API key is configured.
var ErrCredentialMissing = errors.New("classifier credential missing")

// Request carries everything the classifier needs about one thought.
type Request struct {
	Text             string
	Tags             []string
	ToolDescriptions string
}

// Proposal is one action the model suggests, with its free-text justification.
type Proposal struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// Enhancement is the model's optional thought-rewrite suggestion.
type Enhancement struct {
	ShouldApply  bool     `json:"should_apply"`
	ImprovedText string   `json:"improved_text,omitempty"`
	Changes      []string `json:"changes,omitempty"`
}

// Result is the parsed classifier output plus the raw response for audit.
type Result struct {
	Actions     []Proposal      `json:"actions"`
	Enhancement *Enhancement    `json:"thought_enhancement,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// Classifier turns thought text into proposed actions.
type Classifier interface {
	// Ready returns nil when a credential is configured.
	Ready() error
	Classify(ctx context.Context, req Request) (Result, error)
}

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Client calls an OpenRouter-compatible chat completions endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a classifier client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, model, baseURL string) *Client {
	c := NewClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Ready reports whether the client holds a credential.
func (c *Client) Ready() error {
	if c.apiKey == "" {
		return ErrCredentialMissing
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends the thought to the model and parses the structured result.
func (c *Client) Classify(ctx context.Context, req Request) (Result, error) {
	if err := c.Ready(); err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: BuildPrompt(req),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		content, err := c.doChat(ctx, body)
		if err == nil {
			return parseResult(content)
		}

		if !isRateLimit(err) {
			return Result{}, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return Result{}, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) doChat(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return cr.Choices[0].Message.Content, nil
}

// parseResult extracts the structured classification from the model's
// content. The prompt demands a bare JSON object, but models occasionally
// wrap it in a markdown fence.
func parseResult(content string) (Result, error) {
	trimmed := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(trimmed, "```json"); ok {
		trimmed = after
	} else if after, ok := strings.CutPrefix(trimmed, "```"); ok {
		trimmed = after
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	trimmed = strings.TrimSpace(trimmed)

	var result Result
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return Result{}, fmt.Errorf("parsing classifier output: %w", err)
	}
	result.Raw = json.RawMessage(trimmed)
	return result, nil
}
