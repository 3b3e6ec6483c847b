package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// normalizeBaseURL strips trailing slashes and the "/chat/completions"
// suffix from a raw base URL so the path is never doubled when the client
// appends "/chat/completions" itself.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// NewHTTPClient creates a client for the given endpoint. timeout is the
// per-call ceiling; callers wanting retries should wrap the client with
// NewRetrying.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    normalizeBaseURL(baseURL),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one chat completion request and returns the assistant's
// text plus token usage. Errors are classified per the transport contract.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	msgs := make([]chatMsg, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMsg{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Response{}, &Error{Kind: ErrKindMalformed, Err: fmt.Errorf("encoding request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Kind: ErrKindTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Response{}, &Error{Kind: ErrKindTimeout, Err: err}
		}
		return Response{}, &Error{Kind: ErrKindTransport, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Kind: ErrKindTransport, Err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, &Error{Kind: ErrKindRateLimited, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200))}
	case resp.StatusCode >= 500:
		return Response{}, &Error{Kind: ErrKindTransport, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200))}
	case resp.StatusCode != http.StatusOK:
		return Response{}, &Error{Kind: ErrKindMalformed, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, &Error{Kind: ErrKindMalformed, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if parsed.Error != nil {
		return Response{}, &Error{Kind: ErrKindMalformed, Err: errors.New(parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, &Error{Kind: ErrKindMalformed, Err: errors.New("response has no choices")}
	}

	slog.Debug("LLM call complete",
		"model", req.Model,
		"duration", time.Since(start),
		"input_tokens", parsed.Usage.PromptTokens,
		"output_tokens", parsed.Usage.CompletionTokens)

	return Response{
		Text:         parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
