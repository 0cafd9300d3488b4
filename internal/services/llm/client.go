package llm

import (
	"context"
	"fmt"
	"time"
)

// Message is a single chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExtractionRequest is the outgoing completion payload. Built once per attempt
// and never mutated.
type ExtractionRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        int       `json:"max_tokens"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
}

// Choice is one completion choice. Only Text is consumed.
type Choice struct {
	Text string `json:"text"`
}

// Completion is the decoded response body of a non-429 call.
type Completion struct {
	Choices []Choice `json:"choices"`

	// StatusCode of the HTTP response the completion was decoded from.
	StatusCode int `json:"-"`
}

// RateLimitError is returned when the endpoint answers 429.
// RetryAfter is zero when the response carried no usable Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by completion endpoint, retry after %s", e.RetryAfter)
	}
	return "rate limited by completion endpoint"
}

// LLMClient issues completion calls.
type LLMClient interface {
	// Complete performs a single call. A 429 yields *RateLimitError; transport
	// and decoding failures yield other errors.
	Complete(ctx context.Context, req ExtractionRequest) (*Completion, error)
}
