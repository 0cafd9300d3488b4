package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"
)

// OpenAIClient posts raw completion payloads to an OpenAI-compatible endpoint.
// The SDK's own retries are disabled; 429 handling belongs to the caller.
type OpenAIClient struct {
	client   openai.Client
	endpoint string
}

func NewOpenAIClient(endpoint, apiKey string, timeout time.Duration) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("completion endpoint is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &OpenAIClient{
		client:   openai.NewClient(opts...),
		endpoint: endpoint,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req ExtractionRequest) (*Completion, error) {
	var (
		httpResp *http.Response
		body     []byte
	)

	// Keep the raw response whatever its status or content type; the SDK
	// only decodes JSON-typed 2xx bodies on its own.
	capture := func(r *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		res, err := next(r)
		if err != nil || res == nil {
			return res, err
		}

		data, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read completion body: %w", err)
		}
		res.Body = io.NopCloser(bytes.NewReader(data))

		httpResp, body = res, data
		return res, nil
	}

	var raw []byte
	err := c.client.Post(ctx, c.endpoint, req, &raw, option.WithMiddleware(capture))
	if httpResp == nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			RetryAfter: ParseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now()),
		}
	}

	var completion Completion
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("failed to decode completion (status %d): %w", httpResp.StatusCode, err)
	}
	completion.StatusCode = httpResp.StatusCode

	if httpResp.StatusCode >= http.StatusBadRequest {
		log.Warn().
			Int("status", httpResp.StatusCode).
			Int("choices", len(completion.Choices)).
			Str("model", req.Model).
			Msg("Completion endpoint returned an error status")
	}

	return &completion, nil
}

// maxRetryAfterSeconds is the largest delay a time.Duration can hold.
var maxRetryAfterSeconds = float64(math.MaxInt64 / int64(time.Second))

// ParseRetryAfter reads a Retry-After value given either in seconds (integer or
// fractional) or as an HTTP date. It returns 0 when the value is absent,
// unparseable or already in the past.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return 0
		}
		if seconds >= maxRetryAfterSeconds {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(seconds * float64(time.Second))
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}
