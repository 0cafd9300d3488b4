package keywords

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"keyword-extractor/internal/services/llm"
	"keyword-extractor/internal/view"

	"github.com/rs/zerolog/log"
)

// PromptPrefix is prepended to the user's text.
const PromptPrefix = "Extract keywords from this text. Make the first letter of every word uppercase and separate with commas:\n\n"

// Fixed sampling parameters.
const (
	Temperature      = 0.5
	MaxTokens        = 60
	TopP             = 1.0
	FrequencyPenalty = 0.8
	PresencePenalty  = 0.0
)

// ErrRetryBudgetExhausted ends a chain that kept receiving 429s.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// Presenter receives the state transitions of an orchestration chain.
type Presenter interface {
	BeginLoading() (uint64, view.Snapshot)
	Resolve(gen uint64, keywords string) bool
	Fail(gen uint64) bool
}

// Options configure the orchestrator. They are fixed at construction.
type Options struct {
	Model             string
	MaxRetries        int
	DefaultRetryDelay time.Duration
	MaxRetryDelay     time.Duration
}

// KeywordService runs extraction chains against the completion endpoint.
type KeywordService struct {
	llm   llm.LLMClient
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

func NewKeywordService(client llm.LLMClient, opts Options) *KeywordService {
	if opts.DefaultRetryDelay <= 0 {
		opts.DefaultRetryDelay = time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &KeywordService{
		llm:   client,
		opts:  opts,
		sleep: sleepContext,
	}
}

// BuildRequest assembles the completion payload for text.
func BuildRequest(model, text string) llm.ExtractionRequest {
	return llm.ExtractionRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: "user", Content: PromptPrefix + text},
		},
		Temperature:      Temperature,
		MaxTokens:        MaxTokens,
		TopP:             TopP,
		FrequencyPenalty: FrequencyPenalty,
		PresencePenalty:  PresencePenalty,
	}
}

// Extract runs one orchestration chain to completion. Loading is entered
// before any network activity; the outcome lands on p.
func (s *KeywordService) Extract(ctx context.Context, p Presenter, text string) {
	gen, _ := p.BeginLoading()
	s.run(ctx, p, gen, text)
}

// Submit enters Loading synchronously and runs the chain in the background.
// The returned snapshot is the Loading state the chain started from.
func (s *KeywordService) Submit(ctx context.Context, p Presenter, text string) (uint64, view.Snapshot) {
	gen, snap := p.BeginLoading()
	go s.run(ctx, p, gen, text)
	return gen, snap
}

func (s *KeywordService) run(ctx context.Context, p Presenter, gen uint64, text string) {
	logger := log.With().Uint64("generation", gen).Int("text_len", len(text)).Logger()

	keywords, err := s.fetch(ctx, text)
	if err != nil {
		logger.Error().Err(err).Msg("Keyword extraction failed")
		if !p.Fail(gen) {
			logger.Debug().Msg("Ignoring failure from superseded extraction")
		}
		return
	}

	if !p.Resolve(gen, keywords) {
		logger.Debug().Msg("Ignoring result from superseded extraction")
		return
	}
	logger.Info().Str("keywords", keywords).Msg("Keywords extracted")
}

// fetch issues the call and retries on 429 while the budget lasts.
func (s *KeywordService) fetch(ctx context.Context, text string) (string, error) {
	for attempt := 0; ; attempt++ {
		completion, err := s.llm.Complete(ctx, BuildRequest(s.opts.Model, text))

		var rlErr *llm.RateLimitError
		if errors.As(err, &rlErr) {
			if attempt >= s.opts.MaxRetries {
				return "", fmt.Errorf("%w after %d retries", ErrRetryBudgetExhausted, attempt)
			}

			delay := s.retryDelay(rlErr.RetryAfter)
			log.Warn().
				Dur("retry_after", delay).
				Int("attempt", attempt+1).
				Int("max_retries", s.opts.MaxRetries).
				Msg("Rate limit hit, retrying")

			if err := s.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("waiting to retry: %w", err)
			}
			continue
		}
		if err != nil {
			return "", err
		}

		log.Debug().
			Int("status", completion.StatusCode).
			Int("choices", len(completion.Choices)).
			Msg("Completion received")

		if len(completion.Choices) == 0 {
			log.Warn().Int("status", completion.StatusCode).Msg("No choices returned from completion endpoint")
			return "", nil
		}
		return strings.TrimSpace(completion.Choices[0].Text), nil
	}
}

func (s *KeywordService) retryDelay(serverDelay time.Duration) time.Duration {
	delay := serverDelay
	if delay <= 0 {
		delay = s.opts.DefaultRetryDelay
	}
	if s.opts.MaxRetryDelay > 0 && delay > s.opts.MaxRetryDelay {
		delay = s.opts.MaxRetryDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
