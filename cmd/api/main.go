package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"keyword-extractor/internal/cache"
	"keyword-extractor/internal/config"
	httphandler "keyword-extractor/internal/http"
	"keyword-extractor/internal/middleware"
	"keyword-extractor/internal/services/keywords"
	"keyword-extractor/internal/services/llm"
	"keyword-extractor/internal/session"
	"keyword-extractor/internal/view"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	port := flag.String("port", "", "Port to run the server on (overrides PORT)")
	flag.Parse()

	if err := run(*port); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}

// run owns every resource of the process so its deferred cleanups complete
// before main decides the exit code.
func run(port string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port != "" {
		cfg.Server.Port = port
	}

	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llmClient, err := llm.NewOpenAIClient(cfg.OpenAI.APIURL, cfg.OpenAI.APIKey, cfg.OpenAI.RequestTimeout)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	keywordService := keywords.NewKeywordService(llmClient, keywords.Options{
		Model:             cfg.OpenAI.Model,
		MaxRetries:        cfg.Extract.MaxRetries,
		DefaultRetryDelay: cfg.Extract.DefaultRetryDelay,
		MaxRetryDelay:     cfg.Extract.MaxRetryDelay,
	})

	sessions := session.NewRegistry(view.ParseClosePolicy(cfg.Extract.ClosePolicy), cfg.Session.IdleTTL)

	var (
		limiter middleware.Limiter
		ready   func(context.Context) error
	)
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisCache.Close()

		limiter = middleware.NewRedisRateLimiter(redisCache, cfg.RateLimit.RequestsPerMinute)
		ready = redisCache.Ping
	} else {
		log.Info().Msg("REDIS_ADDR not set, rate limiting in memory")
		limiter = middleware.NewSimpleRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
	}

	router := httphandler.NewRouter()
	router.RegisterPageRoutes()
	router.RegisterKeywordRoutes(httphandler.NewKeywordHandler(ctx, keywordService, sessions), limiter)
	router.RegisterHealthRoutes(ready)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("port", cfg.Server.Port).
			Str("model", cfg.OpenAI.Model).
			Int("max_retries", cfg.Extract.MaxRetries).
			Str("close_policy", cfg.Extract.ClosePolicy).
			Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sessions.Run(gctx, time.Minute)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
