package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tutorialhub/answerd/config"
	"github.com/tutorialhub/answerd/internal/answer"
	"github.com/tutorialhub/answerd/internal/cache"
	"github.com/tutorialhub/answerd/internal/ratelimit"
	"github.com/tutorialhub/answerd/internal/store"
	"github.com/tutorialhub/answerd/internal/telemetry"
	"github.com/tutorialhub/answerd/internal/worker"
	"github.com/tutorialhub/answerd/provider"
)

// Run wires every dependency together and serves HTTP until the listener
// fails. Single composition root; handlers receive their dependencies, they
// never reach for globals.
func Run(cfg *config.Config) error {
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = httpErrorHandler(baseLogger, cfg.General.Debug)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := cfg.OpenAI.Validate(); err != nil {
		return err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if addr := cfg.Storage.Redis.Addr(); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			baseLogger.Printf("redis unreachable at startup, serving from process memory: %v", err)
		}
		cancel()
	}
	cacheSvc := cache.New(redisClient, log.New(log.Writer(), "[CACHE] ", log.LstdFlags))

	oai, err := provider.NewOpenAI(cfg.OpenAI, cfg.Retrieval.FastEmbeddings)
	if err != nil {
		return err
	}

	metrics := telemetry.New(nil)
	window := time.Duration(cfg.RateLimit.WindowMs) * time.Millisecond
	answerLimiter := ratelimit.New(cacheSvc, window, cfg.RateLimit.AnswerMaxRequests, "answer", log.New(log.Writer(), "[RATELIMIT] ", log.LstdFlags))
	generalLimiter := ratelimit.New(cacheSvc, window, cfg.RateLimit.MaxRequests, "api", log.New(log.Writer(), "[RATELIMIT] ", log.LstdFlags))

	svc := answer.NewService(oai, oai, st, cacheSvc, answerLimiter, metrics, log.New(log.Writer(), "[ANSWER] ", log.LstdFlags), answer.Options{
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		MaxSources:          cfg.Retrieval.MaxSources,
		CacheTTL:            time.Duration(cfg.Retrieval.CacheTTLSeconds) * time.Second,
	})

	// Deployments with no embedded chunks at all serve retrieval from the
	// lexical index; everywhere else the vector path is authoritative.
	embedded, err := st.CountEmbedded(ctx)
	if err != nil {
		return err
	}
	if embedded == 0 {
		baseLogger.Printf("no embedded chunks found, serving retrieval from the lexical index")
		svc = svc.WithLexicalRetrieval(store.NewLexicalIndex(st))
	}

	if cfg.Backfill.Enabled {
		bf := worker.NewBackfill(st, oai, cfg.Backfill.BatchSize, log.New(log.Writer(), "[BACKFILL] ", log.LstdFlags))
		if err := bf.Start(cfg.Backfill.CronSpec); err != nil {
			return err
		}
		defer bf.Stop()
	}

	api := e.Group("/api")
	api.Use(rateLimitMiddleware(generalLimiter, metrics, []byte(cfg.General.JWTSecret)))

	ah := &AnswerHandler{Service: svc, Secret: []byte(cfg.General.JWTSecret), Logger: baseLogger}
	ah.Register(api)

	hh := &HealthHandler{Store: st, Cache: cacheSvc, Embedder: oai}
	hh.Register(api)

	fh := &FeedbackHandler{Store: st, Logger: log.New(log.Writer(), "[FEEDBACK] ", log.LstdFlags)}
	fh.Register(api)

	return e.Start(cfg.General.Listen)
}

// httpErrorHandler translates the pipeline error taxonomy into HTTP replies.
// Internal detail never leaves the process unless debug mode is on.
func httpErrorHandler(logger *log.Logger, debug bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := "internal error"
		extra := map[string]interface{}{}

		var he *echo.HTTPError
		var vErr *answer.ValidationError
		var rlErr *answer.RateLimitError
		var cfgErr *answer.ConfigurationError
		switch {
		case errors.As(err, &he):
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		case errors.As(err, &vErr):
			code = http.StatusBadRequest
			msg = vErr.Reason
		case errors.As(err, &rlErr):
			code = http.StatusTooManyRequests
			msg = "rate limit exceeded, please slow down"
			c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(rlErr.ResetTime)))
			extra["remaining"] = rlErr.Remaining
			extra["reset_time"] = rlErr.ResetTime.UTC().Format(time.RFC3339)
		case errors.As(err, &cfgErr):
			code = http.StatusServiceUnavailable
			msg = "service not configured"
		}

		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)

		if c.Response().Committed {
			return
		}
		body := map[string]interface{}{"error": msg}
		for k, v := range extra {
			body[k] = v
		}
		if debug {
			body["detail"] = err.Error()
		}
		_ = c.JSON(code, body)
	}
}

func retryAfterSeconds(reset time.Time) int {
	secs := int(time.Until(reset).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}
