package server

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/tutorialhub/answerd/internal/answer"
	"github.com/tutorialhub/answerd/internal/ratelimit"
	"github.com/tutorialhub/answerd/internal/telemetry"
)

// clientKey identifies the caller for rate limiting. A valid bearer token
// keys the window by subject so one user behind a shared NAT does not burn
// everyone else's budget; otherwise the client IP is the key.
func clientKey(c echo.Context, secret []byte) string {
	auth := c.Request().Header.Get("Authorization")
	if len(secret) > 0 && strings.HasPrefix(auth, "Bearer ") {
		raw := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err == nil && token.Valid {
			if sub, err := token.Claims.GetSubject(); err == nil && sub != "" {
				return "sub:" + sub
			}
		}
	}
	return "ip:" + c.RealIP()
}

// rateLimitMiddleware applies the general per-client request budget to a
// route group. The answer pipeline layers its own stricter budget on top.
func rateLimitMiddleware(limiter *ratelimit.Limiter, metrics *telemetry.Metrics, secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter == nil {
				return next(c)
			}
			decision := limiter.Check(c.Request().Context(), clientKey(c, secret))
			if !decision.Allowed {
				metrics.ObserveRateLimitReject()
				return &answer.RateLimitError{Remaining: decision.Remaining, ResetTime: decision.ResetTime}
			}
			return next(c)
		}
	}
}
