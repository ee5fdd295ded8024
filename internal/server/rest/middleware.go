package rest

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/logging"
	"github.com/dmitrijs2005/telehealth/internal/server/auth"
	"github.com/labstack/echo/v4"
)

const requestIDKey = "request_id"

func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				var err error
				if rid, err = common.MakeRandHexString(8); err != nil {
					rid = "-"
				}
			}
			c.Set(requestIDKey, rid)
			c.Response().Header().Set(echo.HeaderXRequestID, rid)
			return next(c)
		}
	}
}

func requestLogger(l logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				// commit the response so the status below is final
				c.Error(err)
			}

			args := []any{
				"request_id", c.Get(requestIDKey),
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"latency", time.Since(start).String(),
			}
			if err != nil {
				l.Warn(req.Context(), "request", append(args, "error", err)...)
			} else {
				l.Info(req.Context(), "request", args...)
			}
			return nil
		}
	}
}

func recovery(l logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					l.Error(c.Request().Context(), "panic recovered",
						"request_id", c.Get(requestIDKey),
						"panic", fmt.Sprintf("%v", r),
						"stack", string(stack[:n]))
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}

// authenticate requires a valid bearer token and stores the caller's
// identity in the request context.
func authenticate(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return fmt.Errorf("%w: missing authorization header", common.ErrorUnauthorized)
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return fmt.Errorf("%w: invalid authorization format", common.ErrorUnauthorized)
			}

			claims, err := auth.ParseToken(token, secret)
			if err != nil {
				return fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
			}

			ctx := auth.WithIdentity(c.Request().Context(), auth.Identity{UserID: claims.UserID, Role: claims.Role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// bodyLimit rejects request bodies larger than limit bytes.
func bodyLimit(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if limit <= 0 || req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > limit {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)
			return next(c)
		}
	}
}
