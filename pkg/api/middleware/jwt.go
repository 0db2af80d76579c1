package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/auth"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTMiddleware
const (
	ContextService = "service"
	ContextScopes  = "scopes"
	ContextToken   = "token"
)

// JWTConfig configures service token authentication
type JWTConfig struct {
	Secret    string
	Issuer    string
	Blacklist *auth.TokenBlacklist
}

// JWTMiddleware authenticates calling services by their bearer token
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "missing_token",
					Message: "Authorization header is required",
				})
			}

			// Check Bearer prefix
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token_format",
					Message: "Authorization header must be 'Bearer {token}'",
				})
			}
			token := parts[1]

			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()

			claims, err := auth.ValidateWithBlacklist(ctx, token, cfg.Issuer, cfg.Secret, cfg.Blacklist)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token",
					Message: "The token is invalid, expired or revoked",
				})
			}

			c.Set(ContextToken, token)
			c.Set(ContextService, claims.Service)
			c.Set(ContextScopes, claims.Scopes)

			return next(c)
		}
	}
}

// RequireScope rejects callers whose token lacks scope. It must run after JWTMiddleware.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scopes, _ := c.Get(ContextScopes).([]string)
			for _, s := range scopes {
				if s == scope {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, models.ErrorResponse{
				Error:   "insufficient_scope",
				Message: "This token does not grant the " + scope + " scope",
			})
		}
	}
}
