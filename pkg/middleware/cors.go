package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4/middleware"
)

// CORSConfig returns the CORS configuration for the dashboard origins allowed
// to call the API. Service-to-service calls carry no Origin and are unaffected.
func CORSConfig(origins []string) middleware.CORSConfig {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o != "" && o != "*" {
			allowed = append(allowed, o)
		}
	}

	return middleware.CORSConfig{
		AllowOrigins: allowed,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
		},
		AllowCredentials: true,
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
		},
	}
}
