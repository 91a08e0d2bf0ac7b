package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// ErrNoCORSOrigins indicates CORS was enabled without any allowed origins.
var ErrNoCORSOrigins = errors.New("httpapi.cors.no_origins")

// CORSMiddleware builds the CORS policy for cross-origin clients. Origins
// must be listed explicitly; credentials ride on the Authorization header.
func CORSMiddleware(allowedOrigins []string) (gin.HandlerFunc, error) {
	if len(allowedOrigins) == 0 {
		return nil, fmt.Errorf("httpapi.cors: %w", ErrNoCORSOrigins)
	}
	configuration := cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("httpapi.cors: %w", err)
	}
	return cors.New(configuration), nil
}
