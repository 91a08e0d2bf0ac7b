package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/denk-solutions/authgate/internal/identity"
	"github.com/denk-solutions/authgate/internal/session"
	"github.com/denk-solutions/authgate/internal/store"
	"github.com/denk-solutions/authgate/internal/tokens"
)

// Config configures the mounted auth routes.
type Config struct {
	// AllowInsecureHTTP disables the secure-transport requirement for local dev.
	AllowInsecureHTTP bool
}

// Revoker retires a user's active refresh token on logout.
type Revoker interface {
	RevokeActive(ctx context.Context, userID string) error
}

// MountAuthRoutes registers /auth/{provider} for each registered provider,
// plus /auth/refresh, /auth/logout, and /me. Credentials travel in the
// Authorization header; token pairs are returned in the JSON body.
func MountAuthRoutes(router gin.IRouter, configuration Config, issuer *session.Issuer, providers *identity.Registry, revoker Revoker, logger *zap.Logger, recorder MetricsRecorder) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = NewCounterMetrics()
	}

	for _, providerName := range providers.Providers() {
		verifier, lookupErr := providers.Lookup(providerName)
		if lookupErr != nil {
			continue
		}
		router.POST("/auth/"+providerName, func(contextGin *gin.Context) {
			if !configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "https required"})
				return
			}
			assertionToken, ok := bearerToken(contextGin.Request)
			if !ok {
				respondNotAuthenticated(contextGin)
				return
			}
			pair, loginErr := issuer.LoginWithProvider(contextGin.Request.Context(), verifier, assertionToken)
			if loginErr != nil {
				recorder.Increment(EventLoginRejected)
				respondAuthError(contextGin, logger, recorder, "login", loginErr)
				return
			}
			recorder.Increment(EventLoginSuccess)
			contextGin.JSON(http.StatusOK, pair)
		})
	}

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		if !configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "https required"})
			return
		}
		presented, ok := bearerToken(contextGin.Request)
		if !ok {
			respondNotAuthenticated(contextGin)
			return
		}
		pair, exchangeErr := issuer.ExchangeRefreshToken(contextGin.Request.Context(), presented)
		if exchangeErr != nil {
			recorder.Increment(EventRefreshDenied)
			respondAuthError(contextGin, logger, recorder, "refresh", exchangeErr)
			return
		}
		recorder.Increment(EventRefreshSuccess)
		contextGin.JSON(http.StatusOK, pair)
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		presented, ok := bearerToken(contextGin.Request)
		if !ok {
			respondNotAuthenticated(contextGin)
			return
		}
		claims, verifyErr := issuer.VerifyAccessToken(presented)
		if verifyErr != nil {
			respondNotAuthenticated(contextGin)
			return
		}
		if revokeErr := revoker.RevokeActive(contextGin.Request.Context(), claims.Subject); revokeErr != nil {
			logger.Error("failed to revoke refresh token on logout",
				zap.String("code", "auth.logout.revoke_failed"),
				zap.Error(revokeErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
			return
		}
		contextGin.Status(http.StatusNoContent)
	})

	router.GET("/me", func(contextGin *gin.Context) {
		presented, ok := bearerToken(contextGin.Request)
		if !ok {
			respondNotAuthenticated(contextGin)
			return
		}
		claims, verifyErr := issuer.VerifyAccessToken(presented)
		if verifyErr != nil {
			respondNotAuthenticated(contextGin)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"user_id": claims.Subject,
			"email":   claims.Email,
			"expires": claims.ExpiresAt.Time,
		})
	})
}

// respondAuthError maps domain failures onto client-facing responses without
// leaking internals. Replay detections and integrity conflicts are logged as
// security-relevant events.
func respondAuthError(contextGin *gin.Context, logger *zap.Logger, recorder MetricsRecorder, operation string, err error) {
	switch {
	case errors.Is(err, store.ErrHashMismatch):
		recorder.Increment(EventReplayDetected)
		logger.Warn("refresh token replay detected",
			zap.String("code", "auth.refresh.replay_detected"),
			zap.String("operation", operation))
		respondNotAuthenticated(contextGin)
	case errors.Is(err, store.ErrIntegrityConflict):
		recorder.Increment(EventConflict)
		logger.Error("storage integrity conflict",
			zap.String("code", "auth.integrity_conflict"),
			zap.String("operation", operation),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"detail": "Conflict"})
	case errors.Is(err, tokens.ErrTokenExpired),
		errors.Is(err, tokens.ErrInvalidToken),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, identity.ErrInvalidAssertion),
		errors.Is(err, identity.ErrUnverifiedIdentity):
		respondNotAuthenticated(contextGin)
	default:
		logger.Error("unexpected auth failure",
			zap.String("code", "auth.internal_error"),
			zap.String("operation", operation),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal error"})
	}
}

func respondNotAuthenticated(contextGin *gin.Context) {
	contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
}

func bearerToken(request *http.Request) (string, bool) {
	header := request.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	scheme := request.Header.Get("X-Forwarded-Proto")
	if strings.EqualFold(scheme, "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr == nil && host == "localhost" {
		return true
	}
	return false
}
