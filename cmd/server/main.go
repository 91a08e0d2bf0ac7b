package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/denk-solutions/authgate/internal/httpapi"
	"github.com/denk-solutions/authgate/internal/identity"
	"github.com/denk-solutions/authgate/internal/session"
	"github.com/denk-solutions/authgate/internal/store"
	"github.com/denk-solutions/authgate/internal/storepg"
	"github.com/denk-solutions/authgate/internal/tokens"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleVerifier = func(ctx context.Context, clientID string) (identity.Verifier, error) {
	return identity.NewGoogleVerifier(ctx, clientID)
}

var buildAppleVerifier = func(ctx context.Context, clientID string) (identity.Verifier, error) {
	return identity.NewAppleVerifier(ctx, clientID)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "authgate",
		Short:   "Auth service with Google and Apple Sign-In verification, JWT access tokens, and rotating refresh tokens",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for access and refresh JWTs")
	rootCmd.Flags().String("jwt_issuer", "", "Issuer claim for minted tokens (must be an https URL)")
	rootCmd.Flags().StringSlice("jwt_audience", []string{}, "Accepted audience values for minted tokens")
	rootCmd.Flags().Duration("access_ttl", 15*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 60*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth Client ID; empty disables the google provider")
	rootCmd.Flags().String("apple_client_id", "", "Apple Services ID; empty disables the apple provider")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "", "Database URL for users and refresh tokens (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().Bool("pgx_store", false, "Use the raw pgx store instead of GORM for postgres database URLs")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("jwt_signing_key", rootCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("jwt_issuer", rootCmd.Flags().Lookup("jwt_issuer"))
	_ = viper.BindPFlag("jwt_audience", rootCmd.Flags().Lookup("jwt_audience"))
	_ = viper.BindPFlag("access_ttl", rootCmd.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", rootCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("google_client_id", rootCmd.Flags().Lookup("google_client_id"))
	_ = viper.BindPFlag("apple_client_id", rootCmd.Flags().Lookup("apple_client_id"))
	_ = viper.BindPFlag("dev_insecure_http", rootCmd.Flags().Lookup("dev_insecure_http"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("pgx_store", rootCmd.Flags().Lookup("pgx_store"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeMissingJWTIssuer        = "config.missing_jwt_issuer"
	configCodeMissingJWTAudience      = "config.missing_jwt_audience"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeMissingProviders        = "config.missing_identity_providers"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeProviderInit            = "config.provider_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// ServerConfig carries validated startup configuration.
type ServerConfig struct {
	ListenAddr         string
	JWTSigningKey      []byte
	JWTIssuer          string
	JWTAudience        []string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	GoogleClientID     string
	AppleClientID      string
	DatabaseURL        string
	UsePgxStore        bool
	DevInsecureHTTP    bool
	EnableCORS         bool
	CORSAllowedOrigins []string
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (ServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	jwtIssuer := viper.GetString("jwt_issuer")
	if jwtIssuer == "" {
		return ServerConfig{}, configError(configCodeMissingJWTIssuer, "jwt_issuer must be provided")
	}

	jwtAudience := viper.GetStringSlice("jwt_audience")
	if len(jwtAudience) == 0 {
		return ServerConfig{}, configError(configCodeMissingJWTAudience, "jwt_audience must list at least one accepted audience")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	googleClientID := viper.GetString("google_client_id")
	appleClientID := viper.GetString("apple_client_id")
	if googleClientID == "" && appleClientID == "" {
		return ServerConfig{}, configError(configCodeMissingProviders, "at least one of google_client_id or apple_client_id must be provided")
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return ServerConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	return ServerConfig{
		ListenAddr:         viper.GetString("listen_addr"),
		JWTSigningKey:      []byte(jwtSigningKey),
		JWTIssuer:          jwtIssuer,
		JWTAudience:        jwtAudience,
		AccessTTL:          accessTTL,
		RefreshTTL:         refreshTTL,
		GoogleClientID:     googleClientID,
		AppleClientID:      appleClientID,
		DatabaseURL:        viper.GetString("database_url"),
		UsePgxStore:        viper.GetBool("pgx_store"),
		DevInsecureHTTP:    viper.GetBool("dev_insecure_http"),
		EnableCORS:         enableCORS,
		CORSAllowedOrigins: corsAllowedOrigins,
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}
	if commandContext == nil {
		commandContext = context.Background()
	}

	codec, codecErr := tokens.NewCodec(tokens.Config{
		SigningKey: serverConfig.JWTSigningKey,
		Issuer:     serverConfig.JWTIssuer,
		Audience:   serverConfig.JWTAudience,
		AccessTTL:  serverConfig.AccessTTL,
		RefreshTTL: serverConfig.RefreshTTL,
	})
	if codecErr != nil {
		return codecErr
	}

	var directory session.Directory
	var rotator session.Rotator
	var revoker httpapi.Revoker
	if serverConfig.DatabaseURL != "" && serverConfig.UsePgxStore {
		pool, poolErr := storepg.BuildPool(commandContext, serverConfig.DatabaseURL)
		if poolErr != nil {
			return poolErr
		}
		if schemaErr := storepg.EnsureSchema(commandContext, pool); schemaErr != nil {
			return schemaErr
		}
		pgxStore, storeErr := storepg.NewStore(pool, codec)
		if storeErr != nil {
			return storeErr
		}
		directory, rotator, revoker = pgxStore, pgxStore, pgxStore
		logger.Info("using persistent store", zap.String("driver", "pgx"))
	} else if serverConfig.DatabaseURL != "" {
		persistentStore, storeErr := store.NewStore(commandContext, serverConfig.DatabaseURL, codec)
		if storeErr != nil {
			return storeErr
		}
		directory, rotator, revoker = persistentStore, persistentStore, persistentStore
		logger.Info("using persistent store", zap.String("driver", persistentStore.Driver()))
	} else {
		memoryStore, storeErr := store.NewMemoryStore(codec)
		if storeErr != nil {
			return storeErr
		}
		directory, rotator, revoker = memoryStore, memoryStore, memoryStore
		logger.Info("using in-memory store")
	}

	issuer, issuerErr := session.NewIssuer(codec, directory, rotator)
	if issuerErr != nil {
		return issuerErr
	}

	var verifiers []identity.Verifier
	if serverConfig.GoogleClientID != "" {
		googleVerifier, googleErr := buildGoogleVerifier(commandContext, serverConfig.GoogleClientID)
		if googleErr != nil {
			return fmt.Errorf("%s: %w", configCodeProviderInit, googleErr)
		}
		verifiers = append(verifiers, googleVerifier)
	}
	if serverConfig.AppleClientID != "" {
		appleVerifier, appleErr := buildAppleVerifier(commandContext, serverConfig.AppleClientID)
		if appleErr != nil {
			return fmt.Errorf("%s: %w", configCodeProviderInit, appleErr)
		}
		verifiers = append(verifiers, appleVerifier)
	}
	registry := identity.NewRegistry(verifiers...)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := httpapi.CORSMiddleware(serverConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	metricsRecorder := httpapi.NewCounterMetrics()
	httpapi.MountAuthRoutes(router, httpapi.Config{AllowInsecureHTTP: serverConfig.DevInsecureHTTP}, issuer, registry, revoker, logger, metricsRecorder)

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", serverConfig.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
