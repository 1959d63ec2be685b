package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prendiax/backend/internal/auth"
	"github.com/prendiax/backend/internal/chats"
	"github.com/prendiax/backend/internal/config"
	"github.com/prendiax/backend/internal/database"
	"github.com/prendiax/backend/internal/logging"
	"github.com/prendiax/backend/internal/notifications"
	"github.com/prendiax/backend/internal/posts"
	"github.com/prendiax/backend/internal/realtime"
	"github.com/prendiax/backend/internal/server"
	"github.com/prendiax/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prendiax-api",
		Short: "Prendiax chat and social backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "Origins allowed for CORS and websocket upgrades")
	cmd.PersistentFlags().StringSlice("trusted-proxies", defaults.GetStringSlice("http.trusted_proxies"), "Proxies whose X-Forwarded-For header is trusted")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().Bool("legacy-tokens", defaults.GetBool("auth.legacy_tokens"), "Accept unsigned legacy app tokens")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "http.trusted_proxies", "trusted-proxies")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.legacy_tokens", "legacy-tokens")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger.Named("users"),
	})
	if err != nil {
		return err
	}

	registry := realtime.NewRegistry(logger.Named("realtime"))

	pushNotifier, err := newPushNotifier(appConfig, userService, logger.Named("push"))
	if err != nil {
		return err
	}
	mediaStore, err := newMediaStore(ctx, appConfig, logger.Named("storage"))
	if err != nil {
		return err
	}

	postService, err := posts.NewService(posts.ServiceConfig{
		Database: db,
		Names:    userService,
		Clock:    time.Now,
		Logger:   logger.Named("posts"),
	})
	if err != nil {
		return err
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database: db,
		Posts:    postService,
		Users:    userService,
		Live:     registry,
		Clock:    time.Now,
		Logger:   logger.Named("notifications"),
	})
	if err != nil {
		return err
	}
	postService.SetNotifier(notificationService)

	chatService, err := chats.NewService(chats.ServiceConfig{
		Database:      db,
		Users:         userService,
		Live:          registry,
		Push:          pushNotifier,
		Media:         mediaStore,
		MaxMediaBytes: appConfig.MediaMaxBytes,
		Clock:         time.Now,
		Logger:        logger.Named("chats"),
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		CookieName:    appConfig.SessionCookieName,
		TTL:           appConfig.SessionTTL,
		Secure:        appConfig.SessionSecure,
	})
	if err != nil {
		return err
	}
	legacy := auth.LegacyTokenPolicy{Enabled: appConfig.LegacyTokens, Prefix: appConfig.LegacyTokenPrefix}
	resolver := auth.NewResolver(
		auth.NewBearerVerifier(tokenIssuer, legacy),
		auth.NewSessionVerifier(sessions),
	)
	if legacy.Enabled {
		logger.Warn("legacy app tokens are accepted", zap.String("prefix", legacy.Prefix))
	}

	googleVerifier, err := newProviderVerifier(auth.ProviderGoogle, appConfig.GoogleClientID, appConfig.GoogleJWKSURL, logger)
	if err != nil {
		return err
	}
	appleVerifier, err := newProviderVerifier(auth.ProviderApple, appConfig.AppleClientID, appConfig.AppleJWKSURL, logger)
	if err != nil {
		return err
	}

	realtimeHandler, err := realtime.NewHandler(realtime.HandlerConfig{
		Registry:       registry,
		Resolver:       resolver,
		Users:          userService,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger.Named("realtime"),
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Resolver:       resolver,
		Tokens:         tokenIssuer,
		Sessions:       sessions,
		Users:          userService,
		Chats:          chatService,
		Notifications:  notificationService,
		Posts:          postService,
		Realtime:       realtimeHandler,
		AllowedOrigins: appConfig.AllowedOrigins,
		TrustedProxies: appConfig.TrustedProxies,
		ConnectRate:    appConfig.RealtimeConnectRate,
		ConnectBurst:   appConfig.RealtimeConnectBurst,
		MaxMediaBytes:  appConfig.MediaMaxBytes,
		Logger:         logger.Named("http"),
	}
	if googleVerifier != nil {
		deps.GoogleVerifier = googleVerifier
	}
	if appleVerifier != nil {
		deps.AppleVerifier = appleVerifier
	}
	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.Bool("push_enabled", appConfig.PushEnabled()),
			zap.Bool("media_storage_enabled", appConfig.MediaStorageEnabled()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		registry.CloseAll(websocket.CloseGoingAway, "server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
