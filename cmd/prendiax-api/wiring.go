package main

import (
	"context"
	"strings"

	"github.com/prendiax/backend/internal/auth"
	"github.com/prendiax/backend/internal/config"
	"github.com/prendiax/backend/internal/push"
	"github.com/prendiax/backend/internal/storage"
	"go.uber.org/zap"
)

// newPushNotifier delivers through FCM behind a circuit breaker when a server key is set and
// falls back to logging otherwise.
func newPushNotifier(appConfig config.AppConfig, tokens push.TokenStore, logger *zap.Logger) (*push.Notifier, error) {
	var sender push.Sender = push.NewLogSender(logger)
	if appConfig.PushEnabled() {
		fcm, err := push.NewFCMSender(push.FCMConfig{
			Endpoint:  appConfig.PushEndpoint,
			ServerKey: appConfig.PushServerKey,
			Timeout:   appConfig.PushTimeout,
		})
		if err != nil {
			return nil, err
		}
		sender = push.NewBreakerSender(fcm, 0, logger)
	} else {
		logger.Info("push provider not configured; device notifications are logged only")
	}
	return push.NewNotifier(tokens, sender, logger)
}

// newMediaStore returns nil when no bucket is configured; media uploads then answer 503.
func newMediaStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (storage.MediaStore, error) {
	if !appConfig.MediaStorageEnabled() {
		logger.Info("media storage not configured; media endpoints are unavailable")
		return nil, nil
	}
	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Endpoint:        appConfig.S3Endpoint,
		Region:          appConfig.S3Region,
		Bucket:          appConfig.S3Bucket,
		AccessKeyID:     appConfig.S3AccessKeyID,
		SecretAccessKey: appConfig.S3SecretAccessKey,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newProviderVerifier(provider, clientID, jwksURL string, logger *zap.Logger) (*auth.IDTokenVerifier, error) {
	if strings.TrimSpace(clientID) == "" {
		logger.Info("identity provider disabled", zap.String("provider", provider))
		return nil, nil
	}
	return auth.NewIDTokenVerifier(auth.IDTokenVerifierConfig{
		Provider: provider,
		Audience: clientID,
		JWKSURL:  jwksURL,
		Logger:   logger.Named(provider),
	})
}
