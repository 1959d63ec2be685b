// Package push delivers device notifications to the mobile apps.
package push

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrUnregisteredToken indicates the provider no longer recognizes the device token.
var ErrUnregisteredToken = errors.New("push: device token unregistered")

// Message is one device notification.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers a message to a single device token.
type Sender interface {
	Send(ctx context.Context, token string, message Message) error
}

// LogSender drops messages after logging them. It stands in when no provider is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, token string, message Message) error {
	s.logger.Debug("push delivery skipped",
		zap.String("token_suffix", tokenSuffix(token)),
		zap.String("title", message.Title))
	return nil
}

func tokenSuffix(token string) string {
	if len(token) <= 6 {
		return token
	}
	return token[len(token)-6:]
}
