package push

import (
	"context"
	"errors"

	"github.com/prendiax/backend/internal/auth"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxParallelDeliveries = 8

// TokenStore resolves and prunes device tokens.
type TokenStore interface {
	DeviceTokens(ctx context.Context, identity auth.Identity) ([]string, error)
	RemoveDeviceToken(ctx context.Context, token string) error
}

// Notifier delivers a message to every device of a user.
type Notifier struct {
	tokens TokenStore
	sender Sender
	logger *zap.Logger
}

// NewNotifier constructs a notifier.
func NewNotifier(tokens TokenStore, sender Sender, logger *zap.Logger) (*Notifier, error) {
	if tokens == nil {
		return nil, errors.New("push: token store is required")
	}
	if sender == nil {
		return nil, errors.New("push: sender is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{tokens: tokens, sender: sender, logger: logger}, nil
}

// Notify sends message to every device token of identity concurrently. Tokens the provider
// reports as unregistered are removed. It returns the first delivery error.
func (n *Notifier) Notify(ctx context.Context, identity auth.Identity, message Message) error {
	tokens, err := n.tokens.DeviceTokens(ctx, identity)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	var group errgroup.Group
	group.SetLimit(maxParallelDeliveries)
	for _, token := range tokens {
		group.Go(func() error {
			err := n.sender.Send(ctx, token, message)
			if errors.Is(err, ErrUnregisteredToken) {
				n.logger.Info("removing unregistered device token",
					zap.Int64("user_id", identity.Int64()),
					zap.String("token_suffix", tokenSuffix(token)))
				return n.tokens.RemoveDeviceToken(ctx, token)
			}
			return err
		})
	}
	return group.Wait()
}
