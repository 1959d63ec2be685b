package push

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const breakerTripThreshold = 5

// BreakerSender stops calling a failing provider until it recovers.
type BreakerSender struct {
	next    Sender
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerSender wraps next. The circuit opens after consecutive provider failures and
// retries after the cooldown. Unregistered tokens are the device's fault and do not count.
func NewBreakerSender(next Sender, cooldown time.Duration, logger *zap.Logger) *BreakerSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "push",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnregisteredToken) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("push circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerSender{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Send implements Sender.
func (s *BreakerSender) Send(ctx context.Context, token string, message Message) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.next.Send(ctx, token, message)
	})
	return err
}

// State exposes the breaker state.
func (s *BreakerSender) State() gobreaker.State {
	return s.breaker.State()
}
