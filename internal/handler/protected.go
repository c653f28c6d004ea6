package handler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/circuitbreaker"
	"github.com/heraldhq/herald/internal/db"
)

// ProtectedHandler wraps a ChannelHandler with a circuit breaker so a
// failing provider (SES, SNS) fails fast instead of delaying every
// remaining recipient in a dispatch run. A fast-failed invocation
// still produces a failed result row like any other handler error.
type ProtectedHandler struct {
	inner   ChannelHandler
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedHandler wraps a handler with circuit breaker protection.
func NewProtectedHandler(inner ChannelHandler, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedHandler {
	return &ProtectedHandler{
		inner:   inner,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedHandler) Name() string { return p.inner.Name() }

func (p *ProtectedHandler) Supports(ch db.Channel) bool {
	return p.inner.Supports(ch)
}

// Deliver sends through the breaker. ErrMissingContact does not count
// as a provider failure: the provider was never reached.
func (p *ProtectedHandler) Deliver(ctx context.Context, rec *db.NotificationRecord, sub *db.Subscriber) (*Delivery, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Name()),
			zap.String("record_id", rec.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, fmt.Errorf("%w: %s provider unavailable", circuitbreaker.ErrCircuitOpen, p.breaker.Name())
	}

	delivery, err := p.inner.Deliver(ctx, rec, sub)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case errors.Is(err, ErrMissingContact):
		// not a provider fault
	default:
		p.breaker.RecordFailure()
	}
	return delivery, err
}

// Breaker exposes the underlying breaker for stats endpoints.
func (p *ProtectedHandler) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
