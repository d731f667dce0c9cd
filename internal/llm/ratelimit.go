package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/quillworks/quill/internal/domain"
)

// Limiter spaces outbound model calls. A nil Limiter admits everything.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter admits at most perMinute calls per minute, with a burst of
// one. perMinute <= 0 disables limiting.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)}
}

// Wait blocks until a call may proceed or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.rl.Wait(ctx); err != nil {
		return domain.WrapEngineError(domain.ErrRateLimited.Code, "waiting for model call slot", err)
	}
	return nil
}
