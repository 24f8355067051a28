package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
)

// WithTimeout bounds fn to limit. A store call that overruns returns an error
// matching both apperrors.ErrTimeout and context.DeadlineExceeded, so callers
// can tell a slow backend from a cancelled request. fn keeps running in the
// background until it observes its context; a zero limit runs it inline.
func WithTimeout(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(opCtx) }()

	select {
	case err := <-result:
		if err != nil && opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return timeoutError(op, limit)
		}
		return err
	case <-opCtx.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: request ended: %w", op, err)
		}
		return timeoutError(op, limit)
	}
}

func timeoutError(op string, limit time.Duration) error {
	return fmt.Errorf("%s exceeded %v: %w: %w", op, limit, apperrors.ErrTimeout, context.DeadlineExceeded)
}
