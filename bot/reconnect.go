package bot

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ReconnectOptions configures Supervise's retry backoff: how long to
// sleep before trying again. The backoff starts at MinBackoff and doubles
// after every return of Run, capped at MaxBackoff; it is not reset after
// a session that connected successfully.
type ReconnectOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// Jitter is a fraction (0..1) of the computed backoff applied as
	// random additional delay, to avoid a thundering herd of bots
	// reconnecting to the same network in lockstep.
	Jitter float64
}

func withReconnectDefaults(o *ReconnectOptions) {
	if o.MinBackoff == 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 2 * time.Minute
	}
	if o.Jitter == 0 {
		o.Jitter = 0.2
	}
}

// Supervise runs b.Run in a loop, reconnecting with exponential backoff
// whenever it returns, until ctx is cancelled. The engine itself never
// reconnects on its own; Supervise is the opt-in wrapper for deployments
// that want that.
func Supervise(ctx context.Context, b *Bot, opts ReconnectOptions, logger *zap.SugaredLogger) error {
	withReconnectDefaults(&opts)
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	backoff := opts.MinBackoff
	for {
		err := b.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Warnw("bot run exited, reconnecting", "error", err, "backoff", backoff)
		} else {
			logger.Infow("bot disconnected, reconnecting", "backoff", backoff)
		}

		wait := backoff
		if opts.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(float64(backoff) * opts.Jitter)))
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}
}
