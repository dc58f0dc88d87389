package hardware

import (
	"context"
	"time"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// Retrier runs device operations, retrying while the device is busy.
type Retrier struct {
	Attempts int
	Delay    time.Duration
	Clock    clock.Clock

	// OnRetry is called before waiting for the next attempt
	OnRetry func(action string, attempt int)
}

func NewRetrier(attempts int, delay time.Duration, clk clock.Clock) *Retrier {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Retrier{
		Attempts: attempts,
		Delay:    delay,
		Clock:    clk,
	}
}

// Perform runs op up to Attempts times.
//
// A busy device (TransportError of KindLocked) is retried after Delay. Any other
// TransportError fails immediately wrapped in ErrTransport. A TransportStatusError and
// errors not raised by the transport are returned unchanged. Running out of attempts yields
// ErrHardwareActionFailed.
func (r *Retrier) Perform(ctx context.Context, action string, op func(ctx context.Context) error) error {
	log := util.LogFromContext(ctx).With().Str("action", action).Logger()

	var lastErr error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			return err
		}
		if transportErr.Kind != KindLocked {
			log.Error().Err(err).Int("attempt", attempt).Msg("Hardware transport failed")
			return errors.Wrapf(ErrTransport, "%s: %v", action, err)
		}

		lastErr = err
		if attempt == r.Attempts {
			break
		}

		log.Debug().Int("attempt", attempt).Dur("delay", r.Delay).Msg("Device busy, retrying")
		if r.OnRetry != nil {
			r.OnRetry(action, attempt)
		}

		select {
		case <-r.Clock.TickAfter(r.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return errors.Wrapf(ErrHardwareActionFailed, "%s: %d attempts: %v", action, r.Attempts, lastErr)
}
