package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultSendTimeout = 10 * time.Second

// Dispatcher sends messages in the background. Failures are logged and never
// reported to the caller.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(sender Sender, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{sender: sender, timeout: timeout}
}

// Dispatch returns immediately. The send runs with its own deadline so it
// outlives the request that triggered it.
func (d *Dispatcher) Dispatch(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic_value", p).Str("order_id", msg.OrderID).Msg("notification: panic while sending")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sender.Send(ctx, msg); err != nil {
			log.Error().
				Err(err).
				Str("kind", string(msg.Kind)).
				Str("order_id", msg.OrderID).
				Str("recipient", msg.Recipient).
				Msg("notification: failed to send message")
		}
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
