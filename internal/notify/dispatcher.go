package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirinyoku/evreg/internal/metrics"
)

// Dispatcher sends messages in the background after a commit. Failures are
// logged and counted, never returned.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{notifier: n, logger: logger, timeout: timeout}
}

// Dispatch detaches from the request context so a client disconnect does
// not drop the message.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	if d == nil || d.notifier == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.NotificationFailed(string(msg.Kind))
				d.logger.ErrorContext(ctx, "notification panicked",
					slog.String("kind", string(msg.Kind)),
					slog.String("registration_id", msg.RegistrationID),
					slog.String("panic", fmt.Sprint(r)),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, msg); err != nil {
			metrics.NotificationFailed(string(msg.Kind))
			d.logger.ErrorContext(ctx, "notification failed",
				slog.String("kind", string(msg.Kind)),
				slog.String("registration_id", msg.RegistrationID),
				slog.String("event_id", msg.EventID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every in-flight message has been handled.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
