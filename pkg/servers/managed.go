package servers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type StopFn func(ctx context.Context, timeout time.Duration)

// Manage runs server in its own goroutine. A Run error is sent to errChan without blocking; the
// returned StopFn stops the server within timeout.
func Manage(ctx context.Context, name string, server Server, errChan chan<- error) StopFn {
	go func() {
		err := server.Run(ctx)
		if err == nil {
			return
		}

		select {
		case errChan <- err:
		default:
			log.Ctx(ctx).Error().Err(err).Str("component", name).Msg("runtime error dropped")
		}
	}()

	return func(ctx context.Context, timeout time.Duration) {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		err := server.Stop(stopCtx)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("stage", "shut down").Str("component", name).Msg("unable to stop")
		}
	}
}
