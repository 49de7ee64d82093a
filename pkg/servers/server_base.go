package servers

import (
	"context"

	"github.com/qmdx00/lifecycle"
	"github.com/rs/zerolog/log"

	"event-rsvp/pkg/resources"
)

// baseServer does no work of its own: it blocks until stopped and then releases the closables
// (connection pools, clients) handed to it, in reverse order.
type baseServer struct {
	name         string
	closeChannel chan struct{}
	closables    []resources.Closable
}

func NewBaseServer(name string, closables ...resources.Closable) lifecycle.Server {
	return &baseServer{
		name:         name,
		closeChannel: make(chan struct{}),
		closables:    closables,
	}
}

func (server *baseServer) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "startup").Str("component", server.name).Msg("starting up")

	select {
	case <-server.closeChannel:
	case <-ctx.Done():
	}

	return nil
}

func (server *baseServer) Stop(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopping")
	defer log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopped")

	for i := len(server.closables) - 1; i >= 0; i-- {
		server.closables[i].Close()
	}

	close(server.closeChannel)

	return nil
}
