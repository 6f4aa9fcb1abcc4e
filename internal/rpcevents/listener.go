package rpcevents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"

	"rpchost/internal/rpcclient"
	"rpchost/internal/rpclog"
	"rpchost/pkg/rpcapi"
)

var listenStreamDesc = &grpc.StreamDesc{
	StreamName:    "listen",
	ServerStreams: true,
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Handler processes one delivered event. A non-nil return stops the
// Listener.
type Handler func(rpcapi.Event) error

// Listener keeps an events.listen stream alive against one server, resuming
// its queue by ClientID across reconnects and backing off exponentially
// between attempts, mirroring the original's EventListener thread.
type Listener struct {
	client *rpcclient.Client
	names  []string
	handle Handler
	logger *slog.Logger

	clientID int32
}

// NewListener builds a Listener against an already-dialed client. names, if
// non-empty, restricts delivery to matching event names.
func NewListener(client *rpcclient.Client, names []string, handle Handler) *Listener {
	return &Listener{client: client, names: names, handle: handle, logger: rpclog.Named("rpcevents.listener")}
}

// Run blocks, reconnecting with exponential backoff whenever the stream
// drops, until ctx is cancelled or handle returns an error.
func (l *Listener) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := l.runOnce(ctx)
		if err == nil {
			return nil
		}
		var stop handleErr
		if errors.As(err, &stop) {
			return stop.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.logger.Warn("events stream dropped, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// handleErr distinguishes "handler asked us to stop" from a transport error
// so Run doesn't reconnect after a deliberate stop.
type handleErr struct{ err error }

func (h handleErr) Error() string { return h.err.Error() }

func (l *Listener) runOnce(ctx context.Context) error {
	streamCtx := l.client.OutgoingContext(ctx)
	stream, err := l.client.Conn().NewStream(streamCtx, listenStreamDesc, "/events/listen", grpc.ForceCodec(rpcapi.Codec))
	if err != nil {
		return err
	}

	filter := rpcapi.EventFilter{ClientID: l.clientID, Names: l.names}
	if err := stream.SendMsg(&filter); err != nil {
		return err
	}

	for {
		var status rpcapi.EventStatus
		if err := stream.RecvMsg(&status); err != nil {
			return err
		}
		l.clientID = status.ClientID

		if status.R.Code == rpcapi.ErrorStreamShutdown {
			return errStreamShutdown
		}
		if status.Event == nil || status.Event.Name == "" {
			continue // initial allocation response or keep-alive
		}
		if err := l.handle(*status.Event); err != nil {
			return handleErr{err}
		}
	}
}

var errStreamShutdown = &streamShutdownError{}

type streamShutdownError struct{}

func (*streamShutdownError) Error() string { return "server closed the events stream for shutdown" }
