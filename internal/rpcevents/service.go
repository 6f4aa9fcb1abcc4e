package rpcevents

import (
	"context"

	"google.golang.org/grpc"

	"rpchost/internal/rpcerr"
	"rpchost/internal/rpcmeta"
	"rpchost/internal/rpcserver"
	"rpchost/pkg/rpcapi"
)

// NewDescriptor builds the events built-in service descriptor: listen is a
// server-streaming method, send/interrupt/inspect are unary.
func NewDescriptor(m *Manager) rpcserver.ServiceDescriptor {
	return rpcserver.ServiceDescriptor{
		Name:           "events",
		CurrentVersion: 1,
		SupportVersion: 1,
		ProxyAllowed:   false,
		Methods: []rpcserver.MethodDescriptor{
			{
				Name: "listen",
				Kind: rpcserver.ServerStreaming,
				Stream: func(ctx context.Context, _ rpcmeta.Metadata, stream grpc.ServerStream) error {
					var filter rpcapi.EventFilter
					if err := stream.RecvMsg(&filter); err != nil {
						return err
					}
					return m.Listen(ctx, filter, func(status rpcapi.EventStatus) error {
						return stream.SendMsg(&status)
					})
				},
			},
			{
				Name:       "interrupt",
				Kind:       rpcserver.Unary,
				NewRequest: func() any { return &rpcapi.EventInterrupt{} },
				Unary: func(_ context.Context, _ rpcmeta.Metadata, req any) (any, error) {
					in := req.(*rpcapi.EventInterrupt)
					if err := m.Interrupt(in.ClientID); err != nil {
						return &rpcapi.EventStatus{ClientID: in.ClientID, R: rpcerr.Result(err)}, nil
					}
					return &rpcapi.EventStatus{ClientID: in.ClientID, R: rpcapi.OKResult()}, nil
				},
			},
			{
				Name:       "send",
				Kind:       rpcserver.Unary,
				NewRequest: func() any { return &rpcapi.Event{} },
				Unary: func(_ context.Context, _ rpcmeta.Metadata, req any) (any, error) {
					ev := req.(*rpcapi.Event)
					delivered, err := m.Send(*ev)
					if err != nil {
						return &rpcapi.EventSendResult{R: rpcerr.Result(err)}, nil
					}
					return &rpcapi.EventSendResult{Delivered: delivered, R: rpcapi.OKResult()}, nil
				},
			},
			{
				Name:       "inspect",
				Kind:       rpcserver.Unary,
				NewRequest: func() any { return &rpcapi.Empty{} },
				Unary: func(_ context.Context, _ rpcmeta.Metadata, _ any) (any, error) {
					return &rpcapi.EventQueuesStatus{Queues: m.Inspect(), R: rpcapi.OKResult()}, nil
				},
			},
		},
	}
}
