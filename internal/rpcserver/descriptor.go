// Package rpcserver hosts any number of services behind one gRPC listener:
// it builds real grpc.ServiceDesc/grpc.MethodDesc values from explicit
// ServiceDescriptors (no reflection-based method binding), enforces
// per-service API version bounds, forwards calls to a delegated proxy peer
// when one is registered, keeps an in-flight call registry for the debug
// dump, and drives the shutdown coordinator.
package rpcserver

import (
	"context"

	"google.golang.org/grpc"

	"rpchost/internal/rpcclient"
	"rpchost/internal/rpcmeta"
)

// MethodKind is the explicit shape of one RPC method. Picking the kind up
// front - rather than inspecting the generated stub at call time, as the
// original implementation does via grpc internals - is the point of this
// redesign: every dispatch path is a plain switch, not a runtime type probe.
type MethodKind int

const (
	Unary MethodKind = iota
	ServerStreaming
	ClientStreaming
	BidiStreaming
)

// UnaryHandler implements one unary method. It returns the full response
// message (which should embed a rpcapi.Result for business-level outcomes)
// and a non-nil error only for handler failures that should surface as a
// genuine gRPC error rather than an embedded Result - typically "this should
// never happen" conditions recovered from a panic.
type UnaryHandler func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error)

// StreamHandler implements one streaming method (any of the three streaming
// kinds) against the raw grpc.ServerStream; it owns framing for however many
// messages its kind allows in each direction.
type StreamHandler func(ctx context.Context, meta rpcmeta.Metadata, stream grpc.ServerStream) error

// MethodDescriptor is one callable method of a ServiceDescriptor.
type MethodDescriptor struct {
	Name   string
	Kind   MethodKind
	Unary  UnaryHandler  // set iff Kind == Unary
	Stream StreamHandler // set iff Kind != Unary

	// NewRequest returns a fresh, empty instance of the method's request
	// message type, used to decode the incoming payload before invoking
	// Unary. Stream handlers decode their own messages and do not use it.
	NewRequest func() any
}

// ServiceDescriptor explicitly describes one hosted service: its name, the
// [SupportVersion, CurrentVersion] range of API versions it accepts, and its
// methods. ProxyAllowed marks services that may be delegated to a remote
// peer via srv.proxy_register. Of the built-in services, srv and events set
// it to false, while config and log set it to true.
type ServiceDescriptor struct {
	Name           string
	CurrentVersion int32
	SupportVersion int32
	Methods        []MethodDescriptor
	ProxyAllowed   bool

	// Load, if set, is called once per Server.Serve, after the listener is
	// up and not proxied away, with a client dialed at the server's own
	// address - the equivalent of the original RpcManager's preload/load
	// step. Built-in services (srv, config, log) leave this nil.
	Load func(ctx context.Context, client *rpcclient.Client) error
}

func (d ServiceDescriptor) method(name string) (MethodDescriptor, bool) {
	for _, m := range d.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodDescriptor{}, false
}
