package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc"

	"rpchost/internal/rpcclient"
	"rpchost/internal/rpcconfig"
	"rpchost/internal/rpcerr"
	"rpchost/internal/rpclog"
	"rpchost/internal/rpcmeta"
	"rpchost/internal/rpcratelimit"
	"rpchost/internal/rpctelemetry"
	"rpchost/internal/rpctrace"
	"rpchost/pkg/rpcapi"
)

// Server hosts any number of ServiceDescriptors behind one gRPC listener.
type Server struct {
	mu       sync.RWMutex
	services map[string]ServiceDescriptor

	grpcServer *grpc.Server
	listener   net.Listener

	calls  *callRegistry
	proxy  *proxyTable
	config *rpcconfig.Engine
	logger *slog.Logger

	host string
	port int32

	metrics *metrics
	limiter rpcratelimit.Limiter

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker[any]
}

// Options configures a new Server.
type Options struct {
	Config             *rpcconfig.Engine
	WorkspacePath      string
	Logger             *slog.Logger
	UnaryInterceptors  []grpc.UnaryServerInterceptor
	StreamInterceptors []grpc.StreamServerInterceptor

	// Limiter, when set, is consulted before every unary dispatch; a call
	// that isn't allowed is rejected as ERROR_RPC without reaching the
	// service handler. Optional - nil disables limiting.
	Limiter rpcratelimit.Limiter

	// Tracing enables the OpenTelemetry span-per-call interceptors. The
	// caller is responsible for calling rpctelemetry.Init beforehand.
	Tracing bool
}

// New builds a Server. Call Register for every service (built-in and
// user-provided) before Serve.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = rpclog.Named("rpcserver")
	}

	s := &Server{
		services: map[string]ServiceDescriptor{},
		calls:    newCallRegistry(),
		proxy:    newProxyTable(opts.WorkspacePath),
		config:   opts.Config,
		logger:   logger,
		metrics:  newMetrics(),
		limiter:  opts.Limiter,
		breakers: map[string]*gobreaker.CircuitBreaker[any]{},
	}

	unary := []grpc.UnaryServerInterceptor{s.unaryRecovery}
	stream := []grpc.StreamServerInterceptor{s.streamRecovery}
	if opts.Tracing {
		unary = append(unary, rpctelemetry.UnaryServerInterceptor())
		stream = append(stream, rpctelemetry.StreamServerInterceptor())
	}
	unary = append(unary, opts.UnaryInterceptors...)
	stream = append(stream, opts.StreamInterceptors...)

	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(rpcapi.Codec),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)

	return s
}

// Register adds a service descriptor and wires its real grpc.ServiceDesc
// onto the underlying grpc.Server. Must be called before Serve.
func (s *Server) Register(desc ServiceDescriptor) error {
	s.mu.Lock()
	if _, exists := s.services[desc.Name]; exists {
		s.mu.Unlock()
		return rpcerr.Newf(rpcapi.ErrorModelInvalid, "service %q already registered", desc.Name)
	}
	s.services[desc.Name] = desc
	s.mu.Unlock()

	s.grpcServer.RegisterService(s.buildServiceDesc(desc), nil)
	return nil
}

// buildServiceDesc turns an explicit ServiceDescriptor into a real
// grpc.ServiceDesc, dispatching every method through dispatchUnary or
// dispatchStream. No reflection is involved: each MethodDescriptor supplies
// its own NewRequest factory and handler.
func (s *Server) buildServiceDesc(desc ServiceDescriptor) *grpc.ServiceDesc {
	gd := &grpc.ServiceDesc{
		ServiceName: desc.Name,
		HandlerType: (*any)(nil),
	}
	for _, m := range desc.Methods {
		m := m
		switch m.Kind {
		case Unary:
			gd.Methods = append(gd.Methods, grpc.MethodDesc{
				MethodName: m.Name,
				Handler:    s.unaryMethodHandler(desc, m),
			})
		default:
			gd.Streams = append(gd.Streams, grpc.StreamDesc{
				StreamName:    m.Name,
				Handler:       s.streamMethodHandler(desc, m),
				ServerStreams: m.Kind == ServerStreaming || m.Kind == BidiStreaming,
				ClientStreams: m.Kind == ClientStreaming || m.Kind == BidiStreaming,
			})
		}
	}
	return gd
}

func (s *Server) unaryMethodHandler(desc ServiceDescriptor, m MethodDescriptor) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := m.NewRequest()
		if err := dec(req); err != nil {
			return nil, err
		}

		handler := func(ctx context.Context, req any) (any, error) {
			return s.dispatchUnary(ctx, desc, m, req)
		}
		if interceptor == nil {
			return handler(ctx, req)
		}
		info := &grpc.UnaryServerInfo{FullMethod: fmt.Sprintf("/%s/%s", desc.Name, m.Name)}
		return interceptor(ctx, req, info, handler)
	}
}

func (s *Server) streamMethodHandler(desc ServiceDescriptor, m MethodDescriptor) func(srv any, stream grpc.ServerStream) error {
	return func(_ any, stream grpc.ServerStream) error {
		meta := rpcmeta.FromContext(stream.Context())
		return s.dispatchStream(stream.Context(), desc, m, meta, stream)
	}
}

// dispatchUnary is the equivalent of the original RpcMethod wrapper: it
// checks API version bounds, forwards to a delegated proxy peer if one is
// registered, and otherwise calls the real handler, tracking the call in the
// in-flight registry throughout.
func (s *Server) dispatchUnary(ctx context.Context, desc ServiceDescriptor, m MethodDescriptor, req any) (any, error) {
	meta := rpcmeta.FromContext(ctx)
	fullMethod := desc.Name + "." + m.Name

	s.logger.Debug(rpctrace.Call(false, meta.Host, fullMethod, req))
	s.metrics.callStarted(desc.Name, m.Name)
	defer s.metrics.callFinished(desc.Name, m.Name)

	if err := s.checkAPIVersion(desc, meta); err != nil {
		return nil, rpcerr.ToGRPC(err)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, fullMethod)
		if err != nil {
			s.logger.Warn("rate limiter error, allowing call", "method", fullMethod, "error", err)
		} else if !allowed {
			return nil, rpcerr.ToGRPC(rpcerr.Newf(rpcapi.ErrorRPC, "rate limit exceeded for %s", fullMethod))
		}
	}

	id := s.calls.begin(desc.Name, m.Name, meta)
	defer s.calls.end(id)

	if ps := s.proxy.get(desc.Name); ps.active() {
		return s.delegateUnary(ctx, desc, m, ps, req)
	}

	resp, err := m.Unary(ctx, meta, req)
	if err != nil {
		return nil, rpcerr.ToGRPC(err)
	}
	return resp, nil
}

func (s *Server) dispatchStream(ctx context.Context, desc ServiceDescriptor, m MethodDescriptor, meta rpcmeta.Metadata, stream grpc.ServerStream) error {
	fullMethod := desc.Name + "." + m.Name
	s.logger.Debug(rpctrace.Call(false, meta.Host, fullMethod, "<stream>"))

	if err := s.checkAPIVersion(desc, meta); err != nil {
		return rpcerr.ToGRPC(err)
	}

	id := s.calls.begin(desc.Name, m.Name, meta)
	defer s.calls.end(id)

	return m.Stream(ctx, meta, stream)
}

// checkAPIVersion enforces desc.[SupportVersion, CurrentVersion] against the
// api_version metadata the caller sent, matching the original's
// too-old-client / too-old-server symmetric check. A caller that sends no
// api_version is always accepted (version negotiation is opt-in).
func (s *Server) checkAPIVersion(desc ServiceDescriptor, meta rpcmeta.Metadata) error {
	if meta.APIVersion == 0 {
		return nil
	}
	if meta.APIVersion > desc.CurrentVersion {
		return rpcerr.Newf(rpcapi.ErrorAPIServerTooOld,
			"server supports %s up to version %d, client requested %d", desc.Name, desc.CurrentVersion, meta.APIVersion)
	}
	if meta.APIVersion < desc.SupportVersion {
		return rpcerr.Newf(rpcapi.ErrorAPIClientTooOld,
			"server requires %s version >= %d, client is at %d", desc.Name, desc.SupportVersion, meta.APIVersion)
	}
	return nil
}

// delegateUnary forwards a call to the registered proxy peer. While ps has no
// port it polls the proxy table every proxyPollInterval, up to
// rpc-client-timeout, and fails ERROR_PROXY_UNREGISTERED if no registration
// appears; dispatchUnary only calls it for an already-registered peer, and
// serves a service with no registration locally instead of waiting. The dial
// and call both run behind a per-service circuit breaker, so a peer that
// keeps failing stops being dialed for a cool-down period instead of piling
// up slow timeouts on every caller.
func (s *Server) delegateUnary(ctx context.Context, desc ServiceDescriptor, m MethodDescriptor, ps proxyState, req any) (any, error) {
	timeout := s.clientTimeout()
	deadline := time.Now().Add(timeout)
	for !ps.active() {
		if time.Now().After(deadline) {
			return nil, rpcerr.ToGRPC(rpcerr.New(rpcapi.ErrorProxyUnregistered, "proxy for "+desc.Name+" did not come online"))
		}
		time.Sleep(proxyPollInterval)
		ps = s.proxy.get(desc.Name)
	}

	resp, err := s.breakerFor(desc.Name).Execute(func() (any, error) {
		client, err := rpcclient.Dial(ps.Host, int(ps.Port), rpcclient.WithName(fmt.Sprintf("%s(proxied)", desc.Name)), rpcclient.WithTimeout(timeout), rpcclient.WithRaiseOnNonOK(false), rpcclient.WithAPIVersion(ps.Version))
		if err != nil {
			return nil, err
		}
		defer client.Close()

		// The peer's response is kept as raw JSON and sent back unchanged, so
		// it does not depend on the method's response type.
		resp := new(json.RawMessage)
		fullMethod := fmt.Sprintf("/%s/%s", desc.Name, m.Name)
		if err := client.Call(ctx, fullMethod, req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, rpcerr.ToGRPC(rpcerr.Wrap(err, rpcapi.ErrorRPC, "proxied call to "+desc.Name))
	}
	return resp, nil
}

// breakerFor lazily creates the circuit breaker guarding calls proxied to
// name, tripping open after 5 consecutive failures and probing again after
// a 30s cool-down.
func (s *Server) breakerFor(name string) *gobreaker.CircuitBreaker[any] {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "proxy:" + name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			s.logger.Warn("proxy circuit breaker changed state", "service", name, "from", from, "to", to)
		},
	})
	s.breakers[name] = b
	return b
}

func (s *Server) clientTimeout() time.Duration {
	if s.config == nil {
		return 60 * time.Second
	}
	item, err := s.config.Get("rpc-client-timeout")
	if err != nil {
		return 60 * time.Second
	}
	var secs float64
	_, scanErr := fmt.Sscanf(item.Value, "%g", &secs)
	if scanErr != nil || secs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(secs * float64(time.Second))
}

// Serve loads persisted proxy registrations and starts accepting connections
// on host:port. Once the listener is up it dials an internal client at its
// own address and runs every registered service's Load hook (skipping
// services currently delegated to a proxy peer). It blocks until the
// listener stops (normally via Stop).
func (s *Server) Serve(host string, port int32) error {
	if err := s.proxy.load(); err != nil {
		return err
	}
	s.host, s.port = host, port

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorPortBusy, fmt.Sprintf("binding %s:%d", host, port))
	}
	s.listener = lis

	s.logger.Info("serving", "host", host, "port", port)

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.grpcServer.Serve(lis) }()

	go s.runLoadHooks(host, port)

	return <-serveErr
}

// runLoadHooks builds the auto-client and invokes every non-proxied
// service's Load hook once. grpc.NewClient dials lazily, and Call's
// retry-on-UNAVAILABLE loop covers the brief window between accepting this
// goroutine and the listener actually being ready to serve.
func (s *Server) runLoadHooks(host string, port int32) {
	descs := s.AllDescriptors()
	var loaders []ServiceDescriptor
	for _, d := range descs {
		if d.Load != nil {
			loaders = append(loaders, d)
		}
	}
	if len(loaders) == 0 {
		return
	}

	dialHost := host
	if dialHost == "" || dialHost == "0.0.0.0" {
		dialHost = "127.0.0.1"
	}
	client, err := rpcclient.Dial(dialHost, int(port), rpcclient.WithName("auto-client"), rpcclient.WithTimeout(s.clientTimeout()))
	if err != nil {
		s.logger.Error("failed to build auto-client for load hooks", "error", err)
		return
	}
	defer client.Close()

	for _, d := range loaders {
		if ps := s.proxy.get(d.Name); ps.active() {
			continue
		}
		if err := d.Load(context.Background(), client); err != nil {
			s.logger.Error("service load hook failed", "service", d.Name, "error", err)
		}
	}
}

// GracefulStop stops accepting new calls and waits for in-flight ones to
// finish.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Stop forcibly terminates the transport.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// Descriptor returns the registered descriptor for name, if any.
func (s *Server) Descriptor(name string) (ServiceDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.services[name]
	return d, ok
}

// AllDescriptors returns every registered service descriptor.
func (s *Server) AllDescriptors() []ServiceDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ServiceDescriptor, 0, len(s.services))
	for _, d := range s.services {
		out = append(out, d)
	}
	return out
}

// ProxyRegister delegates every name in names to host:port at the given API
// version, atomically: either all names are accepted and persisted, or none
// of them are touched.
func (s *Server) ProxyRegister(names []string, host string, port, version int32) error {
	if len(names) == 0 {
		return rpcerr.New(rpcapi.ErrorParamMissing, "proxy_register requires at least one service name")
	}
	if port == 0 || version == 0 {
		return rpcerr.New(rpcapi.ErrorParamMissing, "proxy_register requires both port and version")
	}
	for _, name := range names {
		if name == "" {
			return rpcerr.New(rpcapi.ErrorParamMissing, "proxy_register received an empty service name")
		}
		desc, ok := s.Descriptor(name)
		if !ok {
			return rpcerr.Newf(rpcapi.ErrorItemUnknown, "unknown service %q", name)
		}
		if !desc.ProxyAllowed {
			return rpcerr.Newf(rpcapi.ErrorParamInvalid, "service %q cannot be proxied", name)
		}
	}
	for _, name := range names {
		s.proxy.set(name, proxyState{Host: host, Port: port, Version: version})
	}
	return s.proxy.persist()
}

// ProxyForget clears any delegation for every name in names, atomically, so
// they are served locally again.
func (s *Server) ProxyForget(names []string) error {
	if len(names) == 0 {
		return rpcerr.New(rpcapi.ErrorParamMissing, "proxy_forget requires at least one service name")
	}
	for _, name := range names {
		if name == "" {
			return rpcerr.New(rpcapi.ErrorParamMissing, "proxy_forget received an empty service name")
		}
		if _, ok := s.Descriptor(name); !ok {
			return rpcerr.Newf(rpcapi.ErrorItemUnknown, "unknown service %q", name)
		}
	}
	for _, name := range names {
		s.proxy.forget(name)
	}
	return s.proxy.persist()
}

// Calls returns a snapshot of every in-flight call, for the debug dump.
func (s *Server) Calls() []inFlightCall {
	return s.calls.snapshot()
}
