package rpcserver

import (
	"context"
	"log/slog"
	"time"

	"rpchost/internal/rpcconfig"
	"rpchost/internal/rpcerr"
	"rpchost/internal/rpclog"
	"rpchost/internal/rpcmeta"
	"rpchost/pkg/rpcapi"
)

const defaultLevel = slog.LevelInfo

func levelToWire(l slog.Level) rpcapi.LoggerLevel {
	switch {
	case l <= slog.LevelDebug:
		return rpcapi.LevelDebug
	case l <= slog.LevelInfo:
		return rpcapi.LevelInfo
	case l <= slog.LevelWarn:
		return rpcapi.LevelWarn
	default:
		return rpcapi.LevelError
	}
}

func levelFromWire(l rpcapi.LoggerLevel) slog.Level {
	switch l {
	case rpcapi.LevelDebug:
		return slog.LevelDebug
	case rpcapi.LevelWarn:
		return slog.LevelWarn
	case rpcapi.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ShutdownTrigger is the narrow slice of internal/rpcshutdown.Coordinator the
// srv built-in service needs: asking it to begin the shutdown sequence
// without rpcserver importing rpcshutdown (which itself holds a Server as
// its transport to stop).
type ShutdownTrigger interface {
	Trigger(delay time.Duration)
}

// NewSrvDescriptor builds the framework's control-plane service: info,
// proxy_register, proxy_forget and shutdown. It is never itself proxyable.
func NewSrvDescriptor(s *Server, trigger ShutdownTrigger) ServiceDescriptor {
	return ServiceDescriptor{
		Name:           "srv",
		CurrentVersion: 1,
		SupportVersion: 1,
		ProxyAllowed:   false,
		Methods: []MethodDescriptor{
			{
				Name:       "info",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.Filter{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					r := req.(*rpcapi.Filter)
					descs := s.AllDescriptors()
					if len(r.Names) > 0 {
						for _, name := range r.Names {
							if !hasDescriptor(descs, name) && !r.IgnoreUnknown {
								return &rpcapi.MultiServiceInfo{R: errResult(rpcerr.Newf(rpcapi.ErrorItemUnknown, "unknown service %q", name))}, nil
							}
						}
					}
					out := make([]rpcapi.ServiceInfo, 0, len(descs))
					for _, d := range descs {
						if len(r.Names) > 0 && !containsName(r.Names, d.Name) {
							continue
						}
						ps := s.proxy.get(d.Name)
						out = append(out, rpcapi.ServiceInfo{
							Name:           d.Name,
							CurrentVersion: d.CurrentVersion,
							SupportVersion: d.SupportVersion,
							ProxyHost:      ps.Host,
							ProxyPort:      ps.Port,
							ProxyVersion:   ps.Version,
							R:              rpcapi.OKResult(),
						})
					}
					return &rpcapi.MultiServiceInfo{Services: out, R: rpcapi.OKResult()}, nil
				},
			},
			{
				Name:       "proxy_register",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.ProxyRegisterRequest{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					r := req.(*rpcapi.ProxyRegisterRequest)
					if err := s.ProxyRegister(r.Names, r.Host, r.Port, r.Version); err != nil {
						return &rpcapi.Empty{R: errResult(err)}, nil
					}
					return &rpcapi.Empty{R: rpcapi.OKResult()}, nil
				},
			},
			{
				Name:       "proxy_forget",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.Filter{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					r := req.(*rpcapi.Filter)
					if err := s.ProxyForget(r.Names); err != nil {
						return &rpcapi.Empty{R: errResult(err)}, nil
					}
					return &rpcapi.Empty{R: rpcapi.OKResult()}, nil
				},
			},
			{
				Name:       "shutdown",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.ShutdownRequest{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					r := req.(*rpcapi.ShutdownRequest)
					trigger.Trigger(time.Duration(r.Delay * float64(time.Second)))
					return &rpcapi.Empty{R: rpcapi.OKResult()}, nil
				},
			},
		},
	}
}

// NewConfigDescriptor builds the framework's config service on top of a
// rpcconfig.Engine. get/set/reset fan out across every distinct proxied peer
// registered on s and merge the results by item name, so a host fronting
// several proxied services exposes one consistent config surface.
func NewConfigDescriptor(s *Server, e *rpcconfig.Engine) ServiceDescriptor {
	return ServiceDescriptor{
		Name:           "config",
		CurrentVersion: 1,
		SupportVersion: 1,
		ProxyAllowed:   true,
		Methods: []MethodDescriptor{
			{
				Name:       "get",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.Filter{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					r := req.(*rpcapi.Filter)
					items, err := e.GetAll(r.Names, r.IgnoreUnknown)
					if err != nil {
						return &rpcapi.ConfigStatus{R: errResult(err)}, nil
					}
					merged, err := s.mergedConfigGet(ctx, items, r.Names, r.IgnoreUnknown)
					if err != nil {
						return &rpcapi.ConfigStatus{R: errResult(err)}, nil
					}
					return &rpcapi.ConfigStatus{Items: merged, R: rpcapi.OKResult()}, nil
				},
			},
			{
				Name:       "set",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.ConfigItemUpdate{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					r := req.(*rpcapi.ConfigItemUpdate)
					var err error
					if r.Reset {
						err = e.Reset(r.Name)
					} else {
						err = e.Set(r.Name, r.Value)
					}
					if err != nil {
						return &rpcapi.Empty{R: errResult(err)}, nil
					}
					if err := s.propagateConfigUpdate(ctx, r); err != nil {
						return &rpcapi.Empty{R: errResult(err)}, nil
					}
					return &rpcapi.Empty{R: rpcapi.OKResult()}, nil
				},
			},
			{
				Name:       "reset",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.Filter{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					r := req.(*rpcapi.Filter)
					if err := e.ResetAll(r.Names, r.IgnoreUnknown); err != nil {
						return &rpcapi.Empty{R: errResult(err)}, nil
					}
					if err := s.propagateConfigReset(ctx, r); err != nil {
						return &rpcapi.Empty{R: errResult(err)}, nil
					}
					return &rpcapi.Empty{R: rpcapi.OKResult()}, nil
				},
			},
		},
	}
}

// NewLogDescriptor builds the framework's logger-level service on top of
// internal/rpclog's named-logger registry.
func NewLogDescriptor() ServiceDescriptor {
	return ServiceDescriptor{
		Name:           "log",
		CurrentVersion: 1,
		SupportVersion: 1,
		ProxyAllowed:   true,
		Methods: []MethodDescriptor{
			{
				Name:       "get",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.Empty{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					names := rpclog.KnownLoggers()
					out := make([]rpcapi.LoggerConfig, 0, len(names))
					for _, n := range names {
						out = append(out, rpcapi.LoggerConfig{Name: n, Level: levelToWire(rpclog.Level(n))})
					}
					return &rpcapi.LoggerStatus{Loggers: out, R: rpcapi.OKResult()}, nil
				},
			},
			{
				Name:       "set",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.LoggerUpdate{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					r := req.(*rpcapi.LoggerUpdate)
					if r.Reset {
						rpclog.SetLevel(r.Name, defaultLevel)
					} else {
						rpclog.SetLevel(r.Name, levelFromWire(r.Level))
					}
					return &rpcapi.Empty{R: rpcapi.OKResult()}, nil
				},
			},
		},
	}
}

func errResult(err error) rpcapi.Result {
	return rpcerr.Result(err)
}

func hasDescriptor(descs []ServiceDescriptor, name string) bool {
	for _, d := range descs {
		if d.Name == name {
			return true
		}
	}
	return false
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
