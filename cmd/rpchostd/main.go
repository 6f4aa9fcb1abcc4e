// Command rpchostd is a runnable rpchost: it wires the configuration
// engine, the built-in srv/config/log/events services, the shutdown
// coordinator and the debug dump signal handler into one process. A real
// deployment embeds the same pieces (internal/rpcconfig, internal/rpcserver,
// internal/rpcshutdown, internal/rpcevents) behind its own domain services
// instead of running this binary directly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rpchost/internal/rpccli"
	"rpchost/internal/rpcconfig"
	"rpchost/internal/rpcevents"
	"rpchost/internal/rpclog"
	"rpchost/internal/rpcratelimit"
	"rpchost/internal/rpcserver"
	"rpchost/internal/rpcshutdown"
	"rpchost/internal/rpctelemetry"
)

func main() {
	args, err := rpccli.Parse("rpchostd", os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	rpclog.Init("info")
	logger := rpclog.Named("rpchostd")

	engine := rpcconfig.NewEngine()
	rpcconfig.RegisterFrameworkDefaults(engine)

	workspace, err := args.Folders.Workspace()
	if err != nil {
		logger.Error("resolving workspace folder", "error", err)
		os.Exit(1)
	}

	if err := engine.Load(workspace, rpcconfig.Sources{
		SystemPath: systemConfigPath(args),
		UserPath:   userConfigPath(args),
		EnvPrefix:  "RPCHOST_",
		CLI:        args.Config,
	}); err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	host, port := resolveListenAddress(engine, args)

	ctx := context.Background()
	tracing := args.TracingEndpoint != ""
	telemetryProvider, err := rpctelemetry.Init(ctx, rpctelemetry.Config{
		Enabled:     tracing,
		Endpoint:    args.TracingEndpoint,
		ServiceName: "rpchostd",
		SampleRate:  1.0,
	})
	if err != nil {
		logger.Warn("failed to init telemetry, continuing without it", "error", err)
		tracing = false
	} else {
		defer func() {
			if err := telemetryProvider.Shutdown(context.Background()); err != nil {
				logger.Warn("failed to shut down telemetry", "error", err)
			}
		}()
	}

	var limiter rpcratelimit.Limiter
	if args.RateLimit > 0 {
		limiter = rpcratelimit.NewLocalLimiter(rpcratelimit.LocalConfig{RequestsPerSecond: args.RateLimit, Burst: int(args.RateLimit)})
	}

	srv := rpcserver.New(rpcserver.Options{
		Config:        engine,
		WorkspacePath: workspace,
		Logger:        rpclog.Named("rpcserver"),
		Limiter:       limiter,
		Tracing:       tracing,
	})

	events := rpcevents.NewManager(
		rpcevents.WithWorkspace(workspace),
		rpcevents.WithLogger(rpclog.Named("events")),
		rpcevents.WithRetainTimeout(eventRetainTimeout(engine)),
		rpcevents.WithKeepAlive(eventKeepAliveTimeout(engine)),
	)
	events.Start()

	coordinator := rpcshutdown.New(srv, gracePeriod(engine), shutdownTimeout(engine), rpclog.Named("rpcshutdown"))
	coordinator.AddShutdownHook("events", events.Shutdown)

	if err := srv.Register(rpcserver.NewSrvDescriptor(srv, coordinator)); err != nil {
		logger.Error("registering srv service", "error", err)
		os.Exit(1)
	}
	if err := srv.Register(rpcserver.NewConfigDescriptor(srv, engine)); err != nil {
		logger.Error("registering config service", "error", err)
		os.Exit(1)
	}
	if err := srv.Register(rpcserver.NewLogDescriptor()); err != nil {
		logger.Error("registering log service", "error", err)
		os.Exit(1)
	}
	if err := srv.Register(rpcevents.NewDescriptor(events)); err != nil {
		logger.Error("registering events service", "error", err)
		os.Exit(1)
	}

	stopDump := srv.WatchDebugDump(workspace)
	defer stopDump()

	go serveMetrics(logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("received shutdown signal")
		coordinator.Trigger(0)
	}()

	logger.Info("rpchostd starting", "host", host, "port", port)
	if err := srv.Serve(host, port); err != nil {
		logger.Error("server stopped", "error", err)
	}

	<-coordinator.Done()
}

func resolveListenAddress(engine *rpcconfig.Engine, args *rpccli.Args) (string, int32) {
	host := args.Host
	if host == "" {
		if item, err := engine.Get("rpc-main-host"); err == nil {
			host = item.Value
		}
	}
	if host == "" {
		host = "localhost"
	}

	port := args.Port
	if port == 0 {
		if item, err := engine.Get("rpc-main-port"); err == nil {
			if p, convErr := parsePositiveInt(item.Value); convErr == nil {
				port = p
			}
		}
	}
	return host, int32(port)
}

func systemConfigPath(args *rpccli.Args) string {
	if args.Folders.System == "" {
		return ""
	}
	return args.Folders.System + "/config.yaml"
}

func userConfigPath(args *rpccli.Args) string {
	userDir, err := args.Folders.User()
	if err != nil || userDir == "" {
		return ""
	}
	return userDir + "/config.yaml"
}

func gracePeriod(engine *rpcconfig.Engine) time.Duration {
	return configSeconds(engine, "rpc-shutdown-grace", 30*time.Second)
}

func shutdownTimeout(engine *rpcconfig.Engine) time.Duration {
	return configSeconds(engine, "rpc-shutdown-timeout", 60*time.Second)
}

func eventRetainTimeout(engine *rpcconfig.Engine) time.Duration {
	return configSeconds(engine, "event-retain-timeout", 5*time.Minute)
}

func eventKeepAliveTimeout(engine *rpcconfig.Engine) time.Duration {
	return configSeconds(engine, "event-keepalive-timeout", 30*time.Second)
}

func configSeconds(engine *rpcconfig.Engine, name string, fallback time.Duration) time.Duration {
	item, err := engine.Get(name)
	if err != nil {
		return fallback
	}
	secs, err := parsePositiveInt(item.Value)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

func serveMetrics(logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", "addr", ":9100")
	if err := http.ListenAndServe(":9100", mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

