// Package rpccli is the small flag-based bootstrap helper a rpchost binary
// uses to turn argv into a Folders record and a set of CLI configuration
// overrides, mirroring RpcCliParser.with_rpc_args. It intentionally stays on
// the standard flag package: the argument parser itself is an external
// surface a host's main() wires up once, not a piece of the core framework
// that warrants a third-party CLI library.
package rpccli

import (
	"flag"
	"fmt"
	"strings"

	"rpchost/internal/rpcfolders"
)

// Args is the result of parsing a rpchost binary's command line.
type Args struct {
	Folders         *rpcfolders.Folders
	Host            string
	Port            int
	Config          map[string]string
	TracingEndpoint string
	RateLimit       float64
}

// Parse parses argv (typically os.Args[1:]) into Args. Repeated -c name=value
// flags accumulate into Config; a malformed one (missing '=') is an error.
func Parse(name string, argv []string) (*Args, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	system := fs.String("system-folder", "", "read-only system configuration folder")
	user := fs.String("user-folder", "", "per-user configuration folder")
	workspace := fs.String("workspace-folder", "", "runtime state folder (config, proxy, event queues)")
	host := fs.String("host", "", "address to bind the RPC listener to (empty = use rpc-main-host)")
	port := fs.Int("port", 0, "port to bind the RPC listener to (0 = use rpc-main-port)")
	tracingEndpoint := fs.String("tracing-endpoint", "", "OTLP/gRPC collector endpoint (empty disables tracing)")
	rateLimit := fs.Float64("rate-limit", 0, "requests/sec allowed per method (0 disables limiting)")

	var overrides stringMapFlag
	fs.Var(&overrides, "c", "config override as name=value, may be repeated")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	return &Args{
		Folders:         rpcfolders.New(*system, *user, *workspace),
		Host:            *host,
		Port:            *port,
		Config:          map[string](string)(overrides),
		TracingEndpoint: *tracingEndpoint,
		RateLimit:       *rateLimit,
	}, nil
}

// stringMapFlag implements flag.Value so -c can be repeated on the command
// line, each occurrence adding one name=value pair.
type stringMapFlag map[string]string

func (m *stringMapFlag) String() string {
	if m == nil || *m == nil {
		return ""
	}
	parts := make([]string, 0, len(*m))
	for k, v := range *m {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (m *stringMapFlag) Set(raw string) error {
	name, value, ok := strings.Cut(raw, "=")
	if !ok {
		return fmt.Errorf("invalid config override %q, expected name=value", raw)
	}
	if *m == nil {
		*m = map[string]string{}
	}
	(*m)[name] = value
	return nil
}
