package rpcserver

import (
	"context"
	"strconv"
	"sync"

	"rpchost/internal/rpcclient"
	"rpchost/internal/rpcconfig"
	"rpchost/internal/rpcerr"
	"rpchost/pkg/rpcapi"
)

// ProxiedManager declares one or more locally-hosted services as the real
// implementation behind a proxy registration on a central rpc-main-host, and
// withdraws that declaration on shutdown. Wire Load into a ServiceDescriptor
// that hosts one of Names and Shutdown into the shutdown coordinator; it is
// not itself a ServiceDescriptor.
type ProxiedManager struct {
	Names   []string
	Host    string
	Port    int32
	Version int32

	mainHost string
	mainPort int32

	mu     sync.Mutex
	client *rpcclient.Client
}

// NewProxiedManager reads rpc-main-host/rpc-main-port from e (falling back to
// localhost:54321 if e is nil or the items are unset).
func NewProxiedManager(e *rpcconfig.Engine, names []string, host string, port, version int32) *ProxiedManager {
	mainHost, mainPort := "localhost", int32(54321)
	if e != nil {
		if it, err := e.Get("rpc-main-host"); err == nil && it.Value != "" {
			mainHost = it.Value
		}
		if it, err := e.Get("rpc-main-port"); err == nil {
			if p, convErr := strconv.Atoi(it.Value); convErr == nil && p > 0 {
				mainPort = int32(p)
			}
		}
	}
	return &ProxiedManager{
		Names:    names,
		Host:     host,
		Port:     port,
		Version:  version,
		mainHost: mainHost,
		mainPort: mainPort,
	}
}

// Load dials rpc-main-host and registers Names as delegated to Host:Port.
// The auto-client argument is ignored: ProxiedManager talks to the main
// host, not to the server it is itself loading for.
func (p *ProxiedManager) Load(ctx context.Context, _ *rpcclient.Client) error {
	client, err := rpcclient.Dial(p.mainHost, int(p.mainPort), rpcclient.WithName("proxied-manager"))
	if err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorRPC, "dialing rpc-main-host to register proxy")
	}
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	req := &rpcapi.ProxyRegisterRequest{Names: p.Names, Host: p.Host, Port: p.Port, Version: p.Version}
	resp := &rpcapi.Empty{}
	if err := client.Call(ctx, "/srv/proxy_register", req, resp); err != nil {
		return err
	}
	if !resp.R.IsOK() {
		return rpcerr.FromResult(resp.R)
	}
	return nil
}

// Shutdown withdraws the registration made by Load, if any.
func (p *ProxiedManager) Shutdown() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client == nil {
		return
	}
	defer client.Close()

	req := &rpcapi.Filter{Names: p.Names}
	resp := &rpcapi.Empty{}
	_ = client.Call(context.Background(), "/srv/proxy_forget", req, resp)
}
