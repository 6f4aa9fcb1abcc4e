package rpcserver

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpchost/internal/rpcclient"
	"rpchost/internal/rpcmeta"
	"rpchost/pkg/rpcapi"
)

func echoDescriptor(current, support int32, proxyAllowed bool) ServiceDescriptor {
	return ServiceDescriptor{
		Name:           "echo",
		CurrentVersion: current,
		SupportVersion: support,
		ProxyAllowed:   proxyAllowed,
		Methods: []MethodDescriptor{
			{
				Name:       "say",
				Kind:       Unary,
				NewRequest: func() any { return &rpcapi.Filter{} },
				Unary: func(ctx context.Context, meta rpcmeta.Metadata, req any) (any, error) {
					r := req.(*rpcapi.Filter)
					return &rpcapi.Filter{Names: []string{"echo:" + r.Names[0]}, R: rpcapi.OKResult()}, nil
				},
			},
		},
	}
}

func startServer(t *testing.T, descs ...ServiceDescriptor) (*Server, string) {
	t.Helper()
	s := New(Options{})
	for _, d := range descs {
		require.NoError(t, s.Register(d))
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = lis

	go func() { _ = s.grpcServer.Serve(lis) }()
	t.Cleanup(s.grpcServer.Stop)

	return s, lis.Addr().String()
}

func dial(t *testing.T, addr string, opts ...rpcclient.Option) *rpcclient.Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	c, err := rpcclient.Dial(host, port, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRegisterDuplicateServiceFails(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Register(echoDescriptor(1, 1, false)))
	assert.Error(t, s.Register(echoDescriptor(1, 1, false)))
}

func TestDispatchUnaryHappyPath(t *testing.T) {
	_, addr := startServer(t, echoDescriptor(1, 1, false))
	c := dial(t, addr, rpcclient.WithTimeout(2*time.Second))

	req := &rpcapi.Filter{Names: []string{"hi"}}
	resp := &rpcapi.Filter{}
	require.NoError(t, c.Call(context.Background(), "/echo/say", req, resp))
	assert.Equal(t, []string{"echo:hi"}, resp.Names)
}

func TestDispatchRejectsTooOldClient(t *testing.T) {
	_, addr := startServer(t, echoDescriptor(5, 3, false))
	c := dial(t, addr, rpcclient.WithTimeout(2*time.Second), rpcclient.WithAPIVersion(1))

	req := &rpcapi.Filter{Names: []string{"hi"}}
	resp := &rpcapi.Filter{}
	err := c.Call(context.Background(), "/echo/say", req, resp)
	require.Error(t, err)
}

func TestDispatchRejectsTooOldServer(t *testing.T) {
	_, addr := startServer(t, echoDescriptor(2, 1, false))
	c := dial(t, addr, rpcclient.WithTimeout(2*time.Second), rpcclient.WithAPIVersion(9))

	req := &rpcapi.Filter{Names: []string{"hi"}}
	resp := &rpcapi.Filter{}
	err := c.Call(context.Background(), "/echo/say", req, resp)
	require.Error(t, err)
}

func TestDispatchAcceptsVersionWithinBounds(t *testing.T) {
	_, addr := startServer(t, echoDescriptor(5, 1, false))
	c := dial(t, addr, rpcclient.WithTimeout(2*time.Second), rpcclient.WithAPIVersion(3))

	req := &rpcapi.Filter{Names: []string{"hi"}}
	resp := &rpcapi.Filter{}
	require.NoError(t, c.Call(context.Background(), "/echo/say", req, resp))
}

func TestProxyRegisterForgetRoundTrip(t *testing.T) {
	s, _ := startServer(t, echoDescriptor(1, 1, true))

	require.NoError(t, s.ProxyRegister([]string{"echo"}, "127.0.0.1", 9999, 1))
	ps := s.proxy.get("echo")
	assert.True(t, ps.active())

	require.NoError(t, s.ProxyForget([]string{"echo"}))
	ps = s.proxy.get("echo")
	assert.False(t, ps.active())
}

func TestProxyRegisterRejectsNonProxyableService(t *testing.T) {
	s, _ := startServer(t, echoDescriptor(1, 1, false))
	assert.Error(t, s.ProxyRegister([]string{"echo"}, "127.0.0.1", 9999, 1))
}

func TestSrvInfoListsRegisteredServices(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Register(echoDescriptor(1, 1, true)))
	require.NoError(t, s.Register(NewSrvDescriptor(s, noopTrigger{})))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = lis
	go func() { _ = s.grpcServer.Serve(lis) }()
	t.Cleanup(s.grpcServer.Stop)

	c := dial(t, lis.Addr().String(), rpcclient.WithTimeout(2*time.Second))
	req := &rpcapi.Filter{}
	resp := &rpcapi.MultiServiceInfo{}
	require.NoError(t, c.Call(context.Background(), "/srv/info", req, resp))
	names := make([]string, 0, len(resp.Services))
	for _, svc := range resp.Services {
		names = append(names, svc.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "srv"}, names)
}

func TestSrvInfoFiltersByName(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Register(echoDescriptor(1, 1, true)))
	require.NoError(t, s.Register(NewSrvDescriptor(s, noopTrigger{})))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = lis
	go func() { _ = s.grpcServer.Serve(lis) }()
	t.Cleanup(s.grpcServer.Stop)

	c := dial(t, lis.Addr().String(), rpcclient.WithTimeout(2*time.Second))
	req := &rpcapi.Filter{Names: []string{"echo"}}
	resp := &rpcapi.MultiServiceInfo{}
	require.NoError(t, c.Call(context.Background(), "/srv/info", req, resp))
	require.Len(t, resp.Services, 1)
	assert.Equal(t, "echo", resp.Services[0].Name)
}

type noopTrigger struct{}

func (noopTrigger) Trigger(time.Duration) {}
