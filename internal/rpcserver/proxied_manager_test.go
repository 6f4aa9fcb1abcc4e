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
	"rpchost/internal/rpcconfig"
)

func TestProxiedManagerLoadAndShutdownRoundTrip(t *testing.T) {
	main := New(Options{})
	require.NoError(t, main.Register(echoDescriptor(1, 1, true)))
	require.NoError(t, main.Register(NewSrvDescriptor(main, noopTrigger{})))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	main.listener = lis
	go func() { _ = main.grpcServer.Serve(lis) }()
	t.Cleanup(main.grpcServer.Stop)

	host, portStr, err := net.SplitHostPort(lis.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	e := rpcconfig.NewEngine()
	require.NoError(t, rpcconfig.RegisterFrameworkDefaults(e))
	require.NoError(t, e.Load(t.TempDir(), rpcconfig.Sources{
		CLI: map[string]string{"rpc-main-host": host, "rpc-main-port": strconv.Itoa(port)},
	}))

	pm := NewProxiedManager(e, []string{"echo"}, "10.0.0.5", 9999, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pm.Load(ctx, (*rpcclient.Client)(nil)))

	ps := main.proxy.get("echo")
	assert.True(t, ps.active())
	assert.Equal(t, "10.0.0.5", ps.Host)
	assert.Equal(t, int32(9999), ps.Port)
	assert.Equal(t, int32(2), ps.Version)

	pm.Shutdown()
	ps = main.proxy.get("echo")
	assert.False(t, ps.active())
}
