package rpcclient

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"rpchost/pkg/rpcapi"
)

// echoServiceDesc wires one unary method, "Echo", onto a hand-built
// grpc.ServiceDesc - the same approach internal/rpcserver uses for every
// hosted service - so this test can exercise a real grpc.Server/ClientConn
// round trip without any generated stub code.
func echoServiceDesc(resultCode rpcapi.ResultCode) *grpc.ServiceDesc {
	handler := func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		req := &rpcapi.Filter{}
		if err := dec(req); err != nil {
			return nil, err
		}
		return &rpcapi.Filter{Names: req.Names, R: rpcapi.Result{Code: resultCode}}, nil
	}
	return &grpc.ServiceDesc{
		ServiceName: "test.Echo",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Echo", Handler: handler},
		},
	}
}

func startTestServer(t *testing.T, resultCode rpcapi.ResultCode) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.ForceServerCodec(rpcapi.Codec))
	srv.RegisterService(echoServiceDesc(resultCode), nil)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestCallRoundTripsOKResult(t *testing.T) {
	addr := startTestServer(t, rpcapi.OK)
	host, port := splitHostPort(t, addr)

	c, err := Dial(host, port, WithName("test-client"), WithTimeout(2*time.Second))
	require.NoError(t, err)
	defer c.Close()

	req := &rpcapi.Filter{Names: []string{"hello"}}
	resp := &rpcapi.Filter{}
	err = c.Call(context.Background(), "/test.Echo/Echo", req, resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, resp.Names)
}

func TestCallReturnsErrorOnNonOKResult(t *testing.T) {
	addr := startTestServer(t, rpcapi.ErrorItemUnknown)
	host, port := splitHostPort(t, addr)

	c, err := Dial(host, port, WithTimeout(2*time.Second))
	require.NoError(t, err)
	defer c.Close()

	req := &rpcapi.Filter{Names: []string{"missing"}}
	resp := &rpcapi.Filter{}
	err = c.Call(context.Background(), "/test.Echo/Echo", req, resp)
	require.Error(t, err)
}

func TestCallSkipsResultCheckWhenRaiseDisabled(t *testing.T) {
	addr := startTestServer(t, rpcapi.ErrorItemUnknown)
	host, port := splitHostPort(t, addr)

	c, err := Dial(host, port, WithTimeout(2*time.Second), WithRaiseOnNonOK(false))
	require.NoError(t, err)
	defer c.Close()

	req := &rpcapi.Filter{Names: []string{"missing"}}
	resp := &rpcapi.Filter{}
	err = c.Call(context.Background(), "/test.Echo/Echo", req, resp)
	require.NoError(t, err)
	assert.Equal(t, rpcapi.ErrorItemUnknown, resp.R.Code)
}
