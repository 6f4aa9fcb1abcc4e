// Package rpcclient is rpchost's retrying RPC client: it wraps a
// grpc.ClientConn so that every call carries caller-identifying metadata,
// survives a server that is briefly unavailable, and classifies a non-OK
// Result embedded in a response as an error when asked to.
package rpcclient

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	grpcretry "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"rpchost/internal/rpcerr"
	"rpchost/internal/rpclog"
	"rpchost/internal/rpcmeta"
	"rpchost/internal/rpctrace"
	"rpchost/pkg/rpcapi"
)

// retryPollInterval is the fixed sleep between UNAVAILABLE retries, matching
// the original RetryStub's half-second polling loop.
const retryPollInterval = 500 * time.Millisecond

// Client dials one rpchost server and issues calls against it, retrying
// while the peer is UNAVAILABLE and the configured timeout has not yet
// elapsed. One Client maps to one channel string ("host:port"), same as the
// original RpcClient.
type Client struct {
	conn         *grpc.ClientConn
	channel      string
	name         string
	timeout      time.Duration
	logger       *slog.Logger
	raiseOnNonOK bool
	shared       rpcmeta.Metadata
}

// Option customizes a Dial call.
type Option func(*options)

type options struct {
	name         string
	timeout      time.Duration
	logger       *slog.Logger
	raiseOnNonOK bool
	apiVersion   int32
}

func defaultOptions() options {
	return options{timeout: 60 * time.Second, raiseOnNonOK: true}
}

func WithName(name string) Option           { return func(o *options) { o.name = name } }
func WithTimeout(d time.Duration) Option    { return func(o *options) { o.timeout = d } }
func WithLogger(l *slog.Logger) Option      { return func(o *options) { o.logger = l } }
func WithAPIVersion(v int32) Option         { return func(o *options) { o.apiVersion = v } }

// WithRaiseOnNonOK controls whether Call returns an error when the response
// embeds a non-OK Result. Proxy delegation dials with this set to false, so
// a non-OK Result from the peer is passed back to the caller unchanged
// instead of failing the whole proxied call.
func WithRaiseOnNonOK(raise bool) Option { return func(o *options) { o.raiseOnNonOK = raise } }

// Dial opens a channel to host:port and returns a ready-to-use Client.
func Dial(host string, port int, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = rpclog.Named("rpcclient")
	}

	channel := fmt.Sprintf("%s:%d", host, port)
	o.logger.Debug("initializing RPC client", "channel", channel)

	retryOpts := []grpcretry.CallOption{
		grpcretry.WithMax(3),
		grpcretry.WithBackoff(grpcretry.BackoffLinear(100 * time.Millisecond)),
		grpcretry.WithCodes(codes.Unavailable),
	}

	conn, err := grpc.NewClient(channel,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpcapi.Codec)),
		grpc.WithChainUnaryInterceptor(grpcretry.UnaryClientInterceptor(retryOpts...)),
	)
	if err != nil {
		return nil, rpcerr.Wrap(err, rpcapi.ErrorRPC, "dialing "+channel)
	}

	hostname, _ := os.Hostname()
	shared := rpcmeta.Metadata{
		Client:     o.name,
		User:       rpcmeta.CurrentUser(),
		Host:       hostname,
		IP:         rpcmeta.OutboundIP(),
		APIVersion: o.apiVersion,
	}

	o.logger.Debug("RPC client ready", "channel", channel)

	return &Client{
		conn:         conn,
		channel:      channel,
		name:         o.name,
		timeout:      o.timeout,
		logger:       o.logger,
		raiseOnNonOK: o.raiseOnNonOK,
		shared:       shared,
	}, nil
}

// Close releases the underlying channel.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Conn exposes the underlying ClientConn, for constructing streaming calls
// (e.g. events.listen) that this package does not wrap directly.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// OutgoingContext attaches this client's shared metadata to ctx.
func (c *Client) OutgoingContext(ctx context.Context) context.Context {
	return metadata.NewOutgoingContext(ctx, metadata.Pairs(c.shared.AsTuple()...))
}

// Call issues one unary RPC, retrying on UNAVAILABLE until c.timeout elapses.
// If resp implements rpcapi.Resulter and carries a non-OK Result, Call
// returns an *rpcerr.Error carrying that code when raiseOnNonOK is set.
func (c *Client) Call(ctx context.Context, method string, req, resp any) error {
	trace := rpctrace.Call(true, c.channel, method, req)
	c.logger.Debug(trace)

	ctx = c.OutgoingContext(ctx)
	firstTry := time.Now()

	for {
		err := c.conn.Invoke(ctx, method, req, resp, grpc.ForceCodec(rpcapi.Codec))
		if err == nil {
			break
		}
		st, ok := status.FromError(err)
		if ok && st.Code() == codes.Unavailable && time.Since(firstTry) < c.timeout {
			c.logger.Debug("retrying after UNAVAILABLE", "method", method, "detail", st.Message())
			time.Sleep(retryPollInterval)
			continue
		}
		c.logger.Error("RPC call failed", "method", method, "error", err)
		return rpcerr.Wrap(err, rpcapi.ErrorRPC, fmt.Sprintf("RPC error calling %s on %s", method, c.channel))
	}

	c.logger.Debug(rpctrace.Call(false, c.channel, method, resp))

	if c.raiseOnNonOK {
		if r, ok := resp.(rpcapi.Resulter); ok {
			if res := r.GetResult(); !res.IsOK() {
				return rpcerr.New(res.Code, fmt.Sprintf("RPC returned error: %s", res.Message))
			}
		}
	}
	return nil
}
