// Package rpcmeta carries the per-call metadata (caller identity, origin
// host/IP, negotiated API version) threaded through every RPC as gRPC
// metadata pairs.
package rpcmeta

import (
	"context"
	"fmt"
	"net"
	"os/user"
	"strconv"

	"google.golang.org/grpc/metadata"
)

// Keys used on the wire for each metadata field.
const (
	KeyClient     = "client"
	KeyUser       = "user"
	KeyHost       = "host"
	KeyIP         = "ip"
	KeyAPIVersion = "api_version"
)

// Metadata is the set of caller-identifying fields attached to every client
// call and read back by the server's dispatch pipeline for call tracing.
type Metadata struct {
	Client     string
	User       string
	Host       string
	IP         string
	APIVersion int32 // 0 means "not set"
}

// AsTuple returns the non-empty fields as a flat key/value slice suitable for
// metadata.Pairs / metadata.New, matching the original client's shared
// metadata tuple construction.
func (m Metadata) AsTuple() []string {
	var out []string
	add := func(k, v string) {
		if v != "" {
			out = append(out, k, v)
		}
	}
	add(KeyClient, m.Client)
	add(KeyUser, m.User)
	add(KeyHost, m.Host)
	add(KeyIP, m.IP)
	if m.APIVersion != 0 {
		add(KeyAPIVersion, strconv.Itoa(int(m.APIVersion)))
	}
	return out
}

func (m Metadata) String() string {
	return fmt.Sprintf("%s@%s[%s] (client=%s, api=%d)", m.User, m.Host, m.IP, m.Client, m.APIVersion)
}

// FromContext parses the incoming gRPC metadata of ctx into a Metadata
// value, mirroring RpcMetadata.from_context in the original implementation.
func FromContext(ctx context.Context) Metadata {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Metadata{}
	}
	m := Metadata{
		Client: first(md, KeyClient),
		User:   first(md, KeyUser),
		Host:   first(md, KeyHost),
		IP:     first(md, KeyIP),
	}
	if v := first(md, KeyAPIVersion); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.APIVersion = int32(n)
		}
	}
	return m
}

func first(md metadata.MD, key string) string {
	vs := md.Get(key)
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// CurrentUser resolves the name of the OS user running the current process,
// returning "" if the user database lookup fails.
func CurrentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

// OutboundIP discovers the local address that would be used to reach the
// public internet, via the classic UDP-connect-to-a-well-known-host trick
// (no packet is actually sent; UDP connect only resolves routing). Returns
// "" if no route is available.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
