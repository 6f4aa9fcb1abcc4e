package rpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the wire-format name rpchost registers with grpc's encoding
// package and forces on every server and client via grpc.ForceServerCodec /
// grpc.ForceCodec. Services are described with hand-built grpc.ServiceDesc
// values (see internal/rpcserver), so no generated .pb.go stub ever needs to
// exist: ordinary Go structs tagged for encoding/json are the wire types.
const CodecName = "rpchost-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

// Codec is the encoding.Codec instance every server and client forces via
// grpc.ForceServerCodec / grpc.ForceCodec, so callers never need to depend on
// grpc's global codec registry lookup by name.
var Codec = jsonCodec{}

func init() {
	encoding.RegisterCodec(Codec)
}
