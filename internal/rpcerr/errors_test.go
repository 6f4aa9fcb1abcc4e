package rpcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rpchost/pkg/rpcapi"
)

func TestResultRoundTrip(t *testing.T) {
	err := New(rpcapi.ErrorItemUnknown, "no such service")
	r := Result(err)
	assert.Equal(t, rpcapi.ErrorItemUnknown, r.Code)
	assert.Equal(t, "no such service", r.Message)

	back := FromResult(r)
	require.Error(t, back)
	assert.True(t, Is(back, rpcapi.ErrorItemUnknown))
}

func TestResultOK(t *testing.T) {
	assert.True(t, Result(nil).IsOK())
	assert.Nil(t, FromResult(rpcapi.OKResult()))
}

func TestToGRPCFromGRPCRoundTrip(t *testing.T) {
	err := New(rpcapi.ErrorParamInvalid, "bad name")
	gerr := ToGRPC(err)

	st, ok := status.FromError(gerr)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())

	back := FromGRPC(gerr)
	assert.Equal(t, rpcapi.ErrorParamInvalid, back.Code)
}

func TestFromGRPCUnavailableMapsToErrorRPC(t *testing.T) {
	gerr := status.Error(codes.Unavailable, "down")
	back := FromGRPC(gerr)
	assert.Equal(t, rpcapi.ErrorRPC, back.Code)
}

func TestCodeDefaultsToGenericForPlainErrors(t *testing.T) {
	assert.Equal(t, rpcapi.ErrorGeneric, Code(errors.New("boom")))
	assert.Equal(t, rpcapi.OK, Code(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(cause, rpcapi.ErrorRPC, "dial failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, rpcapi.ErrorRPC, Code(err))
}
