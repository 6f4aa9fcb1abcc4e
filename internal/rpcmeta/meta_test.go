package rpcmeta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/metadata"
)

func TestAsTupleSkipsEmptyFields(t *testing.T) {
	m := Metadata{Client: "cli", User: "alice"}
	tuple := m.AsTuple()
	assert.Equal(t, []string{KeyClient, "cli", KeyUser, "alice"}, tuple)
}

func TestAsTupleIncludesAPIVersionWhenSet(t *testing.T) {
	m := Metadata{Client: "cli", APIVersion: 3}
	tuple := m.AsTuple()
	assert.Contains(t, tuple, KeyAPIVersion)
	assert.Contains(t, tuple, "3")
}

func TestFromContextParsesIncomingMetadata(t *testing.T) {
	md := metadata.Pairs(KeyClient, "cli", KeyUser, "bob", KeyAPIVersion, "2")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	m := FromContext(ctx)
	assert.Equal(t, "cli", m.Client)
	assert.Equal(t, "bob", m.User)
	assert.Equal(t, int32(2), m.APIVersion)
}

func TestFromContextEmptyWithoutMetadata(t *testing.T) {
	m := FromContext(context.Background())
	assert.Equal(t, Metadata{}, m)
}
