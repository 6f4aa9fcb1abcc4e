package rpclog

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSetsRoot(t *testing.T) {
	Init("info")
	require.NotNil(t, Root)
}

func TestNamedIsStableAndIndependentLevel(t *testing.T) {
	Init("info")
	a := Named("svc-a")
	b := Named("svc-a")
	assert.Same(t, a, b)

	SetLevel("svc-a", slog.LevelDebug)
	assert.Equal(t, slog.LevelDebug, Level("svc-a"))
	assert.Equal(t, slog.LevelInfo, Level("svc-b-unknown"))
}

func TestKnownLoggersIncludesNamed(t *testing.T) {
	Init("info")
	Named("svc-list-test")
	assert.Contains(t, KnownLoggers(), "svc-list-test")
}

func TestRotatingHandlerAddRemove(t *testing.T) {
	Init("info")
	dir := t.TempDir()

	h := AddRotatingHandler("svc-rot", dir, 3)
	require.NotNil(t, h.Logger())
	h.Logger().Info("hello")

	require.NoError(t, RemoveRotatingHandler("svc-rot"))
	assert.FileExists(t, filepath.Join(dir, "svc-rot.log"))
	_ = os.RemoveAll(dir)
}
