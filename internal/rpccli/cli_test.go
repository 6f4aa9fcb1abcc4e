package rpccli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBuildsFoldersAndOverrides(t *testing.T) {
	args, err := Parse("rpchostd", []string{
		"-system-folder", "/etc/rpchost",
		"-user-folder", "/home/me/.rpchost",
		"-workspace-folder", "/var/lib/rpchost",
		"-host", "0.0.0.0",
		"-port", "9000",
		"-c", "widget-count=3",
		"-c", "rpc-main-port=9001",
	})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", args.Host)
	assert.Equal(t, 9000, args.Port)
	assert.Equal(t, "/etc/rpchost", args.Folders.System)
	assert.Equal(t, map[string]string{"widget-count": "3", "rpc-main-port": "9001"}, args.Config)
}

func TestParseDefaults(t *testing.T) {
	args, err := Parse("rpchostd", nil)
	require.NoError(t, err)

	assert.Equal(t, "", args.Host)
	assert.Equal(t, 0, args.Port)
	assert.Empty(t, args.Config)
}

func TestParseRejectsMalformedOverride(t *testing.T) {
	_, err := Parse("rpchostd", []string{"-c", "no-equals-sign"})
	assert.Error(t, err)
}
