package rpcfolders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAndWorkspaceAreCreatedLazily(t *testing.T) {
	root := t.TempDir()
	user := filepath.Join(root, "user")
	ws := filepath.Join(root, "workspace")

	f := New("/etc/rpchost", user, ws)

	_, err := os.Stat(user)
	assert.True(t, os.IsNotExist(err))

	got, err := f.User()
	require.NoError(t, err)
	assert.Equal(t, user, got)
	info, err := os.Stat(user)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	got, err = f.Workspace()
	require.NoError(t, err)
	assert.Equal(t, ws, got)
}

func TestEmptyPathIsNotCreated(t *testing.T) {
	f := New("", "", "")
	got, err := f.User()
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
