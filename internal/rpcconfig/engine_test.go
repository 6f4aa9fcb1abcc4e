package rpcconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpchost/pkg/rpcapi"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	require.NoError(t, e.Register(Item{Name: "widget-count", Kind: KindUser, Validator: rpcapi.ValidatorPosInt, HardCodedDefault: "5"}))
	require.NoError(t, RegisterFrameworkDefaults(e))
	return e
}

func TestRegisterRejectsBadNameAndDuplicate(t *testing.T) {
	e := NewEngine()
	assert.Error(t, e.Register(Item{Name: "Bad-Name", HardCodedDefault: "x"}))
	require.NoError(t, e.Register(Item{Name: "ok-name", HardCodedDefault: "x"}))
	assert.Error(t, e.Register(Item{Name: "ok-name", HardCodedDefault: "y"}))
}

func TestLoadResolvesHardCodedDefaultWhenNoOverrides(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Load(t.TempDir(), Sources{}))

	item, err := e.Get("widget-count")
	require.NoError(t, err)
	assert.Equal(t, "5", item.Value)
	assert.Equal(t, "5", item.DefaultValue)
}

func TestEnvOverridesDefault(t *testing.T) {
	e := newTestEngine(t)
	t.Setenv("RPCHOST_WIDGET_COUNT", "42")
	require.NoError(t, e.Load(t.TempDir(), Sources{EnvPrefix: "RPCHOST_"}))

	item, err := e.Get("widget-count")
	require.NoError(t, err)
	assert.Equal(t, "42", item.Value)
}

func TestCLIOverridesEnv(t *testing.T) {
	e := newTestEngine(t)
	t.Setenv("RPCHOST_WIDGET_COUNT", "42")
	require.NoError(t, e.Load(t.TempDir(), Sources{
		EnvPrefix: "RPCHOST_",
		CLI:       map[string]string{"widget-count": "99"},
	}))

	item, err := e.Get("widget-count")
	require.NoError(t, err)
	assert.Equal(t, "99", item.Value)
}

func TestSetPersistsOnlyUserItemsThatDifferFromDefault(t *testing.T) {
	ws := t.TempDir()
	e := newTestEngine(t)
	require.NoError(t, e.Load(ws, Sources{}))

	require.NoError(t, e.Set("widget-count", "7"))
	require.NoError(t, e.Set("rpc-max-workers", "99")) // static item, never persisted

	data, err := os.ReadFile(filepath.Join(ws, workspaceFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "widget-count")
	assert.NotContains(t, string(data), "rpc-max-workers")
}

func TestSetRejectsInvalidValue(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Load(t.TempDir(), Sources{}))
	assert.Error(t, e.Set("widget-count", "not-a-number"))
}

func TestResetRemovesOverride(t *testing.T) {
	ws := t.TempDir()
	e := newTestEngine(t)
	require.NoError(t, e.Load(ws, Sources{}))
	require.NoError(t, e.Set("widget-count", "7"))
	require.NoError(t, e.Reset("widget-count"))

	item, err := e.Get("widget-count")
	require.NoError(t, err)
	assert.Equal(t, item.DefaultValue, item.Value)
}

func TestLoadReappliesPersistedWorkspaceOverrideOnRestart(t *testing.T) {
	ws := t.TempDir()
	e := newTestEngine(t)
	require.NoError(t, e.Load(ws, Sources{}))
	require.NoError(t, e.Set("widget-count", "12"))

	e2 := newTestEngine(t)
	require.NoError(t, e2.Load(ws, Sources{}))
	item, err := e2.Get("widget-count")
	require.NoError(t, err)
	assert.Equal(t, "12", item.Value)
}

func TestGetUnknownItemReturnsItemUnknown(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Load(t.TempDir(), Sources{}))
	_, err := e.Get("does-not-exist")
	require.Error(t, err)
}

func TestGetAllEmptyNamesReturnsEverything(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Load(t.TempDir(), Sources{}))

	items, err := e.GetAll(nil, false)
	require.NoError(t, err)
	assert.Len(t, items, len(e.items))
}

func TestGetAllFailsOnUnknownNameUnlessIgnored(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Load(t.TempDir(), Sources{}))

	_, err := e.GetAll([]string{"widget-count", "does-not-exist"}, false)
	require.Error(t, err)

	items, err := e.GetAll([]string{"widget-count", "does-not-exist"}, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "widget-count", items[0].Name)
}

func TestResetAllEmptyNamesResetsEverything(t *testing.T) {
	ws := t.TempDir()
	e := newTestEngine(t)
	require.NoError(t, e.Load(ws, Sources{}))
	require.NoError(t, e.Set("widget-count", "7"))

	require.NoError(t, e.ResetAll(nil, false))

	item, err := e.Get("widget-count")
	require.NoError(t, err)
	assert.Equal(t, item.DefaultValue, item.Value)
}
