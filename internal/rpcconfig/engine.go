package rpcconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"rpchost/internal/rpcerr"
	"rpchost/pkg/rpcapi"
)

const workspaceFileName = "config.json"

// Sources names every input to the layered default resolution, from lowest
// to highest precedence: SystemPath and UserPath point at optional
// YAML/JSON config files; EnvPrefix selects which environment variables feed
// the layer above the files; CLI is the override map built from repeated
// `-c name=value` flags.
type Sources struct {
	SystemPath string
	UserPath   string
	EnvPrefix  string
	CLI        map[string]string
}

type entry struct {
	item    Item
	dflt    string // effective default after the 5-layer resolution
	value   string // current value; equals dflt unless overridden via Set
	overrid bool
}

// Engine resolves and serves configuration items for one running host. A
// single Engine is shared by every built-in and user service that wants
// configuration, matching the framework's single ConfigManager.
type Engine struct {
	mu            sync.RWMutex
	items         map[string]*entry
	workspacePath string
}

// NewEngine creates an empty engine. Register every Item, then call Load.
func NewEngine() *Engine {
	return &Engine{items: map[string]*entry{}}
}

// Register declares one configuration item. Returns ERROR_MODEL_INVALID if
// the name is malformed or already registered (static/user name conflicts
// are both name conflicts).
func (e *Engine) Register(it Item) error {
	if err := validateName(it.Name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.items[it.Name]; exists {
		return rpcerr.Newf(rpcapi.ErrorModelInvalid, "config item %q already registered", it.Name)
	}
	e.items[it.Name] = &entry{item: it, dflt: it.HardCodedDefault, value: it.HardCodedDefault}
	return nil
}

// Load resolves every registered item's default through the 5-layer
// precedence (hard-coded default -> system file -> user file -> env ->
// CLI overrides) and then applies any persisted workspace overrides for
// KindUser items.
func (e *Engine) Load(workspacePath string, src Sources) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.workspacePath = workspacePath

	k := koanf.New(".")

	defaults := map[string]any{}
	for name, ent := range e.items {
		defaults[name] = ent.item.HardCodedDefault
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "loading hard-coded config defaults")
	}

	if src.SystemPath != "" {
		if _, statErr := os.Stat(src.SystemPath); statErr == nil {
			if err := k.Load(file.Provider(src.SystemPath), yaml.Parser()); err != nil {
				return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "loading system config file")
			}
		}
	}
	if src.UserPath != "" {
		if _, statErr := os.Stat(src.UserPath); statErr == nil {
			if err := k.Load(file.Provider(src.UserPath), yaml.Parser()); err != nil {
				return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "loading user config file")
			}
		}
	}

	prefix := src.EnvPrefix
	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		return strings.ToLower(strings.ReplaceAll(s, "_", "-"))
	}), nil); err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "loading environment config")
	}

	if len(src.CLI) > 0 {
		cli := make(map[string]any, len(src.CLI))
		for k2, v := range src.CLI {
			cli[k2] = v
		}
		if err := k.Load(confmap.Provider(cli, "."), nil); err != nil {
			return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "loading CLI config overrides")
		}
	}

	for name, ent := range e.items {
		v := k.String(name)
		if v == "" {
			v = ent.item.HardCodedDefault
		}
		if err := ent.item.validate(v); err != nil {
			return err
		}
		ent.dflt = v
		ent.value = v
		ent.overrid = false
	}

	return e.loadWorkspaceOverrides()
}

func (e *Engine) workspaceFile() string {
	if e.workspacePath == "" {
		return ""
	}
	return filepath.Join(e.workspacePath, workspaceFileName)
}

func (e *Engine) loadWorkspaceOverrides() error {
	path := e.workspaceFile()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "reading persisted config overrides")
	}

	var persisted map[string]string
	if err := json.Unmarshal(data, &persisted); err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "parsing persisted config overrides")
	}

	for name, v := range persisted {
		ent, ok := e.items[name]
		if !ok || ent.item.Kind != KindUser {
			// Unknown name or no longer a user item: skip, framework items
			// are never persisted across restarts.
			continue
		}
		if err := ent.item.validate(v); err != nil {
			continue
		}
		ent.value = v
		ent.overrid = v != ent.dflt
	}
	return nil
}

// persist rewrites the workspace config.json with every KindUser item whose
// current value differs from its resolved default.
func (e *Engine) persist() error {
	path := e.workspaceFile()
	if path == "" {
		return nil
	}
	out := map[string]string{}
	for name, ent := range e.items {
		if ent.item.Kind == KindUser && ent.overrid {
			out[name] = ent.value
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "encoding config overrides")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rpcerr.Wrap(err, rpcapi.ErrorGeneric, "creating workspace folder")
	}
	return os.WriteFile(path, data, 0o644)
}

// Get returns the wire representation of one item.
func (e *Engine) Get(name string) (rpcapi.ConfigItem, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.items[name]
	if !ok {
		return rpcapi.ConfigItem{}, rpcerr.Newf(rpcapi.ErrorItemUnknown, "unknown config item %q", name)
	}
	return toWire(ent), nil
}

// GetAll returns every item named in names, atomically: an unknown name
// fails the whole batch with ERROR_ITEM_UNKNOWN unless ignoreUnknown is set,
// in which case it is skipped instead. An empty names list returns every
// registered item.
func (e *Engine) GetAll(names []string, ignoreUnknown bool) ([]rpcapi.ConfigItem, error) {
	if len(names) == 0 {
		e.mu.RLock()
		defer e.mu.RUnlock()
		out := make([]rpcapi.ConfigItem, 0, len(e.items))
		for _, ent := range e.items {
			out = append(out, toWire(ent))
		}
		return out, nil
	}
	out := make([]rpcapi.ConfigItem, 0, len(names))
	for _, name := range names {
		it, err := e.Get(name)
		if err != nil {
			if ignoreUnknown && rpcerr.Code(err) == rpcapi.ErrorItemUnknown {
				continue
			}
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func toWire(ent *entry) rpcapi.ConfigItem {
	return rpcapi.ConfigItem{
		Name:             ent.item.Name,
		Value:            ent.value,
		DefaultValue:     ent.dflt,
		HardCodedDefault: ent.item.HardCodedDefault,
		Validator:        ent.item.Validator,
		IsUser:           ent.item.Kind == KindUser,
		CanBeEmpty:       ent.item.CanBeEmpty,
		R:                rpcapi.OKResult(),
	}
}

// Set validates and applies a new value to a registered item, persisting it
// if it is a KindUser item whose new value differs from its default.
func (e *Engine) Set(name, value string) error {
	e.mu.Lock()
	ent, ok := e.items[name]
	if !ok {
		e.mu.Unlock()
		return rpcerr.Newf(rpcapi.ErrorItemUnknown, "unknown config item %q", name)
	}
	if err := ent.item.validate(value); err != nil {
		e.mu.Unlock()
		return err
	}
	ent.value = value
	ent.overrid = value != ent.dflt
	needsPersist := ent.item.Kind == KindUser
	e.mu.Unlock()

	if needsPersist {
		return e.persist()
	}
	return nil
}

// ResetAll resets every item named in names, atomically: an unknown name
// fails the whole batch with ERROR_ITEM_UNKNOWN unless ignoreUnknown is set.
// An empty names list resets every registered item.
func (e *Engine) ResetAll(names []string, ignoreUnknown bool) error {
	if len(names) == 0 {
		e.mu.RLock()
		names = make([]string, 0, len(e.items))
		for name := range e.items {
			names = append(names, name)
		}
		e.mu.RUnlock()
	}
	for _, name := range names {
		if err := e.Reset(name); err != nil {
			if ignoreUnknown && rpcerr.Code(err) == rpcapi.ErrorItemUnknown {
				continue
			}
			return err
		}
	}
	return nil
}

// Reset returns an item to its resolved default, removing any persisted
// override.
func (e *Engine) Reset(name string) error {
	e.mu.Lock()
	ent, ok := e.items[name]
	if !ok {
		e.mu.Unlock()
		return rpcerr.Newf(rpcapi.ErrorItemUnknown, "unknown config item %q", name)
	}
	ent.value = ent.dflt
	ent.overrid = false
	needsPersist := ent.item.Kind == KindUser
	e.mu.Unlock()

	if needsPersist {
		return e.persist()
	}
	return nil
}
