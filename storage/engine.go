package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/janelia-flyem/go/semver"
	"github.com/janelia-flyem/mipvol/mipvol"
)

// Engine is a storage engine that can open stores.
type Engine interface {
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version
	NewStore(config Config) (Store, error)
	String() string
}

// Config is an engine-specific configuration.  The "engine" key selects the engine.
type Config map[string]interface{}

// Engine returns the name of the engine, or "" if not set.
func (c Config) Engine() string {
	s, _, _ := c.GetString("engine")
	return s
}

// GetString returns a string setting.
func (c Config) GetString(key string) (s string, found bool, err error) {
	var v interface{}
	if v, found = c[key]; !found {
		return
	}
	var ok bool
	if s, ok = v.(string); !ok {
		err = fmt.Errorf("%q setting must be a string (%v)", key, v)
	}
	return
}

// GetBool returns a bool setting.
func (c Config) GetBool(key string) (b bool, found bool, err error) {
	var v interface{}
	if v, found = c[key]; !found {
		return
	}
	var ok bool
	if b, ok = v.(bool); !ok {
		err = fmt.Errorf("%q setting must be a bool (%v)", key, v)
	}
	return
}

// GetInt returns an integer setting.  TOML and JSON number types are accepted.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	var v interface{}
	if v, found = c[key]; !found {
		return
	}
	switch n := v.(type) {
	case int:
		i = n
	case int64:
		i = int(n)
	case float64:
		if n != float64(int(n)) {
			err = fmt.Errorf("%q setting must be an integer (%v)", key, v)
		}
		i = int(n)
	default:
		err = fmt.Errorf("%q setting must be an integer (%v)", key, v)
	}
	return
}

var (
	enginesMu    sync.RWMutex
	availEngines = make(map[string]Engine)
)

// RegisterEngine registers an Engine for use.  Engines call this in init().
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	availEngines[e.GetName()] = e
}

// GetEngine returns the registered engine with the given name.
func GetEngine(name string) (Engine, bool) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := availEngines[name]
	return e, found
}

// EnginesAvailable returns a description of the registered engines.
func EnginesAvailable() string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	var descs []string
	for _, e := range availEngines {
		descs = append(descs, fmt.Sprintf("%s: %s", e, e.GetDescription()))
	}
	sort.Strings(descs)
	return strings.Join(descs, "; ")
}

// Open returns a store using the engine named in the config.
func Open(config Config) (Store, error) {
	name := config.Engine()
	if name == "" {
		return nil, fmt.Errorf("store configuration has no %q setting", "engine")
	}
	e, found := GetEngine(name)
	if !found {
		return nil, fmt.Errorf("unknown storage engine %q, available: %s", name, EnginesAvailable())
	}
	store, err := e.NewStore(config)
	if err != nil {
		return nil, err
	}
	mipvol.Infof("Opened %s with engine %s\n", store, e)
	return store, nil
}
