package types

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zeu5/highway-rl/config"
)

var (
	ErrUnknownEnv = errors.New("unknown environment id")
	ErrEnvExists  = errors.New("environment id already registered")
)

// EnvConstructor builds an environment from the scenario configuration and a seed
type EnvConstructor func(config.EnvConfig, uint64) (Environment, error)

var (
	registryLock sync.RWMutex
	registry     = make(map[string]EnvConstructor)
)

// RegisterEnv makes an environment constructible by id
func RegisterEnv(id string, ctor EnvConstructor) error {
	registryLock.Lock()
	defer registryLock.Unlock()
	if _, ok := registry[id]; ok {
		return fmt.Errorf("%w: %s", ErrEnvExists, id)
	}
	registry[id] = ctor
	return nil
}

// MakeEnv constructs the environment registered under id
func MakeEnv(id string, cfg config.EnvConfig, seed uint64) (Environment, error) {
	registryLock.RLock()
	ctor, ok := registry[id]
	registryLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEnv, id)
	}
	return ctor(cfg, seed)
}

// RegisteredEnvs lists the registered ids in sorted order
func RegisteredEnvs() []string {
	registryLock.RLock()
	defer registryLock.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
