// Package state provides the live runtime-configuration lookup used for
// emergency overrides, e.g. the subscription stale threshold. Values are read
// fresh on every lookup; this process never writes them.
package state

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Provider resolves a runtime configuration value, falling back to the given
// default when the key is absent or unreadable.
type Provider interface {
	GetInt(key string, fallback int64) int64
}

// Memory is an in-process provider, used in tests and as the default when no
// runtime-settings file is configured.
type Memory struct {
	mu     sync.RWMutex
	values map[string]int64
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]int64)}
}

// Set stores a value.
func (m *Memory) Set(key string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Delete removes a value.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// GetInt implements Provider.
func (m *Memory) GetInt(key string, fallback int64) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	return fallback
}

// File reads values from a YAML file of flat integer keys on every lookup,
// so operators can change overrides without a restart. Read errors fall back
// to the default; a missing file is not an error.
type File struct {
	Path string
}

// GetInt implements Provider.
func (f *File) GetInt(key string, fallback int64) int64 {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return fallback
	}
	values := map[string]int64{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fallback
	}
	if v, ok := values[key]; ok {
		return v
	}
	return fallback
}
