package tracking

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config is a run's mutable key/value configuration. It is not safe for
// concurrent use; callers own the run from a single goroutine.
type Config struct {
	values map[string]any
}

func NewConfig(initial map[string]any) *Config {
	c := &Config{values: make(map[string]any, len(initial))}
	c.Update(initial)
	return c
}

func (c *Config) Set(key string, value any) {
	c.values[key] = value
}

func (c *Config) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Update merges values key by key, overwriting existing keys.
func (c *Config) Update(values map[string]any) {
	for k, v := range values {
		c.values[k] = v
	}
}

func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Config) Len() int { return len(c.values) }

// Snapshot returns a shallow copy of the current values.
func (c *Config) Snapshot() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func (c *Config) writeYAML(path string) error {
	raw, err := yaml.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
