package jsonapi

import (
	"time"

	"github.com/goccy/go-yaml"
)

// EngineConfig collects the tunables spec.md leaves as deployment choices
// (bulk chunk/item limits, include-engine limits, subscription limits,
// default/max page size). Treated as immutable once loaded, the way
// MacroPower-x decodes a config struct once at startup via goccy/go-yaml
// and never mutates it afterward.
type EngineConfig struct {
	BulkMaxItems                  int           `yaml:"bulkMaxItems"`
	BulkChunkSize                 int           `yaml:"bulkChunkSize"`
	MaxIncludeDepth               int           `yaml:"maxIncludeDepth"`
	MaxSubscriptionsPerConnection int           `yaml:"maxSubscriptionsPerConnection"`
	PingInterval                  time.Duration `yaml:"pingInterval"`
	DefaultPageSize               int           `yaml:"defaultPageSize"`
	MaxPageSize                   int           `yaml:"maxPageSize"`
}

// DefaultEngineConfig returns the configuration baseline: 100 bulk items
// chunked at 25 (spec.md §4.10), unbounded include depth (cycle guard in
// include.go is the real backstop), 20 subscriptions per connection, a
// 30-second ping interval, and the registry's own page-size defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BulkMaxItems:                  100,
		BulkChunkSize:                 25,
		MaxIncludeDepth:               0,
		MaxSubscriptionsPerConnection: 20,
		PingInterval:                  30 * time.Second,
		DefaultPageSize:               20,
		MaxPageSize:                   100,
	}
}

// LoadEngineConfigYAML decodes YAML bytes over DefaultEngineConfig, so an
// omitted field keeps its default rather than zeroing out.
func LoadEngineConfigYAML(data []byte) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}
