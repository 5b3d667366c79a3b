package shard

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes the store connections behind one logical database. A
// single URI means an unsharded database; N URIs mean N independent shards
// in declaration order. URI syntax (redis://, rediss://, unix://) is parsed
// by the client library.
type Config struct {
	URIs        []string      `yaml:"uris"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("shard: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("shard: parse config: %w", err)
	}
	return cfg, nil
}
