package connector

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Connectors []ConnectorConfig `yaml:"connectors"`
	}

	ConnectorConfig struct {
		Name   string `yaml:"name"`
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	}
)

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadFile: %w", err)
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("error in yaml.Unmarshal: %w", err)
	}
	for i, c := range cfg.Connectors {
		if c.Name == "" || c.Driver == "" || c.DSN == "" {
			return nil, fmt.Errorf("connector %d needs a name, driver and dsn", i)
		}
	}
	return &cfg, nil
}

// Build opens every configured connector into a new registry.
func (c *Config) Build(ctx context.Context) (*Registry, error) {
	reg := NewRegistry()
	for _, cc := range c.Connectors {
		sc, err := NewSQLConnector(ctx, cc.Driver, cc.DSN)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("error opening connector %s: %w", cc.Name, err), reg.Close())
		}
		if err := reg.Register(cc.Name, sc); err != nil {
			return nil, errors.Join(err, sc.Close(), reg.Close())
		}
	}
	return reg, nil
}
