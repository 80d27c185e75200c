package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Database struct {
		Path string `json:"path"`
	} `json:"database"`

	Engine struct {
		CacheSize     int `json:"cache_size"`     // materialized states kept in memory
		SnapshotEvery int `json:"snapshot_every"` // commits between durable snapshots, 0 disables
		MaxRetries    int `json:"max_retries"`    // bound on the head CAS retry loop
	} `json:"engine"`

	Environment string `json:"environment"` // dev, prod
	LogLevel    string `json:"log_level"`   // debug, info, warn, error
}

func getConfigPath() string {
	env := os.Getenv("SAGA_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	return &config, nil
}

// LoadOrDefault reads the config for the current environment (SAGA_ENV),
// falling back to defaults when no config file exists.
func LoadOrDefault() (*Config, error) {
	config, err := Load(getConfigPath())
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	var config Config
	config.Database.Path = ".saga/db"
	config.Engine.SnapshotEvery = 10
	config.Environment = "development"
	config.LogLevel = "info"
	applyDefaults(&config)
	return &config
}

func applyDefaults(c *Config) {
	if c.Engine.CacheSize == 0 {
		c.Engine.CacheSize = 1000
	}
	if c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = 3
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
