package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// appConfig holds the service settings. A YAML config file is optional;
// environment variables override whatever it sets.
type appConfig struct {
	Port           string `yaml:"port"`
	DatabasePath   string `yaml:"database_path"`
	LogLevel       string `yaml:"log_level"`
	PublicEndpoint string `yaml:"public_endpoint"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	KVTTLSeconds   int    `yaml:"kv_ttl_seconds"`
	GeminiModel    string `yaml:"gemini_model"`
	BrowserURL     string `yaml:"browser_url"`
}

func loadConfig(path string) (appConfig, error) {
	cfg := appConfig{
		Port:          "8080",
		DatabasePath:  "db/aicache.db",
		LogLevel:      "info",
		MaxConcurrent: 5,
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
