package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Game struct {
		QuestionInterval string `yaml:"questionInterval"` // round length, default 30s
		StartDelay       string `yaml:"startDelay"`       // default 3s
		LockTTL          string `yaml:"lockTTL"`          // default 5s
		RoomTTL          string `yaml:"roomTTL"`          // default 10m
		QuestionCacheTTL string `yaml:"questionCacheTTL"` // default 10m
		BasePoints       int    `yaml:"basePoints"`
		MinPoints        int    `yaml:"minPoints"`
		MinPlayers       int    `yaml:"minPlayers"`
		Workers          int    `yaml:"workers"`
	} `yaml:"game"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// IntOr returns v unless it is zero.
func IntOr(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
