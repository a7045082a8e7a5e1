package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/bitleak/go-flexihash"
	"github.com/bitleak/go-flexihash/hashkit"
)

type TargetConfig struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

type LoggerConfig struct {
	JSON  bool   `yaml:"json"`
	Level string `yaml:"level"`
}

type Config struct {
	Hasher   string         `yaml:"hasher"`
	Replicas int            `yaml:"replicas"`
	HashTags bool           `yaml:"hash_tags"`
	Targets  []TargetConfig `yaml:"targets"`
	Logger   LoggerConfig   `yaml:"logger"`
}

func defaultConfig() Config {
	return Config{
		Hasher:   "crc32",
		Replicas: flexihash.DefaultReplicas,
		Logger:   LoggerConfig{Level: "info"},
	}
}

// loadConfig reads the YAML config at path. A missing file yields the
// default config.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// parseTargets parses a comma-separated list of targets in the format
// "name1,name2=2,name3=0.5" where the optional suffix is the weight.
func parseTargets(s string) ([]TargetConfig, error) {
	if s == "" {
		return nil, nil
	}
	var targets []TargetConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		target := TargetConfig{Name: part, Weight: 1}
		if name, weight, ok := strings.Cut(part, "="); ok {
			w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid weight in %q: %w", part, err)
			}
			target = TargetConfig{Name: strings.TrimSpace(name), Weight: w}
		}
		if target.Name == "" {
			return nil, fmt.Errorf("empty target name in %q", part)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (cfg *Config) buildRing() (*flexihash.Ring, error) {
	hasher, err := hashkit.ByName(cfg.Hasher)
	if err != nil {
		return nil, err
	}
	ring, err := flexihash.New(&flexihash.Config{
		Hasher:   hasher,
		Replicas: cfg.Replicas,
		HashTags: cfg.HashTags,
	})
	if err != nil {
		return nil, err
	}
	for _, target := range cfg.Targets {
		weight := target.Weight
		if weight == 0 {
			weight = 1
		}
		if err := ring.AddWeightedTarget(target.Name, weight); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

// initLogger installs the default slog logger, text or JSON.
func initLogger(cfg *LoggerConfig) error {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
