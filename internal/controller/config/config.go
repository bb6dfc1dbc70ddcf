// Package config loads the controller's layered configuration with viper,
// following the same defaults-then-file-then-env layering as
// internal/agent/config.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/otusfleet/fleetctl/internal/logging"
)

// FallbackAgent is a statically configured agent used when discovery finds
// nothing.
type FallbackAgent struct {
	Name string `mapstructure:"name" yaml:"name"`
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Config is the controller's full configuration tree, as loaded from
// defaults, a YAML file, and environment overrides.
type Config struct {
	SubnetPrefix       string          `mapstructure:"subnet_prefix"`
	FallbackAgents     []FallbackAgent `mapstructure:"fallback_agents"`
	FallbackAgentsFile string          `mapstructure:"fallback_agents_file"`
	RefreshIntervalMS  int             `mapstructure:"refresh_interval_ms"`
	DiscoveryRounds    int             `mapstructure:"discovery_rounds"`
	DiscoveryWindowMS  int             `mapstructure:"discovery_window_ms"`
	Log                logging.Config  `mapstructure:"log"`
}

// Load reads defaults, an optional YAML file at path, and FLEETCTL_-prefixed
// environment variables. If FallbackAgentsFile is set, it is additionally
// decoded with yaml.v3 and appended to FallbackAgents — for operators who
// keep the fleet list outside the main config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading controller config: %w", err)
		}
	}

	v.SetEnvPrefix("FLEETCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling controller config: %w", err)
	}

	if cfg.FallbackAgentsFile != "" {
		extra, err := loadFallbackAgentsFile(cfg.FallbackAgentsFile)
		if err != nil {
			return nil, err
		}
		cfg.FallbackAgents = append(cfg.FallbackAgents, extra...)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("refresh_interval_ms", 2000)
	v.SetDefault("discovery_rounds", 3)
	v.SetDefault("discovery_window_ms", 500)
	v.SetDefault("log.level", "info")
}

func loadFallbackAgentsFile(path string) ([]FallbackAgent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fallback agents file: %w", err)
	}

	var doc struct {
		Agents []FallbackAgent `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing fallback agents file: %w", err)
	}
	return doc.Agents, nil
}
