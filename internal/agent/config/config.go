// Package config loads the agent's layered configuration with viper:
// defaults set programmatically, a YAML file layered on top, then
// environment variables, then node-identity auto-detection.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/otusfleet/fleetctl/internal/logging"
)

// NodeConfig identifies this agent on the network.
type NodeConfig struct {
	Hostname string `mapstructure:"hostname"` // empty = os.Hostname()
	IP       string `mapstructure:"ip"`       // empty = auto-detect
}

// PortsConfig is the agent's default port plan.
type PortsConfig struct {
	Request       int `mapstructure:"request"`
	Discovery     int `mapstructure:"discovery"`
	StreamMain    int `mapstructure:"stream_main"`
	StreamStats   int `mapstructure:"stream_stats"`
	StreamFiles   int `mapstructure:"stream_files"`
	StreamDesktop int `mapstructure:"stream_desktop"`
}

// SamplerConfig controls the metrics sampler's tick and alert behavior.
type SamplerConfig struct {
	IntervalSeconds      int     `mapstructure:"interval_seconds"`
	AlertThreshold       float64 `mapstructure:"alert_threshold"`
	AlertCooldownSeconds int     `mapstructure:"alert_cooldown_seconds"`
}

// Config is the agent's full configuration tree.
type Config struct {
	Node               NodeConfig     `mapstructure:"node"`
	Ports              PortsConfig    `mapstructure:"ports"`
	Sampler            SamplerConfig  `mapstructure:"sampler"`
	StorageRoot        string         `mapstructure:"storage_root"`
	AutoInstallEnabled bool           `mapstructure:"auto_install_enabled"`
	Log                logging.Config `mapstructure:"log"`
	MetricsListen      string         `mapstructure:"metrics_listen"`
}

// Load reads defaults, an optional YAML file at path, and FLEETCTL_-prefixed
// environment variables, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading agent config: %w", err)
		}
	}

	v.SetEnvPrefix("FLEETCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling agent config: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ports.request", 7700)
	v.SetDefault("ports.discovery", 7701)
	v.SetDefault("ports.stream_main", 7710)
	v.SetDefault("ports.stream_stats", 7711)
	v.SetDefault("ports.stream_files", 7712)
	v.SetDefault("ports.stream_desktop", 7713)

	v.SetDefault("sampler.interval_seconds", 1)
	v.SetDefault("sampler.alert_threshold", 90.0)
	v.SetDefault("sampler.alert_cooldown_seconds", 60)

	v.SetDefault("storage_root", "./storage")
	v.SetDefault("auto_install_enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics_listen", "127.0.0.1:9091")
}

// applyDefaults fills in hostname/IP auto-detection when the config omits
// them.
func (cfg *Config) applyDefaults() error {
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolving hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	if cfg.Node.IP == "" {
		ip, err := autoDetectIP()
		if err != nil {
			return err
		}
		cfg.Node.IP = ip
	}

	return nil
}

// autoDetectIP returns the first non-loopback, non-link-local IPv4 address
// found on an up interface.
func autoDetectIP() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || (ip4[0] == 169 && ip4[1] == 254) {
				continue
			}
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no usable network interface found; set node.ip or FLEETCTL_NODE_IP")
}
