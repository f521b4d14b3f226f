// Package config loads daemon settings from defaults, an optional
// YAML file, and environment variable overrides, applied in that
// order.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	"gopkg.in/yaml.v3"

	"github.com/brian14708/awg-warden/confgen"
)

// Config is the full daemon configuration.
type Config struct {
	Interface  string `yaml:"interface"`   // AmneziaWG interface name
	ConfigPath string `yaml:"config_path"` // rendered server config location

	ServerPrivateKey string `yaml:"server_private_key"`
	ServerPublicKey  string `yaml:"server_public_key"` // derived at startup when empty

	Host   string `yaml:"host"` // public endpoint clients dial
	Port   int    `yaml:"port"`
	DNS    string `yaml:"dns"`
	Subnet string `yaml:"subnet"` // client /24, server takes .1

	NATInterface   string `yaml:"nat_interface"`
	ManageFirewall bool   `yaml:"manage_firewall"`

	StatsIntervalSec  int `yaml:"stats_interval"`  // reconciler tick, seconds
	CommandTimeoutSec int `yaml:"command_timeout"` // awg invocation deadline, seconds

	APIAddr  string `yaml:"api_addr"`
	LogLevel string `yaml:"log_level"`

	LinkDescription string  `yaml:"link_description"` // shown by the client app
	AdminIDs        []int64 `yaml:"admin_ids"`

	Obfuscation confgen.Obfuscation `yaml:"obfuscation"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Interface:         "awg0",
		ConfigPath:        "/etc/amneziawg/awg0.conf",
		Port:              51820,
		DNS:               "1.1.1.1",
		Subnet:            "10.8.0.0/24",
		NATInterface:      "eth0",
		StatsIntervalSec:  60,
		CommandTimeoutSec: 10,
		APIAddr:           "127.0.0.1:8686",
		LogLevel:          "info",
		LinkDescription:   "Amne Server",
		Obfuscation:       confgen.DefaultObfuscation(),
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when empty), and environment overrides. Malformed
// obfuscation overrides are logged and ignored; anything else
// malformed is an error.
func Load(path string, log *slog.Logger) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(log); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(log *slog.Logger) error {
	envString("AWG_INTERFACE", &c.Interface)
	envString("AWG_CONFIG_PATH", &c.ConfigPath)
	envString("SERVER_PRIVATE_KEY", &c.ServerPrivateKey)
	envString("SERVER_PUBLIC_KEY", &c.ServerPublicKey)
	envString("VPN_HOST", &c.Host)
	envString("VPN_DNS", &c.DNS)
	envString("VPN_SUBNET", &c.Subnet)
	envString("NAT_INTERFACE", &c.NATInterface)
	envString("API_ADDR", &c.APIAddr)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LINK_DESCRIPTION", &c.LinkDescription)

	if err := envInt("VPN_PORT", &c.Port); err != nil {
		return err
	}
	if err := envInt("STATS_INTERVAL", &c.StatsIntervalSec); err != nil {
		return err
	}
	if err := envInt("COMMAND_TIMEOUT", &c.CommandTimeoutSec); err != nil {
		return err
	}
	if err := envBool("MANAGE_FIREWALL", &c.ManageFirewall); err != nil {
		return err
	}

	if v, ok := os.LookupEnv("ADMIN_IDS"); ok {
		c.AdminIDs = parseAdminIDs(v, log)
	}
	c.applyObfuscationEnv(log)
	return nil
}

// applyObfuscationEnv overrides individual obfuscation parameters from
// AWG_<name> variables. Invalid values keep the current setting; a
// tunnel with half-applied junk parameters is worse than a default one.
func (c *Config) applyObfuscationEnv(log *slog.Logger) {
	params := []struct {
		name string
		dst  *int
	}{
		{"Jc", &c.Obfuscation.Jc},
		{"Jmin", &c.Obfuscation.Jmin},
		{"Jmax", &c.Obfuscation.Jmax},
		{"S1", &c.Obfuscation.S1},
		{"S2", &c.Obfuscation.S2},
		{"H1", &c.Obfuscation.H1},
		{"H2", &c.Obfuscation.H2},
		{"H3", &c.Obfuscation.H3},
		{"H4", &c.Obfuscation.H4},
	}
	for _, p := range params {
		key := "AWG_" + p.name
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn("invalid obfuscation override, keeping current value",
				"env", key, "value", v)
			continue
		}
		*p.dst = n
	}
}

// parseAdminIDs splits a comma-separated ID list, skipping entries
// that are not integers.
func parseAdminIDs(s string, log *slog.Logger) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Warn("skipping malformed admin id", "value", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("config: interface name must not be empty")
	}
	if c.ConfigPath == "" {
		return fmt.Errorf("config: config_path must not be empty")
	}
	if c.ServerPrivateKey == "" {
		return fmt.Errorf("config: server_private_key (SERVER_PRIVATE_KEY) is required")
	}
	if _, err := wgtypes.ParseKey(c.ServerPrivateKey); err != nil {
		return fmt.Errorf("config: server_private_key: %w", err)
	}
	if c.ServerPublicKey != "" {
		if _, err := wgtypes.ParseKey(c.ServerPublicKey); err != nil {
			return fmt.Errorf("config: server_public_key: %w", err)
		}
	}
	if c.Host == "" {
		return fmt.Errorf("config: host (VPN_HOST) is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	ip, ipnet, err := net.ParseCIDR(c.Subnet)
	if err != nil {
		return fmt.Errorf("config: subnet: %w", err)
	}
	if ones, bits := ipnet.Mask.Size(); bits != 32 || ones != 24 {
		return fmt.Errorf("config: subnet %s must be an IPv4 /24", c.Subnet)
	}
	if ip.To4() == nil {
		return fmt.Errorf("config: subnet %s must be IPv4", c.Subnet)
	}
	if c.StatsIntervalSec <= 0 {
		return fmt.Errorf("config: stats_interval must be positive")
	}
	if c.CommandTimeoutSec <= 0 {
		return fmt.Errorf("config: command_timeout must be positive")
	}
	if c.APIAddr == "" {
		return fmt.Errorf("config: api_addr must not be empty")
	}
	return nil
}

// StatsInterval returns the reconciler tick as a duration.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSec) * time.Second
}

// CommandTimeout returns the per-command deadline as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSec) * time.Second
}

// ServerAddress returns the interface address of the server inside the
// client subnet, e.g. "10.8.0.1/24" for subnet "10.8.0.0/24".
func (c *Config) ServerAddress() string {
	base, _ := c.SubnetBase()
	return fmt.Sprintf("%s.1/24", base)
}

// SubnetBase returns the first three octets of the client subnet,
// e.g. "10.8.0". Validate must have accepted the subnet first.
func (c *Config) SubnetBase() (string, error) {
	ip, _, err := net.ParseCIDR(c.Subnet)
	if err != nil {
		return "", fmt.Errorf("config: subnet: %w", err)
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("config: subnet %s must be IPv4", c.Subnet)
	}
	return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2]), nil
}

// Endpoint returns the "host:port" clients dial.
func (c *Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}
