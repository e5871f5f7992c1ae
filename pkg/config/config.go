package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		TLS  struct {
			Enabled  bool   `yaml:"enabled"`
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
	} `yaml:"server"`
	Storage struct {
		// Root is the shared directory (or mounted bucket) backing the pull
		// transport.
		Root string `yaml:"root"`
		// HistoryPath is the broker-local Pebble database for relayed
		// message history.
		HistoryPath string `yaml:"history_path"`
	} `yaml:"storage"`
	Presence struct {
		TTL               Duration `yaml:"ttl"`
		HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	} `yaml:"presence"`
	Sync struct {
		PollInterval Duration `yaml:"poll_interval"`
	} `yaml:"sync"`
	Retention struct {
		Enabled bool     `yaml:"enabled"`
		Cron    string   `yaml:"cron"`
		Period  Duration `yaml:"period"`
	} `yaml:"retention"`
	Limits struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"limits"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Defaults observed across both transports.
const (
	DefaultPort              = 8765
	DefaultPresenceTTL       = 300 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPollInterval      = 3 * time.Second
	DefaultRetentionCron     = "0 2 * * *"
	DefaultRetentionPeriod   = 7 * 24 * time.Hour
)

// Addr returns host:port for the broker listener.
func (c *Config) Addr() string {
	host := c.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = DefaultPort
	}
	return fmt.Sprintf("%s:%d", host, p)
}

// ApplyDefaults fills unset interval/TTL values.
func (c *Config) ApplyDefaults() {
	if c.Presence.TTL == 0 {
		c.Presence.TTL = Duration(DefaultPresenceTTL)
	}
	if c.Presence.HeartbeatInterval == 0 {
		c.Presence.HeartbeatInterval = Duration(DefaultHeartbeatInterval)
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = Duration(DefaultPollInterval)
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = DefaultRetentionCron
	}
	if c.Retention.Period == 0 {
		c.Retention.Period = Duration(DefaultRetentionPeriod)
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "./.driftchat"
	}
	if c.Storage.HistoryPath == "" {
		c.Storage.HistoryPath = "./.driftchat-history"
	}
}

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Flags holds parsed command-line values plus which flags were explicitly
// set, so flags can win over env and file values.
type Flags struct {
	Host    string
	Port    int
	SSL     bool
	Cert    string
	Key     string
	Config  string
	Root    string
	History string
	Set     map[string]bool
}

// ParseCommandFlags defines and parses the broker's command-line flags.
func ParseCommandFlags() Flags {
	host := flag.String("host", "0.0.0.0", "listen host")
	port := flag.Int("port", DefaultPort, "listen port")
	ssl := flag.Bool("ssl", false, "enable TLS")
	cert := flag.String("cert", "", "TLS certificate file")
	key := flag.String("key", "", "TLS key file")
	cfg := flag.String("config", "./config.yaml", "path to config file")
	root := flag.String("root", "", "shared storage root for the pull transport")
	hist := flag.String("history", "", "Pebble history DB path")
	flag.Parse()
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{
		Host: *host, Port: *port, SSL: *ssl, Cert: *cert, Key: *key,
		Config: *cfg, Root: *root, History: *hist, Set: set,
	}
}

// ResolveConfigPath decides the config file path: explicit flag wins, then
// DRIFTCHAT_CONFIG, then the flag default.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("DRIFTCHAT_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEnvOverrides applies DRIFTCHAT_* environment overrides onto cfg and
// reports whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	used := false
	if v := os.Getenv("DRIFTCHAT_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Host = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Host = v
		}
	} else {
		if h := os.Getenv("DRIFTCHAT_HOST"); h != "" {
			used = true
			cfg.Server.Host = h
		}
		if p := os.Getenv("DRIFTCHAT_PORT"); p != "" {
			used = true
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		}
	}
	if v := os.Getenv("DRIFTCHAT_ROOT"); v != "" {
		used = true
		cfg.Storage.Root = v
	}
	if v := os.Getenv("DRIFTCHAT_HISTORY_PATH"); v != "" {
		used = true
		cfg.Storage.HistoryPath = v
	}
	if v := os.Getenv("DRIFTCHAT_TLS_CERT"); v != "" {
		used = true
		cfg.Server.TLS.CertFile = v
	}
	if v := os.Getenv("DRIFTCHAT_TLS_KEY"); v != "" {
		used = true
		cfg.Server.TLS.KeyFile = v
	}
	if v := os.Getenv("DRIFTCHAT_PRESENCE_TTL"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.Presence.TTL = Duration(d)
		}
	}
	if v := os.Getenv("DRIFTCHAT_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.Sync.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("DRIFTCHAT_RETENTION_CRON"); v != "" {
		used = true
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("DRIFTCHAT_RETENTION_PERIOD"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.Retention.Period = Duration(d)
		}
	}
	if v := os.Getenv("DRIFTCHAT_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			used = true
			cfg.Limits.RPS = f
		}
	}
	if v := os.Getenv("DRIFTCHAT_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.Limits.Burst = n
		}
	}
	if v := os.Getenv("DRIFTCHAT_LOG_LEVEL"); v != "" {
		used = true
		cfg.Logging.Level = v
	}
	return used
}

// LoadEffective loads the config file (missing file yields an empty config),
// applies env overrides, then the explicitly set flags, then defaults.
func LoadEffective(fl Flags) (*Config, error) {
	cfgPath := ResolveConfigPath(fl.Config, fl.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		cfg = &Config{}
	}
	LoadEnvOverrides(cfg)
	if fl.Set["host"] {
		cfg.Server.Host = fl.Host
	}
	if fl.Set["port"] {
		cfg.Server.Port = fl.Port
	}
	if fl.Set["ssl"] {
		cfg.Server.TLS.Enabled = fl.SSL
	}
	if fl.Set["cert"] {
		cfg.Server.TLS.CertFile = fl.Cert
	}
	if fl.Set["key"] {
		cfg.Server.TLS.KeyFile = fl.Key
	}
	if fl.Set["root"] {
		cfg.Storage.Root = fl.Root
	}
	if fl.Set["history"] {
		cfg.Storage.HistoryPath = fl.History
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" && fl.SSL {
		cfg.Server.TLS.Enabled = true
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ValidateTLS enforces the startup contract: TLS enabled without both cert
// and key files is a fatal configuration error.
func (c *Config) ValidateTLS() error {
	if !c.Server.TLS.Enabled {
		return nil
	}
	if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
		return fmt.Errorf("tls enabled but cert/key not configured")
	}
	return nil
}
