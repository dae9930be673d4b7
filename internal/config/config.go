// Package config loads and validates the scanner's runtime
// configuration: CLI/file/env layered via viper, with an optional
// fsnotify watcher for the pieces that are safe to change between
// scan runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level scanner configuration.
type Config struct {
	App       *AppConfig       `yaml:"app" mapstructure:"app"`
	Server    *ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       *LogConfig       `yaml:"log" mapstructure:"log"`
	Scan      *ScanConfig      `yaml:"scan" mapstructure:"scan"`
	Network   *NetworkConfig   `yaml:"network" mapstructure:"network"`
	Output    *OutputConfig    `yaml:"output" mapstructure:"output"`
	Telemetry *TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// AppConfig identifies the binary and its run environment.
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Version     string `yaml:"version" mapstructure:"version"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`
}

// ServerConfig is the optional status/health HTTP server (off by
// default). When enabled it exposes GET /stats and GET /healthz for
// the running scan, nothing else.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host" mapstructure:"host"`
	Port    int    `yaml:"port" mapstructure:"port"`
}

// LogConfig controls the logrus + lumberjack logging pipeline.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"` // json/text
	Output     string `yaml:"output" mapstructure:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
	Caller     bool   `yaml:"caller" mapstructure:"caller"`
}

// ScanConfig is the body of the scan CLI surface.
type ScanConfig struct {
	ProbeModule string            `yaml:"probe_module" mapstructure:"probe_module"`
	ProbeArgs   map[string]string `yaml:"probe_args" mapstructure:"probe_args"`

	Rate          float64       `yaml:"rate" mapstructure:"rate"`
	Senders       int           `yaml:"senders" mapstructure:"senders"`
	PacketStreams int           `yaml:"packet_streams" mapstructure:"packet_streams"`
	ShardNum      int           `yaml:"shard_num" mapstructure:"shard_num"`
	TotalShards   int           `yaml:"total_shards" mapstructure:"total_shards"`
	MaxTargets    uint64        `yaml:"max_targets" mapstructure:"max_targets"`
	MaxPackets    uint64        `yaml:"max_packets" mapstructure:"max_packets"`
	MaxRuntime    time.Duration `yaml:"max_runtime" mapstructure:"max_runtime"`
	CooldownSecs  time.Duration `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	Retries       int           `yaml:"retries" mapstructure:"retries"`
	BatchSize     int           `yaml:"batch_size" mapstructure:"batch_size"`

	TargetPorts     []uint16 `yaml:"target_ports" mapstructure:"target_ports"`
	SourcePortFirst uint16   `yaml:"source_port_first" mapstructure:"source_port_first"`
	SourcePortLast  uint16   `yaml:"source_port_last" mapstructure:"source_port_last"`
	ProbeTTL        uint8    `yaml:"probe_ttl" mapstructure:"probe_ttl"`

	TargetsFile    string `yaml:"targets_file" mapstructure:"targets_file"`
	BlocklistFile  string `yaml:"blocklist_file" mapstructure:"blocklist_file"`
	AllowlistFile  string `yaml:"allowlist_file" mapstructure:"allowlist_file"`
	IPv6           bool   `yaml:"ipv6" mapstructure:"ipv6"`
	IPv6TargetFile string `yaml:"ipv6_target_file" mapstructure:"ipv6_target_file"`

	DryRun                     bool `yaml:"dryrun" mapstructure:"dryrun"`
	ValidateSourcePortOverride bool `yaml:"validate_source_port_override" mapstructure:"validate_source_port_override"`
}

// NetworkConfig describes the local interface the sender/receiver
// bind to.
type NetworkConfig struct {
	Interface  string `yaml:"interface" mapstructure:"interface"`
	GatewayMAC string `yaml:"gateway_mac" mapstructure:"gateway_mac"`
	SourceMAC  string `yaml:"source_mac" mapstructure:"source_mac"`
	SourceIP   string `yaml:"source_ip" mapstructure:"source_ip"`
	SourceIPv6 string `yaml:"source_ipv6" mapstructure:"source_ipv6"`
}

// OutputConfig selects and configures the result sink.
type OutputConfig struct {
	Type            string `yaml:"type" mapstructure:"type"` // csv/jsonl/sql/mongo
	Path            string `yaml:"path" mapstructure:"path"`
	SQLDSN          string `yaml:"sql_dsn" mapstructure:"sql_dsn"`
	MongoURI        string `yaml:"mongo_uri" mapstructure:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database" mapstructure:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection" mapstructure:"mongo_collection"`
}

// TelemetryConfig is the optional redis pub/sub stats exporter.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL string        `yaml:"redis_url" mapstructure:"redis_url"`
	Channel  string        `yaml:"channel" mapstructure:"channel"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// LoadConfig loads configuration from the given path (or the default
// search path if empty), layering file values over defaults and env
// overrides over file values.
func LoadConfig(configPath ...string) (*Config, error) {
	var path string
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	loader := NewConfigLoader(path, "ZSCAN")
	cfg, err := loader.LoadConfig()
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// loadConfigFile parses a YAML or JSON config file directly into cfg,
// without going through viper.
func loadConfigFile(cfg *Config, configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch filepath.Ext(configPath) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(configPath))
	}

	return nil
}

// validateConfig checks invariants the CLI layer cannot express via
// flag parsing alone (spec.md §6 "Validation").
func validateConfig(cfg *Config) error {
	if cfg.Scan.ProbeModule == "" {
		return fmt.Errorf("scan.probe_module is required")
	}
	if cfg.Scan.Rate < 0 {
		return fmt.Errorf("scan.rate must be >= 0")
	}
	if cfg.Scan.Senders <= 0 {
		return fmt.Errorf("scan.senders must be > 0")
	}
	if cfg.Scan.PacketStreams <= 0 {
		return fmt.Errorf("scan.packet_streams must be > 0")
	}
	if cfg.Scan.TotalShards <= 0 || cfg.Scan.ShardNum < 0 || cfg.Scan.ShardNum >= cfg.Scan.TotalShards {
		return fmt.Errorf("scan.shard_num must be in [0, total_shards)")
	}
	if cfg.Server != nil && cfg.Server.Enabled && (cfg.Server.Port <= 0 || cfg.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	return nil
}

// globalConfig holds the process-wide configuration singleton.
var globalConfig *Config

// GetConfig returns the loaded configuration, loading it from the
// default search path on first use.
func GetConfig() *Config {
	if globalConfig == nil {
		cfg, err := LoadConfig("")
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
		globalConfig = cfg
	}
	return globalConfig
}

// ReloadConfig re-reads configuration from the default search path
// and replaces the global singleton.
func ReloadConfig() error {
	cfg, err := LoadConfig("")
	if err != nil {
		return err
	}
	globalConfig = cfg
	return nil
}
