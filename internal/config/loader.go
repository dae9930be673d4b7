package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigLoader layers defaults, a config file, and environment
// variables into a Config via viper.
type ConfigLoader struct {
	configPath string
	envPrefix  string
	viper      *viper.Viper
}

// NewConfigLoader creates a loader. envPrefix defaults to "ZSCAN".
func NewConfigLoader(configPath, envPrefix string) *ConfigLoader {
	if envPrefix == "" {
		envPrefix = "ZSCAN"
	}

	return &ConfigLoader{
		configPath: configPath,
		envPrefix:  envPrefix,
		viper:      viper.New(),
	}
}

// LoadConfig runs the full defaults -> file -> env -> validate pipeline.
func (cl *ConfigLoader) LoadConfig() (*Config, error) {
	cl.viper.SetConfigType("yaml")

	cl.viper.SetEnvPrefix(cl.envPrefix)
	cl.viper.AutomaticEnv()
	cl.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cl.bindEnvVars()
	cl.setDefaults()

	if err := cl.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	var cfg Config
	if err := cl.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadConfigFile searches the configured path (or ./configs) for an
// environment-specific config file, falling back to a bare
// config.yaml, and tolerates there being none at all.
func (cl *ConfigLoader) loadConfigFile() error {
	if cl.configPath == "" {
		if envPath := os.Getenv("ZSCAN_CONFIG_PATH"); envPath != "" {
			cl.configPath = envPath
		} else {
			cl.configPath = "./configs"
		}
	}

	env := cl.getEnvironment()

	cl.viper.AddConfigPath(cl.configPath)
	cl.viper.AddConfigPath("./configs")
	cl.viper.AddConfigPath(".")

	cl.viper.SetConfigName(fmt.Sprintf("config.%s", env))
	if err := cl.viper.ReadInConfig(); err != nil {
		cl.viper.SetConfigName("config")
		if err := cl.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				return nil
			}
			return fmt.Errorf("config file not found: %w", err)
		}
	}

	return nil
}

func (cl *ConfigLoader) getEnvironment() string {
	env := os.Getenv("ZSCAN_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	if env == "" {
		env = "development"
	}
	return env
}

func (cl *ConfigLoader) bindEnvVars() {
	cl.viper.BindEnv("app.name", "ZSCAN_APP_NAME")
	cl.viper.BindEnv("app.environment", "ZSCAN_APP_ENVIRONMENT")
	cl.viper.BindEnv("app.debug", "ZSCAN_APP_DEBUG")

	cl.viper.BindEnv("log.level", "ZSCAN_LOG_LEVEL")
	cl.viper.BindEnv("log.file_path", "ZSCAN_LOG_FILE_PATH")

	cl.viper.BindEnv("scan.probe_module", "ZSCAN_PROBE_MODULE")
	cl.viper.BindEnv("scan.rate", "ZSCAN_RATE")
	cl.viper.BindEnv("scan.senders", "ZSCAN_SENDERS")
	cl.viper.BindEnv("scan.shard_num", "ZSCAN_SHARD_NUM")
	cl.viper.BindEnv("scan.total_shards", "ZSCAN_TOTAL_SHARDS")

	cl.viper.BindEnv("network.interface", "ZSCAN_INTERFACE")
	cl.viper.BindEnv("network.source_ip", "ZSCAN_SOURCE_IP")

	cl.viper.BindEnv("output.type", "ZSCAN_OUTPUT_TYPE")
	cl.viper.BindEnv("output.path", "ZSCAN_OUTPUT_PATH")

	cl.viper.BindEnv("telemetry.redis_url", "ZSCAN_REDIS_URL")
}

func (cl *ConfigLoader) setDefaults() {
	cl.viper.SetDefault("app.name", "zscan")
	cl.viper.SetDefault("app.version", "0.1.0")
	cl.viper.SetDefault("app.environment", "development")
	cl.viper.SetDefault("app.debug", false)

	cl.viper.SetDefault("server.enabled", false)
	cl.viper.SetDefault("server.host", "127.0.0.1")
	cl.viper.SetDefault("server.port", 8787)

	cl.viper.SetDefault("log.level", "info")
	cl.viper.SetDefault("log.format", "json")
	cl.viper.SetDefault("log.output", "stdout")
	cl.viper.SetDefault("log.file_path", "./logs/zscan.log")
	cl.viper.SetDefault("log.max_size", 100)
	cl.viper.SetDefault("log.max_backups", 3)
	cl.viper.SetDefault("log.max_age", 28)
	cl.viper.SetDefault("log.compress", true)
	cl.viper.SetDefault("log.caller", false)

	cl.viper.SetDefault("scan.probe_module", "tcp_syn")
	cl.viper.SetDefault("scan.rate", 10000.0)
	cl.viper.SetDefault("scan.senders", 1)
	cl.viper.SetDefault("scan.packet_streams", 1)
	cl.viper.SetDefault("scan.shard_num", 0)
	cl.viper.SetDefault("scan.total_shards", 1)
	cl.viper.SetDefault("scan.max_runtime", "0s")
	cl.viper.SetDefault("scan.cooldown_secs", "8s")
	cl.viper.SetDefault("scan.retries", 0)
	cl.viper.SetDefault("scan.batch_size", 1)
	cl.viper.SetDefault("scan.source_port_first", 32768)
	cl.viper.SetDefault("scan.source_port_last", 61000)
	cl.viper.SetDefault("scan.probe_ttl", 64)

	cl.viper.SetDefault("output.type", "csv")
	cl.viper.SetDefault("output.path", "results.csv")

	cl.viper.SetDefault("telemetry.enabled", false)
	cl.viper.SetDefault("telemetry.channel", "zscan:stats")
	cl.viper.SetDefault("telemetry.interval", "5s")
}

// GetConfigPath returns the config file viper actually read, empty if
// none was found.
func (cl *ConfigLoader) GetConfigPath() string {
	return cl.viper.ConfigFileUsed()
}

// LoadConfigFromFile loads configuration rooted at a specific file
// path rather than a search directory.
func LoadConfigFromFile(configFile string) (*Config, error) {
	loader := NewConfigLoader(filepath.Dir(configFile), "ZSCAN")
	loader.viper.SetConfigFile(configFile)
	return loader.LoadConfig()
}
