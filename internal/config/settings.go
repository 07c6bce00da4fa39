package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultServerAddress  = "127.0.0.1:7788"
	defaultAgentCommand   = "claude"
	defaultPermissionMode = "acceptEdits"
	defaultTickInterval   = 3 * time.Second
	minTickInterval       = 100 * time.Millisecond
	defaultRelaySubject   = "autoboard"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	envPrefix             = "AUTOBOARD"
)

const (
	StorageBackendSQLite = "sqlite"
	StorageBackendBbolt  = "bbolt"

	RelayBackendRedis = "redis"
	RelayBackendNATS  = "nats"
)

type CoreConfig struct {
	Server   CoreServerConfig   `toml:"server" mapstructure:"server"`
	Storage  CoreStorageConfig  `toml:"storage" mapstructure:"storage"`
	Logging  CoreLoggingConfig  `toml:"logging" mapstructure:"logging"`
	Agent    CoreAgentConfig    `toml:"agent" mapstructure:"agent"`
	AutoMode CoreAutoModeConfig `toml:"auto_mode" mapstructure:"auto_mode"`
	Runs     CoreRunsConfig     `toml:"runs" mapstructure:"runs"`
	Relay    CoreRelayConfig    `toml:"relay" mapstructure:"relay"`
}

type CoreServerConfig struct {
	Address string `toml:"address" mapstructure:"address"`
}

type CoreStorageConfig struct {
	Backend string `toml:"backend" mapstructure:"backend"`
	Path    string `toml:"path" mapstructure:"path"`
}

type CoreLoggingConfig struct {
	Level  string `toml:"level" mapstructure:"level"`
	Format string `toml:"format" mapstructure:"format"`
}

type CoreAgentConfig struct {
	Command        string `toml:"command" mapstructure:"command"`
	DefaultModel   string `toml:"default_model" mapstructure:"default_model"`
	PermissionMode string `toml:"permission_mode" mapstructure:"permission_mode"`
}

type CoreAutoModeConfig struct {
	TickInterval string `toml:"tick_interval" mapstructure:"tick_interval"`
}

type CoreRunsConfig struct {
	ReconcileOnStart bool `toml:"reconcile_on_start" mapstructure:"reconcile_on_start"`
}

type CoreRelayConfig struct {
	Backend       string `toml:"backend" mapstructure:"backend"`
	URL           string `toml:"url" mapstructure:"url"`
	SubjectPrefix string `toml:"subject_prefix" mapstructure:"subject_prefix"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Server:   CoreServerConfig{Address: defaultServerAddress},
		Storage:  CoreStorageConfig{Backend: StorageBackendSQLite},
		Logging:  CoreLoggingConfig{Level: defaultLogLevel, Format: defaultLogFormat},
		Agent:    CoreAgentConfig{Command: defaultAgentCommand, PermissionMode: defaultPermissionMode},
		AutoMode: CoreAutoModeConfig{TickInterval: defaultTickInterval.String()},
		Relay:    CoreRelayConfig{SubjectPrefix: defaultRelaySubject},
	}
}

// LoadCoreConfig reads ~/.autoboard/config.toml and applies AUTOBOARD_*
// environment overrides. A missing file yields the defaults.
func LoadCoreConfig() (CoreConfig, error) {
	dataDir, err := DataDir()
	if err != nil {
		return CoreConfig{}, err
	}
	v := viper.New()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(dataDir)
	return loadCoreConfig(v)
}

func LoadCoreConfigFromPath(path string) (CoreConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return CoreConfig{}, errors.New("path is required")
	}
	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	v.SetConfigType(configFileType)
	v.AddConfigPath(filepath.Dir(path))
	return loadCoreConfig(v)
}

func loadCoreConfig(v *viper.Viper) (CoreConfig, error) {
	setDefaults(v, DefaultCoreConfig())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return CoreConfig{}, fmt.Errorf("read config file: %w", err)
		}
	}
	var cfg CoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return CoreConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg CoreConfig) {
	v.SetDefault("server.address", cfg.Server.Address)
	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("agent.command", cfg.Agent.Command)
	v.SetDefault("agent.default_model", cfg.Agent.DefaultModel)
	v.SetDefault("agent.permission_mode", cfg.Agent.PermissionMode)
	v.SetDefault("auto_mode.tick_interval", cfg.AutoMode.TickInterval)
	v.SetDefault("runs.reconcile_on_start", cfg.Runs.ReconcileOnStart)
	v.SetDefault("relay.backend", cfg.Relay.Backend)
	v.SetDefault("relay.url", cfg.Relay.URL)
	v.SetDefault("relay.subject_prefix", cfg.Relay.SubjectPrefix)
}

func (c CoreConfig) ServerAddress() string {
	addr := strings.TrimSpace(c.Server.Address)
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultServerAddress
	}
	return addr
}

func (c CoreConfig) ServerBaseURL() string {
	return "http://" + c.ServerAddress()
}

func (c CoreConfig) StorageBackend() string {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case StorageBackendBbolt:
		return StorageBackendBbolt
	default:
		return StorageBackendSQLite
	}
}

// StoragePath resolves the database file for the configured backend.
func (c CoreConfig) StoragePath() (string, error) {
	if path := strings.TrimSpace(c.Storage.Path); path != "" {
		return resolveConfigPath(path)
	}
	if c.StorageBackend() == StorageBackendBbolt {
		return BboltPath()
	}
	return SQLitePath()
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return defaultLogLevel
	}
	return level
}

func (c CoreConfig) LogFormat() string {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format != "json" {
		return defaultLogFormat
	}
	return format
}

func (c CoreConfig) AgentCommand() string {
	cmd := strings.TrimSpace(c.Agent.Command)
	if cmd == "" {
		return defaultAgentCommand
	}
	return cmd
}

func (c CoreConfig) AgentDefaultModel() string {
	return strings.TrimSpace(c.Agent.DefaultModel)
}

func (c CoreConfig) AgentPermissionMode() string {
	mode := strings.TrimSpace(c.Agent.PermissionMode)
	if mode == "" {
		return defaultPermissionMode
	}
	return mode
}

func (c CoreConfig) AutoModeTickInterval() time.Duration {
	raw := strings.TrimSpace(c.AutoMode.TickInterval)
	if raw == "" {
		return defaultTickInterval
	}
	interval, err := time.ParseDuration(raw)
	if err != nil || interval < minTickInterval {
		return defaultTickInterval
	}
	return interval
}

func (c CoreConfig) ReconcileOnStart() bool {
	return c.Runs.ReconcileOnStart
}

func (c CoreConfig) RelayBackend() string {
	switch strings.ToLower(strings.TrimSpace(c.Relay.Backend)) {
	case RelayBackendRedis:
		return RelayBackendRedis
	case RelayBackendNATS:
		return RelayBackendNATS
	default:
		return ""
	}
}

func (c CoreConfig) RelayURL() string {
	return strings.TrimSpace(c.Relay.URL)
}

func (c CoreConfig) RelaySubjectPrefix() string {
	prefix := strings.Trim(strings.TrimSpace(c.Relay.SubjectPrefix), ".")
	if prefix == "" {
		return defaultRelaySubject
	}
	return prefix
}

func resolveConfigPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, path), nil
}
