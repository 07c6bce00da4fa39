package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"autoboard/internal/config"
)

const (
	configFormatJSON = "json"
	configFormatTOML = "toml"
	configFormatYAML = "yaml"
)

type configOutput struct {
	ConfigPath string                `json:"config_path,omitempty" toml:"config_path,omitempty" yaml:"config_path,omitempty"`
	Server     effectiveServerConfig `json:"server" toml:"server" yaml:"server"`
	Storage    effectiveStorage      `json:"storage" toml:"storage" yaml:"storage"`
	Logging    effectiveLogging      `json:"logging" toml:"logging" yaml:"logging"`
	Agent      effectiveAgent        `json:"agent" toml:"agent" yaml:"agent"`
	AutoMode   effectiveAutoMode     `json:"auto_mode" toml:"auto_mode" yaml:"auto_mode"`
	Runs       effectiveRuns         `json:"runs" toml:"runs" yaml:"runs"`
	Relay      effectiveRelay        `json:"relay" toml:"relay" yaml:"relay"`
}

type effectiveServerConfig struct {
	Address string `json:"address" toml:"address" yaml:"address"`
	BaseURL string `json:"base_url" toml:"base_url" yaml:"base_url"`
}

type effectiveStorage struct {
	Backend string `json:"backend" toml:"backend" yaml:"backend"`
	Path    string `json:"path" toml:"path" yaml:"path"`
}

type effectiveLogging struct {
	Level  string `json:"level" toml:"level" yaml:"level"`
	Format string `json:"format" toml:"format" yaml:"format"`
}

type effectiveAgent struct {
	Command        string `json:"command" toml:"command" yaml:"command"`
	DefaultModel   string `json:"default_model" toml:"default_model" yaml:"default_model"`
	PermissionMode string `json:"permission_mode" toml:"permission_mode" yaml:"permission_mode"`
}

type effectiveAutoMode struct {
	TickInterval string `json:"tick_interval" toml:"tick_interval" yaml:"tick_interval"`
}

type effectiveRuns struct {
	ReconcileOnStart bool `json:"reconcile_on_start" toml:"reconcile_on_start" yaml:"reconcile_on_start"`
}

type effectiveRelay struct {
	Backend       string `json:"backend" toml:"backend" yaml:"backend"`
	URL           string `json:"url" toml:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" toml:"subject_prefix" yaml:"subject_prefix"`
}

func newConfigCmd(env *commandEnv) *cobra.Command {
	var defaults bool
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective (or default) configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved, err := resolveConfigFormat(format)
			if err != nil {
				return err
			}
			cfg := config.DefaultCoreConfig()
			if !defaults {
				cfg, err = env.wiring.loadConfig()
				if err != nil {
					return err
				}
			}
			payload, err := buildConfigOutput(cfg)
			if err != nil {
				return err
			}
			return writeConfigOutput(cmd.OutOrStdout(), resolved, payload)
		},
	}
	cmd.Flags().BoolVar(&defaults, "default", false, "print default config values")
	cmd.Flags().StringVar(&format, "format", configFormatJSON, "output format: json|toml|yaml")
	return cmd
}

func buildConfigOutput(cfg config.CoreConfig) (configOutput, error) {
	path, err := config.CoreConfigPath()
	if err != nil {
		return configOutput{}, err
	}
	dbPath, err := cfg.StoragePath()
	if err != nil {
		return configOutput{}, err
	}
	return configOutput{
		ConfigPath: path,
		Server: effectiveServerConfig{
			Address: cfg.ServerAddress(),
			BaseURL: cfg.ServerBaseURL(),
		},
		Storage: effectiveStorage{Backend: cfg.StorageBackend(), Path: dbPath},
		Logging: effectiveLogging{Level: cfg.LogLevel(), Format: cfg.LogFormat()},
		Agent: effectiveAgent{
			Command:        cfg.AgentCommand(),
			DefaultModel:   cfg.AgentDefaultModel(),
			PermissionMode: cfg.AgentPermissionMode(),
		},
		AutoMode: effectiveAutoMode{TickInterval: cfg.AutoModeTickInterval().String()},
		Runs:     effectiveRuns{ReconcileOnStart: cfg.ReconcileOnStart()},
		Relay: effectiveRelay{
			Backend:       cfg.RelayBackend(),
			URL:           cfg.RelayURL(),
			SubjectPrefix: cfg.RelaySubjectPrefix(),
		},
	}, nil
}

func writeConfigOutput(out io.Writer, format string, payload any) error {
	switch format {
	case configFormatTOML:
		data, err := toml.Marshal(payload)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case configFormatYAML:
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(payload); err != nil {
			return err
		}
		return encoder.Close()
	default:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(payload)
	}
}

func resolveConfigFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", configFormatJSON:
		return configFormatJSON, nil
	case configFormatTOML:
		return configFormatTOML, nil
	case configFormatYAML, "yml":
		return configFormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported format %q (expected json, toml or yaml)", raw)
	}
}
