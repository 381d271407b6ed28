package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dshills/opsflow/workflow"
	"github.com/dshills/opsflow/workflow/store"
)

// Config is the CLI configuration, read from opsflow.yaml and OPSFLOW_*
// environment variables.
type Config struct {
	Store    StoreConfig   `mapstructure:"store"`
	Packs    PacksConfig   `mapstructure:"packs"`
	Auth     AuthConfig    `mapstructure:"auth"`
	Policies PolicyConfig  `mapstructure:"policies"`
	Emit     EmitConfig    `mapstructure:"emit"`
	Log      LogConfig     `mapstructure:"log"`
	Metrics  MetricsConfig `mapstructure:"metrics"`

	// Org and Actor scope every command. Usually passed as flags.
	Org   string `mapstructure:"org"`
	Actor string `mapstructure:"actor"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type PacksConfig struct {
	// Dir holds extra YAML pack files merged over the built-in packs.
	Dir string `mapstructure:"dir"`
}

type AuthConfig struct {
	Admins []string `mapstructure:"admins"`
}

type PolicyConfig struct {
	// Parallel lists workflow types whose runs use the parallel policy.
	Parallel []string `mapstructure:"parallel"`
}

type EmitConfig struct {
	Format string `mapstructure:"format"` // text, json or none
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.dsn", "opsflow.db")
	v.SetDefault("packs.dir", "")
	v.SetDefault("auth.admins", []string{})
	v.SetDefault("policies.parallel", []string{})
	v.SetDefault("emit.format", "text")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("org", "")
	v.SetDefault("actor", "")
}

// loadConfig reads configFile, or opsflow.yaml from the working directory
// and $HOME/.opsflow when configFile is empty. A missing default file is
// not an error.
func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("OPSFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("opsflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.opsflow")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Emit.Format {
	case "text", "json", "none":
	default:
		return fmt.Errorf("emit.format must be text, json or none, got %q", c.Emit.Format)
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	for _, t := range c.Policies.Parallel {
		if strings.TrimSpace(t) == "" {
			return errors.New("policies.parallel contains an empty workflow type")
		}
	}
	return nil
}

// engineOptions translates the config into engine options.
func (c Config) engineOptions() []workflow.Option {
	opts := []workflow.Option{
		workflow.WithAuthorizer(workflow.NewStaticAdmins(c.Auth.Admins...)),
	}
	for _, t := range c.Policies.Parallel {
		opts = append(opts, workflow.WithPolicy(workflow.WorkflowType(strings.TrimSpace(t)), workflow.ParallelRunPolicy))
	}
	return opts
}

func newLogger(cfg LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
