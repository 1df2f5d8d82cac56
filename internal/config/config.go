// Package config loads rolodex settings from defaults, an optional YAML
// file and ROLODEX_* environment variables, and checks the result against
// an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override, e.g. ROLODEX_DATABASE or
// ROLODEX_WORKER_QUEUE_SIZE.
const EnvPrefix = "ROLODEX"

// Keys.
const (
	KeyDatabase             = "database"
	KeyLogLevel             = "log_level"
	KeyMergePresenceChanges = "merge_presence_changes"
	KeyWorkerQueueSize      = "worker.queue_size"
	KeyWorkerWaitTimeout    = "worker.wait_timeout"
	KeyNotifyRedisURL       = "notify.redis_url"
	KeyNotifyChannel        = "notify.channel"
	KeyMetricsEnabled       = "metrics.enabled"
	KeyMetricsAddr          = "metrics.addr"
)

// Config is the merged configuration.
type Config struct {
	Database             string        `mapstructure:"database" json:"database" yaml:"database"`
	LogLevel             string        `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	MergePresenceChanges bool          `mapstructure:"merge_presence_changes" json:"merge_presence_changes" yaml:"merge_presence_changes"`
	Worker               WorkerConfig  `mapstructure:"worker" json:"worker" yaml:"worker"`
	Notify               NotifyConfig  `mapstructure:"notify" json:"notify" yaml:"notify"`
	Metrics              MetricsConfig `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
}

// WorkerConfig tunes the write scheduler.
type WorkerConfig struct {
	QueueSize   int           `mapstructure:"queue_size" json:"queue_size" yaml:"queue_size"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout" json:"wait_timeout" yaml:"wait_timeout"`
}

// NotifyConfig controls change-set fan-out. An empty RedisURL keeps
// notifications in process.
type NotifyConfig struct {
	RedisURL string `mapstructure:"redis_url" json:"redis_url" yaml:"redis_url"`
	Channel  string `mapstructure:"channel" json:"channel" yaml:"channel"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr" yaml:"addr"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Database: "rolodex.db",
		LogLevel: "warn",
		Worker: WorkerConfig{
			QueueSize:   256,
			WaitTimeout: 30 * time.Second,
		},
		Notify: NotifyConfig{
			Channel: "rolodex:changes",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault(KeyDatabase, d.Database)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyMergePresenceChanges, d.MergePresenceChanges)
	v.SetDefault(KeyWorkerQueueSize, d.Worker.QueueSize)
	v.SetDefault(KeyWorkerWaitTimeout, d.Worker.WaitTimeout)
	v.SetDefault(KeyNotifyRedisURL, d.Notify.RedisURL)
	v.SetDefault(KeyNotifyChannel, d.Notify.Channel)
	v.SetDefault(KeyMetricsEnabled, d.Metrics.Enabled)
	v.SetDefault(KeyMetricsAddr, d.Metrics.Addr)
}

// Load merges defaults, the YAML file at path and the environment. An
// empty path skips the file; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	val := def.Unify(ctx.Encode(c))
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// YAML renders c as a config file.
func (c Config) YAML() ([]byte, error) {
	var b strings.Builder
	b.WriteString("# rolodex configuration\n")
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return []byte(b.String()), nil
}

// IsNotFound reports whether err means the named config file is missing.
func IsNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}
