// Package config loads the bridge configuration from a YAML file, an
// optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/cfbridge/pkg/broker"
	"github.com/edgeflare/cfbridge/pkg/changefeed"
	"github.com/edgeflare/cfbridge/pkg/cursor"
	"github.com/edgeflare/cfbridge/pkg/util"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every config key read from the environment, e.g.
// CFBRIDGE_BROKER_CONNECTOR.
const EnvPrefix = "CFBRIDGE"

// DefaultShutdownTimeout bounds the publisher drain on interrupt.
const DefaultShutdownTimeout = 30 * time.Second

// Config holds application-wide configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Broker     broker.Config    `mapstructure:"broker"`
	Cursor     cursor.Config    `mapstructure:"cursor"`
	Changefeed ChangefeedConfig `mapstructure:"changefeed"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	// Tables to follow, one consumer each.
	Tables          []string      `mapstructure:"tables"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	ConnectTimeout  time.Duration `mapstructure:"connectTimeout"`
	MaxConnLifetime time.Duration `mapstructure:"maxConnLifetime"`
	MinConns        int32         `mapstructure:"minConns"`
	MaxConns        int32         `mapstructure:"maxConns"`
}

// ChangefeedConfig applies to every table.
type ChangefeedConfig struct {
	Statement string `mapstructure:"statement"`
	Envelope  string `mapstructure:"envelope"`
	// Cursor is the initial resume token for tables without a stored cursor.
	Cursor   string        `mapstructure:"cursor"`
	Resolved time.Duration `mapstructure:"resolved"`
}

type RetryConfig struct {
	// Stream paces changefeed resubscription.
	Stream util.RetryConfig `mapstructure:"stream"`
	// Broker bounds connect and publish retries before the bridge gives up.
	Broker util.RetryConfig `mapstructure:"broker"`
}

type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Broker: broker.Config{Connector: broker.DefaultConnector},
		Cursor: cursor.Config{
			Backend: cursor.BackendPostgres,
			Table:   cursor.DefaultTable,
			Dialect: cursor.DialectCockroach,
		},
		Changefeed: ChangefeedConfig{
			Statement: changefeed.DefaultStatement,
			Envelope:  string(changefeed.EnvelopeRow),
			Resolved:  changefeed.DefaultResolved,
		},
		Retry: RetryConfig{
			Stream: util.DefaultRetryConfig(),
			Broker: broker.DefaultRetry(),
		},
		Metrics:         MetricsConfig{Addr: ":9100"},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// plainEnv binds the unprefixed variable names the bridge has always read.
var plainEnv = map[string]string{
	"database.url":    "DATABASE_URL",
	"tables":          "TABLES",
	"broker.url":      "AMQP_URL",
	"broker.exchange": "AMQP_EXCHANGE",
}

// Load reads config from file or environment. cfgFile may be empty, in which
// case cfbridge.yaml is looked up in $HOME/.config and the working
// directory. Variables from a .env file in the working directory are
// exported unless already set.
func Load(cfgFile string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("cfbridge")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range plainEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		zap.L().Info("using config file", zap.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Tables = normalizeTables(cfg.Tables)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("database.url", "")
	v.SetDefault("database.connectTimeout", 0)
	v.SetDefault("database.maxConnLifetime", 0)
	v.SetDefault("database.minConns", 0)
	v.SetDefault("database.maxConns", 0)
	v.SetDefault("tables", []string{})

	v.SetDefault("broker.connector", def.Broker.Connector)
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.exchange", "")

	v.SetDefault("cursor.backend", def.Cursor.Backend)
	v.SetDefault("cursor.table", def.Cursor.Table)
	v.SetDefault("cursor.dialect", string(def.Cursor.Dialect))
	v.SetDefault("cursor.path", "")

	v.SetDefault("changefeed.statement", def.Changefeed.Statement)
	v.SetDefault("changefeed.envelope", def.Changefeed.Envelope)
	v.SetDefault("changefeed.cursor", "")
	v.SetDefault("changefeed.resolved", def.Changefeed.Resolved)

	for name, r := range map[string]util.RetryConfig{"stream": def.Retry.Stream, "broker": def.Retry.Broker} {
		v.SetDefault("retry."+name+".initialInterval", r.InitialInterval)
		v.SetDefault("retry."+name+".maxInterval", r.MaxInterval)
		v.SetDefault("retry."+name+".maxElapsedTime", r.MaxElapsedTime)
		v.SetDefault("retry."+name+".multiplier", r.Multiplier)
	}

	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.addr", def.Metrics.Addr)
	v.SetDefault("shutdownTimeout", def.ShutdownTimeout)
}

// LoadDotEnv exports the variables of a dotenv file that are not already
// set. A missing file is not an error.
func LoadDotEnv(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading %s: %w", path, err)
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return fmt.Errorf("export %s: %w", name, err)
		}
	}
	return nil
}

func normalizeTables(tables []string) []string {
	out := make([]string, 0, len(tables))
	seen := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

var (
	ErrNoDatabaseURL = errors.New("config: database url is required (DATABASE_URL)")
	ErrNoTables      = errors.New("config: at least one table is required (TABLES)")
	ErrNoBrokerURL   = errors.New("config: broker url is required (AMQP_URL)")
	ErrNoExchange    = errors.New("config: broker exchange is required (AMQP_EXCHANGE)")
)

// Validate reports every missing or invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, ErrNoDatabaseURL)
	}
	if len(c.Tables) == 0 {
		errs = append(errs, ErrNoTables)
	}
	// the debug connector needs neither
	if c.Broker.Connector != "debug" {
		if c.Broker.URL == "" && c.Broker.Connector == broker.DefaultConnector {
			errs = append(errs, ErrNoBrokerURL)
		}
		if c.Broker.Exchange == "" {
			errs = append(errs, ErrNoExchange)
		}
	}
	if _, err := changefeed.ParseEnvelope(c.Changefeed.Envelope); err != nil {
		errs = append(errs, err)
	}
	switch c.Cursor.Backend {
	case "", cursor.BackendPostgres, cursor.BackendBolt, cursor.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", cursor.ErrUnknownBackend, c.Cursor.Backend))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("config: shutdownTimeout must not be negative"))
	}
	return errors.Join(errs...)
}
