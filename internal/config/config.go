// Package config loads shieldctl settings from flags, SHIELDCTL_*
// environment variables and an optional YAML file, in that order of
// precedence, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SHIELDCTL_SERVER or SHIELDCTL_POLL_POLICY.
const EnvPrefix = "SHIELDCTL"

// Keys shared by the flag set, the environment and the config file.
const (
	KeyServer       = "server"
	KeyTimeout      = "timeout"
	KeyInterval     = "interval"
	KeyMaxRPS       = "max-rps"
	KeyProxy        = "proxy"
	KeyInsecure     = "insecure"
	KeyPollPolicy   = "poll-policy"
	KeyJournal      = "journal"
	KeyMetricsAddr  = "metrics-addr"
	KeyOTLPEndpoint = "otlp-endpoint"
	KeyOTLPInsecure = "otlp-insecure"
	KeyNoColor      = "no-color"
	KeyVerbose      = "verbose"
)

// Config is the resolved configuration of one shieldctl invocation.
type Config struct {
	Server       string        `mapstructure:"server" validate:"required,http_url"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0s"`
	Interval     time.Duration `mapstructure:"interval" validate:"gte=100ms"`
	MaxRPS       float64       `mapstructure:"max-rps" validate:"gte=0"`
	Proxy        string        `mapstructure:"proxy" validate:"omitempty,url"`
	Insecure     bool          `mapstructure:"insecure"`
	PollPolicy   string        `mapstructure:"poll-policy" validate:"oneof=skip overlap"`
	Journal      string        `mapstructure:"journal"`
	MetricsAddr  string        `mapstructure:"metrics-addr" validate:"omitempty,hostname_port"`
	OTLPEndpoint string        `mapstructure:"otlp-endpoint" validate:"omitempty,hostname_port"`
	OTLPInsecure bool          `mapstructure:"otlp-insecure"`
	NoColor      bool          `mapstructure:"no-color"`
	Verbose      int           `mapstructure:"verbose" validate:"gte=0,lte=3"`
}

// Defaults returns the configuration used when nothing overrides a key.
func Defaults() Config {
	return Config{
		Server:       "http://127.0.0.1:5000",
		Timeout:      30 * time.Second,
		Interval:     time.Second,
		PollPolicy:   "skip",
		Journal:      DefaultJournalPath(),
		OTLPInsecure: true,
	}
}

// DefaultJournalPath is $HOME/.shieldctl/sessions.db, or empty when the
// home directory is unknown (journaling is then disabled).
func DefaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".shieldctl", "sessions.db")
}

// DefaultFile is the config file read when --config is not given.
func DefaultFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".shieldctl.yaml")
}

// RegisterFlags adds one flag per key to fs, with defaults from Defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String(KeyServer, d.Server, "Base URL of the scan service")
	fs.Duration(KeyTimeout, d.Timeout, "Timeout of a single request to the scan service")
	fs.Duration(KeyInterval, d.Interval, "Delay between two status polls")
	fs.Float64(KeyMaxRPS, d.MaxRPS, "Maximum requests per second to the scan service (0 = unlimited)")
	fs.String(KeyProxy, d.Proxy, "Proxy URL for requests to the scan service")
	fs.Bool(KeyInsecure, d.Insecure, "Skip TLS certificate verification")
	fs.String(KeyPollPolicy, d.PollPolicy, "What a tick does while a poll is in flight (skip, overlap)")
	fs.String(KeyJournal, d.Journal, "Session journal file (SQLite); empty disables journaling")
	fs.String(KeyMetricsAddr, d.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9464)")
	fs.String(KeyOTLPEndpoint, d.OTLPEndpoint, "Export traces to this OTLP gRPC endpoint (e.g. localhost:4317)")
	fs.Bool(KeyOTLPInsecure, d.OTLPInsecure, "Send traces over plaintext gRPC")
	fs.Bool(KeyNoColor, d.NoColor, "Disable colored output")
	fs.IntP(KeyVerbose, "v", d.Verbose, "Verbosity level (0-3)")
}

// Load resolves the configuration. Flags that were set explicitly win over
// the environment, which wins over file, which wins over Defaults. file may
// be empty; a missing default file is not an error, a missing explicit one
// is.
func Load(fs *pflag.FlagSet, file string, explicit bool) (*Config, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault(KeyServer, d.Server)
	v.SetDefault(KeyTimeout, d.Timeout)
	v.SetDefault(KeyInterval, d.Interval)
	v.SetDefault(KeyMaxRPS, d.MaxRPS)
	v.SetDefault(KeyProxy, d.Proxy)
	v.SetDefault(KeyInsecure, d.Insecure)
	v.SetDefault(KeyPollPolicy, d.PollPolicy)
	v.SetDefault(KeyJournal, d.Journal)
	v.SetDefault(KeyMetricsAddr, d.MetricsAddr)
	v.SetDefault(KeyOTLPEndpoint, d.OTLPEndpoint)
	v.SetDefault(KeyOTLPInsecure, d.OTLPInsecure)
	v.SetDefault(KeyNoColor, d.NoColor)
	v.SetDefault(KeyVerbose, d.Verbose)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", file, err)
			}
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and reports the first problem in terms of the
// key a user would set.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	fe := verrs[0]
	return fmt.Errorf("config: invalid %s %q: %s", keyOf(fe.StructField()), fmt.Sprint(fe.Value()), describeTag(fe))
}

func keyOf(field string) string {
	switch field {
	case "MaxRPS":
		return KeyMaxRPS
	case "PollPolicy":
		return KeyPollPolicy
	case "MetricsAddr":
		return KeyMetricsAddr
	case "OTLPEndpoint":
		return KeyOTLPEndpoint
	case "NoColor":
		return KeyNoColor
	default:
		return strings.ToLower(field)
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must be set"
	case "http_url":
		return "must be an http or https URL"
	case "url":
		return "must be a URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "hostname_port":
		return "must be host:port"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "fails " + fe.Tag()
	}
}
