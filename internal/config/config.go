// Package config loads the probe configuration from flags, environment and an
// optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jandubois/omnicube-probe/internal/notify"
	"github.com/jandubois/omnicube-probe/internal/probe"
)

// ErrLoadConfig indicates a failure to read or parse the configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// EnvPrefix prefixes every environment variable, e.g. OMNICUBE_APPLIANCE_PASSWORD.
const EnvPrefix = "OMNICUBE"

const (
	DefaultPort       = 22
	DefaultTimeout    = 45
	DefaultEchoLines  = 1
	DefaultMaxResults = 10000
	DefaultBackupDate = "yesterday"
	DefaultTimezone   = "Local"
)

// Config is the complete probe configuration.
type Config struct {
	Include   []string        `mapstructure:"include"   yaml:"include,omitempty"`
	Appliance ApplianceConfig `mapstructure:"appliance" yaml:"appliance"`
	Check     CheckConfig     `mapstructure:"check"     yaml:"check"`
	Vault     VaultConfig     `mapstructure:"vault"     yaml:"vault"`
	Output    OutputConfig    `mapstructure:"output"    yaml:"output"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
	Notify    notify.Config   `mapstructure:"notify"    yaml:"notify"`
	Log       LogConfig       `mapstructure:"log"       yaml:"log"`
}

// ApplianceConfig holds the SSH connection settings.
type ApplianceConfig struct {
	Hostname   string `mapstructure:"hostname"    yaml:"hostname"`
	Username   string `mapstructure:"username"    yaml:"username"`
	Password   string `mapstructure:"password"    yaml:"password,omitempty"`
	Port       int    `mapstructure:"port"        yaml:"port"`
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`
	Timeout    int    `mapstructure:"timeout"     yaml:"timeout"` // seconds
	EchoLines  int    `mapstructure:"echo_lines"  yaml:"echo_lines"`
}

// CheckConfig selects what is checked.
type CheckConfig struct {
	Mode       string `mapstructure:"mode"        yaml:"mode"`
	PolicyName string `mapstructure:"policy_name" yaml:"policy_name,omitempty"`
	Exclude    string `mapstructure:"exclude"     yaml:"exclude,omitempty"`
	BackupDate string `mapstructure:"backup_date" yaml:"backup_date"`
	MaxResults int    `mapstructure:"max_results" yaml:"max_results"`
	Timezone   string `mapstructure:"timezone"    yaml:"timezone"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address    string `mapstructure:"address"     yaml:"address,omitempty"`
	Token      string `mapstructure:"token"       yaml:"token,omitempty"`
	RoleID     string `mapstructure:"role_id"     yaml:"role_id,omitempty"`
	RoleName   string `mapstructure:"role_name"   yaml:"role_name,omitempty"`
	SecretPath string `mapstructure:"secret_path" yaml:"secret_path,omitempty"`
}

type OutputConfig struct {
	Format   string `mapstructure:"format"   yaml:"format"`
	Perfdata bool   `mapstructure:"perfdata" yaml:"perfdata"`
	DumpDir  string `mapstructure:"dump_dir" yaml:"dump_dir,omitempty"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"hostname":         "appliance.hostname",
	"username":         "appliance.username",
	"password":         "appliance.password",
	"port":             "appliance.port",
	"known-hosts":      "appliance.known_hosts",
	"timeout":          "appliance.timeout",
	"echo-lines":       "appliance.echo_lines",
	"mode":             "check.mode",
	"policyname":       "check.policy_name",
	"exclude":          "check.exclude",
	"backupdate":       "check.backup_date",
	"max-results":      "check.max_results",
	"timezone":         "check.timezone",
	"vault-secret":     "vault.secret_path",
	"output":           "output.format",
	"perfdata":         "output.perfdata",
	"dump-dir":         "output.dump_dir",
	"metrics-textfile": "metrics.textfile",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("appliance.hostname", "")
	v.SetDefault("appliance.username", "")
	v.SetDefault("appliance.password", "")
	v.SetDefault("appliance.port", DefaultPort)
	v.SetDefault("appliance.known_hosts", "")
	v.SetDefault("appliance.timeout", DefaultTimeout)
	v.SetDefault("appliance.echo_lines", DefaultEchoLines)
	v.SetDefault("check.mode", "")
	v.SetDefault("check.policy_name", "")
	v.SetDefault("check.exclude", "")
	v.SetDefault("check.backup_date", DefaultBackupDate)
	v.SetDefault("check.max_results", DefaultMaxResults)
	v.SetDefault("check.timezone", DefaultTimezone)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.role_id", "")
	v.SetDefault("vault.role_name", "")
	v.SetDefault("vault.secret_path", "")
	v.SetDefault("output.format", probe.FormatNagios)
	v.SetDefault("output.perfdata", false)
	v.SetDefault("output.dump_dir", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("notify.on", []string{string(probe.StatusCritical), string(probe.StatusUnknown)})
	v.SetDefault("notify.ntfy.server_url", "")
	v.SetDefault("notify.ntfy.topic", "")
	v.SetDefault("notify.ntfy.token", "")
	v.SetDefault("notify.pushover.api_token", "")
	v.SetDefault("notify.pushover.user_key", "")
	v.SetDefault("notify.pushover.api_url", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
}

// Load builds the configuration. Values come from flags that were set, then
// OMNICUBE_* environment variables, then the YAML file at path (if any, with
// its include files merged), then defaults. Flags not present in flags are
// ignored.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("%w: bind flag %s: %v", ErrLoadConfig, name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config %s: %v", ErrLoadConfig, path, err)
		}

		for _, inc := range v.GetStringSlice("include") {
			data, err := os.ReadFile(inc)
			if err != nil {
				return nil, fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
			}
			if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
				return nil, fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
			}
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}
	return &cfg, nil
}

// Validate checks the settings every run needs.
func (c *Config) Validate() error {
	var problems []string
	if c.Appliance.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.Appliance.Port <= 0 || c.Appliance.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d", c.Appliance.Port))
	}
	if c.Appliance.EchoLines < 0 {
		problems = append(problems, "echo lines must not be negative")
	}
	if c.Check.MaxResults <= 0 {
		problems = append(problems, "max results must be positive")
	}
	if !slices.Contains(probe.Formats, c.Output.Format) {
		problems = append(problems, fmt.Sprintf("unsupported output format %q", c.Output.Format))
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	for _, s := range c.Notify.On {
		switch probe.Status(s) {
		case probe.StatusOK, probe.StatusWarning, probe.StatusCritical, probe.StatusUnknown:
		default:
			problems = append(problems, fmt.Sprintf("unknown notify status %q", s))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidateConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateAppliance checks the settings needed to open a session.
func (c *Config) ValidateAppliance() error {
	var missing []string
	if c.Appliance.Hostname == "" {
		missing = append(missing, "hostname")
	}
	if c.Appliance.Username == "" {
		missing = append(missing, "username")
	}
	if c.Appliance.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidateConfig, strings.Join(missing, ", "))
	}
	return nil
}

// TimeoutDuration returns the appliance timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Appliance.Timeout) * time.Second
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	name := c.Check.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %v", name, err)
	}
	return loc, nil
}
