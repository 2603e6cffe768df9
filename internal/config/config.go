package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the full pipeline configuration: MiddleCare source DSNs per
// site, the local mirror database, RedCap API settings, and output locations.
type Config struct {
	Env      string                `mapstructure:"env"`
	LogLevel string                `mapstructure:"log_level"`
	DataDir  string                `mapstructure:"data_dir"`
	Sites    map[string]SiteConfig `mapstructure:"sites"`
	Mirror   MirrorConfig          `mapstructure:"mirror"`
	RedCap   RedCapConfig          `mapstructure:"redcap"`
	Serve    ServeConfig           `mapstructure:"serve"`
}

// SiteConfig describes one MiddleCare source instance.
type SiteConfig struct {
	DSN        string `mapstructure:"dsn"`
	DocBaseURL string `mapstructure:"doc_base_url"`
}

// MirrorConfig describes the local Postgres mirror.
type MirrorConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedCapConfig describes the target RedCap project and its API endpoint.
type RedCapConfig struct {
	APIURL              string `mapstructure:"api_url"`
	APIToken            string `mapstructure:"api_token"`
	ArmName             string `mapstructure:"arm_name"`
	SharedEventName     string `mapstructure:"shared_event_name"`
	RepeatableEventName string `mapstructure:"repeatable_event_name"`
}

// ServeConfig configures the read-only browse API.
type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads the YAML configuration file and applies MC2_* environment
// overrides. A missing file is not an error when no explicit path was given;
// env vars alone can carry a complete configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mc2")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mc2")
	}
	v.SetEnvPrefix("MC2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("mirror.max_conns", 10)
	v.SetDefault("mirror.min_conns", 2)
	v.SetDefault("redcap.arm_name", "arm_1")
	v.SetDefault("redcap.shared_event_name", "patient")
	v.SetDefault("redcap.repeatable_event_name", "document")
	v.SetDefault("serve.addr", ":8080")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("env")
	v.BindEnv("log_level")
	v.BindEnv("data_dir")
	v.BindEnv("mirror.url")
	v.BindEnv("redcap.api_url")
	v.BindEnv("redcap.api_token")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Site returns the configuration of the named MiddleCare site.
func (c *Config) Site(name string) (SiteConfig, error) {
	site, ok := c.Sites[name]
	if !ok {
		known := make([]string, 0, len(c.Sites))
		for k := range c.Sites {
			known = append(known, k)
		}
		return SiteConfig{}, fmt.Errorf("unknown site %q (configured sites: %s)", name, strings.Join(known, ", "))
	}
	return site, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can support the mirror-side
// commands. Source-side checks happen per site in Site().
func (c *Config) Validate() error {
	if c.Mirror.URL == "" {
		return fmt.Errorf("mirror.url is required")
	}
	if c.Mirror.MinConns > c.Mirror.MaxConns {
		return fmt.Errorf("mirror.max_conns must be >= mirror.min_conns")
	}
	return nil
}

// ValidateRedCap checks the settings needed before calling the RedCap API.
func (c *Config) ValidateRedCap() error {
	if c.RedCap.APIURL == "" {
		return fmt.Errorf("redcap.api_url is required")
	}
	if c.RedCap.APIToken == "" {
		return fmt.Errorf("redcap.api_token is required")
	}
	return nil
}
