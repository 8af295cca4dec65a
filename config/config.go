// Package config loads amdefine options from files, the environment and
// command line flags.
//
// Files may be TOML, YAML or JSON. The alias table is a list of
// {prefix, target} records rather than a map so that case and order
// survive: viper folds map keys to lower case.
package config

import (
	"errors"
	"fmt"

	"github.com/daaku/go.amdefine"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. AMDEFINE_BASEPATH.
	EnvPrefix = "AMDEFINE"
	// FileName is the config file looked up in the working directory
	// when none is given, without extension.
	FileName = ".amdefine"
)

// Alias is one entry of the alias table.
type Alias struct {
	Prefix string `mapstructure:"prefix" toml:"prefix"`
	Target string `mapstructure:"target" toml:"target"`
}

// Config mirrors amdefine.Options plus the CLI's own settings.
type Config struct {
	BasePath       string   `mapstructure:"basePath" toml:"basePath"`
	Paths          []Alias  `mapstructure:"paths" toml:"paths"`
	BlackList      []string `mapstructure:"blackList" toml:"blackList"`
	WhiteList      []string `mapstructure:"whiteList" toml:"whiteList"`
	DisableCache   bool     `mapstructure:"disableCache" toml:"disableCache"`
	AliasRequire   bool     `mapstructure:"aliasRequire" toml:"aliasRequire"`
	ExposeAmdefine bool     `mapstructure:"exposeAmdefine" toml:"exposeAmdefine"`
	ForceUpstream  bool     `mapstructure:"forceUpstream" toml:"forceUpstream"`
	InvasiveMode   bool     `mapstructure:"invasiveMode" toml:"invasiveMode"`
	LogLevel       string   `mapstructure:"logLevel" toml:"logLevel"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BlackList: []string{},
		WhiteList: []string{},
		LogLevel:  "warn",
	}
}

// New returns a viper instance with defaults and environment overrides
// registered. Flags are bound by the caller.
func New() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("basePath", d.BasePath)
	v.SetDefault("blackList", d.BlackList)
	v.SetDefault("whiteList", d.WhiteList)
	v.SetDefault("disableCache", d.DisableCache)
	v.SetDefault("aliasRequire", d.AliasRequire)
	v.SetDefault("exposeAmdefine", d.ExposeAmdefine)
	v.SetDefault("forceUpstream", d.ForceUpstream)
	v.SetDefault("invasiveMode", d.InvasiveMode)
	v.SetDefault("logLevel", d.LogLevel)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads file, or FileName from dir when file is empty, into v and
// decodes the result. A missing default file is not an error.
func Load(v *viper.Viper, file, dir string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Options converts c to amdefine options. When a prefix is listed twice
// the first entry wins.
func (c *Config) Options() amdefine.Options {
	paths := make(map[string]string, len(c.Paths))
	for _, a := range c.Paths {
		if _, ok := paths[a.Prefix]; !ok {
			paths[a.Prefix] = a.Target
		}
	}
	return amdefine.Options{
		BasePath:       c.BasePath,
		Paths:          paths,
		BlackList:      c.BlackList,
		WhiteList:      c.WhiteList,
		DisableCache:   c.DisableCache,
		AliasRequire:   c.AliasRequire,
		ExposeAmdefine: c.ExposeAmdefine,
		ForceUpstream:  c.ForceUpstream,
		InvasiveMode:   c.InvasiveMode,
	}
}

// TOML renders c in the file format.
func (c *Config) TOML() ([]byte, error) {
	return toml.Marshal(c)
}
