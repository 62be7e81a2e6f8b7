package config

import (
	"bytes"
	"strings"

	"github.com/fatih/structs"
	"github.com/jeremywohl/flatten"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const defaultConfigName = "config"

type Option func(*options)

type options struct {
	name      string
	envPrefix string
}

// WithName changes the config file base name (default "config").
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithEnvPrefix scopes env overrides, e.g. prefix "DAPP" maps Session.ProviderURL
// to DAPP_SESSION_PROVIDERURL.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) { o.envPrefix = prefix }
}

// ParseConfig loads from disk only.
func ParseConfig[T interface{}](configFilePaths []string, opts ...Option) (*T, error) {
	return ParseConfigWithEmbedded[T](configFilePaths, nil, opts...)
}

// ParseConfigWithEmbedded tries to load config from disk,
// and if the file is NOT found, falls back to embeddedYAML (if provided).
// Env variables always win over file values.
func ParseConfigWithEmbedded[T interface{}](configFilePaths []string, embeddedYAML []byte, opts ...Option) (*T, error) {
	o := options{name: defaultConfigName}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	for _, p := range configFilePaths {
		v.AddConfigPath(p)
	}
	v.SetConfigName(o.name)
	v.SetConfigType("yaml")

	if o.envPrefix != "" {
		v.SetEnvPrefix(o.envPrefix)
	}
	if err := bindAllConfigKeys[T](v); err != nil {
		return nil, err
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nfErr viper.ConfigFileNotFoundError
		if !errors.As(err, &nfErr) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if len(embeddedYAML) > 0 {
			if err2 := v.ReadConfig(bytes.NewReader(embeddedYAML)); err2 != nil {
				return nil, errors.Wrap(err2, "failed to load embedded default config")
			}
		} else if len(configFilePaths) > 0 {
			return nil, err
		}
	}

	var c T
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "Unable to decode into struct")
	}
	return &c, nil
}

// Workaround for major viper issue with env variables, documented here
// https://github.com/spf13/viper/issues/761
func bindAllConfigKeys[T interface{}](v *viper.Viper) error {
	var cd T
	confMap := structs.Map(cd)

	flat, err := flatten.Flatten(confMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten config")
	}

	for key := range flat {
		if err := v.BindEnv(key); err != nil {
			return errors.Wrapf(err, "Unable to bind env var: %s", key)
		}
	}
	return nil
}
