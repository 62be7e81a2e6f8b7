package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	utilsconfig "github.com/quantumauth-io/quantum-dapp-core/config"
)

//go:embed config.yaml
var EmbeddedConfigYAML []byte

// ProviderEnv overrides Session.ProviderURL.
const ProviderEnv = "DAPP_PROVIDER"

type LogSettings struct {
	Level       string
	Development bool
	Encoding    string
}

type SessionSettings struct {
	TargetNetwork      string
	ProviderURL        string
	ReferenceNetwork   string
	ReferenceEndpoints []string
	BurnerEnabled      bool
	NetworkCheck       bool
	CatalogPath        string
}

type ProviderSettings struct {
	PollInterval      time.Duration
	RequestsPerSecond float64
	Burst             int
	ProbeTimeout      time.Duration
}

type TxSettings struct {
	PollInterval  time.Duration
	DropTimeout   time.Duration
	MaxPollErrors int
}

type WalletSettings struct {
	// NodeURL enables a dev-node wallet (unlocked accounts over JSON-RPC).
	NodeURL     string
	AutoConnect bool
	Cache       string // memory | redis
	CacheKey    string
	CacheTTL    time.Duration
}

type BurnerSettings struct {
	Store      string // memory | file | postgres
	Path       string
	Passphrase string
	Profile    string
}

type RedisSettings struct {
	Host     string
	Port     string
	Username string
	Password string
	DB       int
	TLS      bool
}

type DatabaseSettings struct {
	Host           string
	Port           string
	User           string
	Password       string
	Database       string
	SSLModeDisable bool
	CertPath       string
}

type MetricsSettings struct {
	Addr string
}

type Config struct {
	Log      LogSettings
	Session  SessionSettings
	Provider ProviderSettings
	Tx       TxSettings
	Wallet   WalletSettings
	Burner   BurnerSettings
	Redis    RedisSettings
	Database DatabaseSettings
	Metrics  MetricsSettings
}

func Load() (*Config, error) {
	home, _ := os.UserHomeDir()
	paths := []string{
		filepath.Join(home, ".config", "dapp-core"),
		".",
	}

	cfg, err := utilsconfig.ParseConfigWithEmbedded[Config](paths, EmbeddedConfigYAML, utilsconfig.WithEnvPrefix("DAPP"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyProviderFromEnv()
	return cfg, cfg.Validate()
}

// ApplyProviderFromEnv lets DAPP_PROVIDER replace the target network's endpoint.
func (c *Config) ApplyProviderFromEnv() {
	if v := strings.TrimSpace(os.Getenv(ProviderEnv)); v != "" {
		c.Session.ProviderURL = v
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Session.TargetNetwork) == "" {
		return errors.New("Session.TargetNetwork is required")
	}

	switch strings.ToLower(c.Wallet.Cache) {
	case "", "memory", "redis":
	default:
		return errors.Errorf("invalid Wallet.Cache %q (allowed: memory, redis)", c.Wallet.Cache)
	}

	switch strings.ToLower(c.Burner.Store) {
	case "", "memory":
	case "file":
		if c.Burner.Path == "" {
			return errors.New("Burner.Path is required for the file store")
		}
		fallthrough
	case "postgres":
		if c.Burner.Passphrase == "" {
			return errors.Errorf("Burner.Passphrase is required for the %s store", c.Burner.Store)
		}
	default:
		return errors.Errorf("invalid Burner.Store %q (allowed: memory, file, postgres)", c.Burner.Store)
	}
	return nil
}
