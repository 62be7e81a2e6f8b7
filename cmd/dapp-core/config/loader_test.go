package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Session.TargetNetwork)
	assert.Equal(t, "mainnet", cfg.Session.ReferenceNetwork)
	assert.Len(t, cfg.Session.ReferenceEndpoints, 2)
	assert.True(t, cfg.Session.BurnerEnabled)
	assert.Equal(t, 4*time.Second, cfg.Provider.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Tx.DropTimeout)
	assert.Equal(t, 720*time.Hour, cfg.Wallet.CacheTTL)
	assert.Equal(t, "memory", cfg.Burner.Store)
}

func TestProviderEnvOverride(t *testing.T) {
	t.Setenv(ProviderEnv, " http://127.0.0.1:9545 ")
	t.Setenv("DAPP_SESSION_TARGETNETWORK", "sepolia")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9545", cfg.Session.ProviderURL)
	assert.Equal(t, "sepolia", cfg.Session.TargetNetwork)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Session: SessionSettings{TargetNetwork: "localhost"}}
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.Session.TargetNetwork = " "
	assert.Error(t, c.Validate())

	c = valid()
	c.Wallet.Cache = "disk"
	assert.Error(t, c.Validate())

	c = valid()
	c.Burner.Store = "file"
	c.Burner.Passphrase = "pw"
	assert.Error(t, c.Validate(), "file store needs a path")
	c.Burner.Path = t.TempDir()
	assert.NoError(t, c.Validate())

	c = valid()
	c.Burner.Store = "postgres"
	assert.Error(t, c.Validate(), "postgres store needs a passphrase")
	c.Burner.Passphrase = "pw"
	assert.NoError(t, c.Validate())

	c = valid()
	c.Burner.Store = "vault"
	assert.Error(t, c.Validate())
}
