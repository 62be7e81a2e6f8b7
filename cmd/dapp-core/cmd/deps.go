package cmd

import (
	"context"
	"strings"

	"github.com/quantumauth-io/quantum-dapp-core/database"
	"github.com/quantumauth-io/quantum-dapp-core/networks"
	"github.com/quantumauth-io/quantum-dapp-core/provider"
	"github.com/quantumauth-io/quantum-dapp-core/redis"
	"github.com/quantumauth-io/quantum-dapp-core/signer"
	"github.com/quantumauth-io/quantum-dapp-core/wallet"
)

func loadCatalog() (*networks.Catalog, error) {
	if cfg.Session.CatalogPath == "" {
		return networks.Default(), nil
	}
	return networks.LoadFile(cfg.Session.CatalogPath)
}

func newRegistry() *provider.Registry {
	return provider.NewRegistry(provider.Options{
		PollInterval:      cfg.Provider.PollInterval,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		ProbeTimeout:      cfg.Provider.ProbeTimeout,
	})
}

func keyStore(ctx context.Context) (signer.KeyStore, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.Burner.Store) {
	case "file":
		ks, err := signer.NewFileKeyStore(cfg.Burner.Path, []byte(cfg.Burner.Passphrase))
		return ks, noop, err
	case "postgres":
		db, err := database.Connect(ctx, database.DatabaseSettings{
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			User:           cfg.Database.User,
			Password:       cfg.Database.Password,
			Database:       cfg.Database.Database,
			SSLModeDisable: cfg.Database.SSLModeDisable,
			CertPath:       cfg.Database.CertPath,
		})
		if err != nil {
			return nil, noop, err
		}
		if err = db.Migrate(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		ks, err := database.NewBurnerKeyStore(db, []byte(cfg.Burner.Passphrase))
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return ks, db.Close, nil
	default:
		return signer.NewMemoryKeyStore(), noop, nil
	}
}

// walletManager returns nil when no wallet node is configured.
func walletManager(ctx context.Context, reg *provider.Registry) (*wallet.Manager, func(), error) {
	noop := func() {}
	if cfg.Wallet.NodeURL == "" {
		return nil, noop, nil
	}

	conn, err := wallet.DialNode(ctx, cfg.Wallet.NodeURL)
	if err != nil {
		return nil, noop, err
	}
	closeAll := conn.Close

	var cache wallet.SessionCache = &wallet.MemoryCache{}
	if strings.EqualFold(cfg.Wallet.Cache, "redis") {
		rdb, err := redis.NewClient(ctx, redis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      cfg.Redis.TLS,
		})
		if err != nil {
			conn.Close()
			return nil, noop, err
		}
		cache = redis.NewSessionCache(rdb, cfg.Wallet.CacheKey, cfg.Wallet.CacheTTL)
		closeAll = func() {
			_ = rdb.Close()
			conn.Close()
		}
	}

	mgr, err := wallet.NewManager(wallet.Options{
		Modal:    wallet.FixedModal{Conn: conn, ID: "node"},
		Cache:    cache,
		Registry: reg,
	})
	if err != nil {
		closeAll()
		return nil, noop, err
	}
	return mgr, closeAll, nil
}
