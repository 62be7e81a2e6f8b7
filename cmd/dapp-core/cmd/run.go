package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantum-dapp-core/chaincheck"
	"github.com/quantumauth-io/quantum-dapp-core/log"
	"github.com/quantumauth-io/quantum-dapp-core/session"
	"github.com/quantumauth-io/quantum-dapp-core/signer"
	"github.com/quantumauth-io/quantum-dapp-core/txsubmit"
	"github.com/quantumauth-io/quantum-dapp-core/wallet"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a session and follow it until interrupted",
	Long: `Start a session against the target network.

This command will:
1. Connect the target and reference providers
2. Restore or connect the configured wallet, falling back to the burner key
3. Log reference blocks and chain consistency changes
4. Serve Prometheus metrics when Metrics.Addr is set`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	log.Info("dapp-core",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := loadCatalog()
	if err != nil {
		return err
	}
	reg := newRegistry()
	defer reg.Close()

	keys, closeKeys, err := keyStore(ctx)
	if err != nil {
		return err
	}
	defer closeKeys()

	mgr, closeWallet, err := walletManager(ctx, reg)
	if err != nil {
		return err
	}
	defer closeWallet()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app, err := session.New(session.Config{
		TargetNetwork:      cfg.Session.TargetNetwork,
		ProviderURL:        cfg.Session.ProviderURL,
		ReferenceNetwork:   cfg.Session.ReferenceNetwork,
		ReferenceEndpoints: cfg.Session.ReferenceEndpoints,
		BurnerEnabled:      cfg.Session.BurnerEnabled,
		NetworkCheck:       cfg.Session.NetworkCheck,
	}, session.Deps{
		Catalog:  catalog,
		Registry: reg,
		Resolver: signer.NewResolver(keys, cfg.Burner.Profile),
		Wallet:   mgr,
		TxOptions: txsubmit.Options{
			PollInterval:  cfg.Tx.PollInterval,
			DropTimeout:   cfg.Tx.DropTimeout,
			MaxPollErrors: cfg.Tx.MaxPollErrors,
			Registerer:    promReg,
		},
	})
	if err != nil {
		return err
	}
	defer app.Close()

	changes := make(chan chaincheck.Change, 16)
	sub := app.Monitor().Subscribe(changes)
	defer sub.Unsubscribe()
	go logConsistency(ctx, changes)

	if err = app.Start(ctx); err != nil {
		return err
	}
	if mgr != nil && cfg.Wallet.AutoConnect && mgr.State() != wallet.StateConnected {
		if err = app.ConnectWallet(ctx); err != nil {
			log.Warn("wallet connect failed", "error", err)
		}
	}
	logIdentity(ctx, app)

	if blocks, err := app.OnReferenceBlock(func(n uint64) {
		log.Info("reference block", "number", n)
	}); err == nil {
		defer blocks.Unsubscribe()
	}

	var server *http.Server
	if cfg.Metrics.Addr != "" {
		server = serveMetrics(cfg.Metrics.Addr, promReg)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err = server.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", "error", err)
		}
	}
	return nil
}

func logConsistency(ctx context.Context, changes <-chan chaincheck.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-changes:
			if c.Current == chaincheck.Mismatched {
				log.Warn("wallet is on the wrong network", "target", c.Target, "signer", c.Signer)
				continue
			}
			log.Info("chain consistency changed", "from", c.Previous.String(), "to", c.Current.String())
		}
	}
}

func logIdentity(ctx context.Context, app *session.App) {
	target, _ := app.Target()
	id := app.Identity()
	if id == nil {
		log.Info("no signer available; read-only session", "network", target.Name)
		return
	}
	log.Info("signer ready", "kind", id.Kind.String(), "address", id.Address.Hex(), "network", target.Name)
	if bal, err := app.Balance(ctx, app.Local(), id.Address); err == nil {
		log.Info("balance", "network", target.Name, "wei", bal.String())
	}
	if ref := app.Reference(); ref != nil {
		if bal, err := app.Balance(ctx, ref, id.Address); err == nil {
			log.Info("reference balance", "wei", bal.String())
		}
	}
	if target.HasExplorer() {
		log.Info("explorer", "address", target.AddressURL(id.Address.Hex()))
	}
	if f := app.Faucet(); f.Available {
		log.Info("local faucet available", "network", target.Name)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
	return server
}
