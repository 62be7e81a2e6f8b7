package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	appconfig "github.com/quantumauth-io/quantum-dapp-core/cmd/dapp-core/config"
	"github.com/quantumauth-io/quantum-dapp-core/log"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	networkFlag string
	debugMode   bool

	cfg *appconfig.Config
)

var rootCmd = &cobra.Command{
	Use:   "dapp-core",
	Short: "Headless dApp session: networks, providers, signers and transactions",
	Long: `dapp-core connects to a target network and a reference network, resolves a
signer (dev-node wallet or burner key) and reports chain consistency.

Configuration is read from ./config.yaml or ~/.config/dapp-core/config.yaml, falling
back to the embedded defaults. DAPP_PROVIDER overrides the target endpoint.`,
	Version:           fmt.Sprintf("%s (Build: %s, Commit: %s)", Version, BuildDate, Commit),
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	log.Sync()
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&networkFlag, "network", "",
		"target network name (overrides Session.TargetNetwork)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false,
		"enable debug logging")
	rootCmd.SetVersionTemplate(`Version: {{.Version}}
`)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := appconfig.Load()
	if err != nil {
		return err
	}
	if networkFlag != "" {
		c.Session.TargetNetwork = networkFlag
	}
	if debugMode {
		c.Log.Level = string(log.DebugLevel)
	}
	if err := log.Init(log.Config{Level: c.Log.Level, Development: c.Log.Development, Encoding: c.Log.Encoding}); err != nil {
		return err
	}
	cfg = c
	return nil
}
