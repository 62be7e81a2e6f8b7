package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantum-dapp-core/networks"
)

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List the selectable networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return err
		}
		return printNetworks(cmd.OutOrStdout(), catalog, cfg.Session.TargetNetwork)
	},
}

func init() {
	rootCmd.AddCommand(networksCmd)
}

func printNetworks(w io.Writer, catalog *networks.Catalog, target string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tCHAIN ID\tLOCAL\tRPC\tEXPLORER")
	for _, name := range catalog.Names() {
		n, err := catalog.Get(name)
		if err != nil {
			return err
		}
		marker := ""
		if n.Name == target {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\t%s\n", marker, n.Name, n.ChainID, n.IsLocal, n.RPCURL, n.ExplorerURLTemplate)
	}
	return tw.Flush()
}
