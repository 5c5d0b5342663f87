// sydneyctl is the administration CLI for the Sydney storage engine:
// database lifecycle (create, mount, unmount, move, drop, alter), index
// maintenance (merge, verify, search) and checkpoint execution.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DoqueDB/sydney/internal/config"
	"github.com/DoqueDB/sydney/internal/observe"
)

var (
	flagVerbose    bool
	flagConfigFile string
	flagOTLP       string

	cfg *config.Store
)

func main() {
	root := &cobra.Command{
		Use:           "sydneyctl",
		Short:         "Administer Sydney databases and full-text indexes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagOTLP != "" {
				if err := observe.InitOTLP(context.Background(), flagOTLP); err != nil {
					return err
				}
			}
			if err := observe.Init(flagVerbose); err != nil {
				return err
			}
			cfg = config.New()
			if flagConfigFile != "" {
				return cfg.Load(flagConfigFile)
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging and stdout telemetry")
	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "engine configuration file (yaml or toml)")
	root.PersistentFlags().StringVar(&flagOTLP, "otlp-endpoint", "", "OTLP/HTTP metrics collector endpoint")

	root.AddCommand(newDatabaseCmd())
	root.AddCommand(newIndexCmd())
	root.AddCommand(newCheckpointCmd())
	root.AddCommand(newConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sydneyctl:", err)
		os.Exit(1)
	}
}
