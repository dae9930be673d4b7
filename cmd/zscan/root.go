package main

import (
	"github.com/spf13/cobra"

	"zscan/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zscan",
		Short: "Stateless single-packet Internet-wide network scanner",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "directory to search for config.<env>.yaml, then config.yaml, before ./configs and . (default: $ZSCAN_CONFIG_PATH or ./configs)")
	root.AddCommand(newScanCmd())
	root.AddCommand(newModulesCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgFile)
}
