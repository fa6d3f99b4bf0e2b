package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "produk",
	Short:        "Product catalog server",
	Long:         "produk serves the product catalog API and maintains its image store",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}
