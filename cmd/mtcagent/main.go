package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version and Build are set by the release pipeline via -ldflags.
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	configPath  string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "mtcagent",
	Short: "mtcagent - MTConnect agent for SHDR adapters",
	Long: `An MTConnect agent: ingests SHDR telemetry from shop-floor adapters,
keeps a bounded in-memory sample and asset history, and answers MTConnect
probe/current/sample/asset requests as XML.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("mtcagent version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: ./mtcagent.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false,
		"Enable verbose/debug output")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mtcagent version %s (%s)\n", Version, Build)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
