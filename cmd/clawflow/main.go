package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clawflow",
		Short: "Adaptive multi-agent orchestrator for OpenClaw gateways",
		Long: `Clawflow drives a natural-language goal through an adaptive Think→Execute
loop: an external model decides each step whether to dispatch a parallel batch
of tasks to specialized agents or to finish with a final answer. Agents run
in-process, behind HTTP endpoints, or as chat sessions on OpenClaw gateways.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/clawflow/config.yaml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clawflow version %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
