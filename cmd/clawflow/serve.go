package main

import (
	"clawflow/internal/config"
	"clawflow/internal/logging"
	"clawflow/internal/server"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cfgFile)
			if err != nil {
				return err
			}

			rt.discoverAgents(cmd.Context())

			if watcher, err := config.Watch(cfgFile); err == nil {
				defer watcher.Stop()
			} else {
				logging.Debug("config watcher unavailable", "error", err)
			}

			if port == 0 {
				port = rt.cfg.Dashboard.Port
			}

			srv := server.New(server.Config{
				Port:    port,
				MaxRuns: rt.cfg.Dashboard.MaxRuns,
			}, server.Deps{
				Registry: rt.registry,
				Gateways: rt.gateways,
				Store:    rt.store,
				Run:      rt.execute,
			})

			defer rt.gateways.CloseAll()
			return srv.Start()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "dashboard port (default from config)")
	return cmd
}
