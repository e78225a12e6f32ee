package main

import (
	"github.com/spf13/cobra"

	"github.com/petasbytes/go-assistant/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			h := server.New(a.runner, a.log).Handler()
			return server.ListenAndServe(cmd.Context(), a.cfg.Server.Addr, h, a.cfg.Server.ShutdownTimeout, a.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
