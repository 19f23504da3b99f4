package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/server"
)

const FlagPort = "port"

// GetBridgeCmd returns the bridge server command.
func GetBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve the HTTP and WebSocket bridge for UI clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port, _ := cmd.Flags().GetString(FlagPort); port != "" {
				cfg.Server.Port = port
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			srv, err := server.NewServer(ctx, cfg)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Run() }()

			select {
			case err = <-errCh:
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); err == nil {
				err = serr
			}
			return err
		},
	}
	cmd.Flags().String(FlagPort, "", "listen port (default $PORT)")
	return cmd
}
