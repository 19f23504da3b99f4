package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/api/middleware"
	"github.com/GriffinCanCode/vboxremote/internal/config"
	"github.com/GriffinCanCode/vboxremote/internal/events"
	"github.com/GriffinCanCode/vboxremote/internal/grpc/objectrpc"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/redisconn"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/vboxremote/internal/providers/httprpc"
	"github.com/GriffinCanCode/vboxremote/internal/sandbox"
)

const (
	FlagListen     = "listen"
	FlagOpDuration = "op-duration"
)

// GetSandboxCmd returns the in-memory server command.
func GetSandboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Serve an in-memory virtualization server over gRPC or HTTP",
		Long: "Serve an in-memory virtualization server. With --user only that login is\n" +
			"accepted; with --redis machine state changes are published for 'events'.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listen, err := cmd.Flags().GetString(FlagListen)
			if err != nil {
				return err
			}
			opDuration, err := cmd.Flags().GetDuration(FlagOpDuration)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			opts := []sandbox.Option{
				sandbox.WithLogger(logger.Component("sandbox")),
				sandbox.WithOperationDuration(opDuration),
			}
			if cfg.Remote.User != "" {
				opts = append(opts, sandbox.WithUser(cfg.Remote.User, cfg.Remote.Password))
			}
			if cfg.Redis.Enabled {
				rc, err := redisconn.Connect(ctx, cfg.Redis.Addr)
				if err != nil {
					return err
				}
				defer rc.Close()
				opts = append(opts, sandbox.WithPublisher(events.NewRedisBus(rc, logger.Component("events"), nil)))
			}
			srv := sandbox.New(opts...)

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			logger.Info("Sandbox serving",
				zap.String("addr", lis.Addr().String()),
				zap.String("transport", cfg.Remote.Transport),
				zap.String("version", sandbox.Version))

			if strings.ToLower(cfg.Remote.Transport) == config.TransportHTTP {
				return serveHTTP(ctx, lis, srv, logger.Component("http"))
			}
			tracer := tracing.New("sandbox", logger.Logger)
			defer tracer.Close()
			gs := objectrpc.NewServer(srv, logger.Component("grpc"), tracer)
			go func() {
				<-ctx.Done()
				gs.GracefulStop()
			}()
			return gs.Serve(lis)
		},
	}
	cmd.Flags().String(FlagListen, ":18083", "listen address")
	cmd.Flags().Duration(FlagOpDuration, 3*time.Second, "how long progress operations take")
	return cmd
}

func serveHTTP(ctx context.Context, lis net.Listener, srv *sandbox.Server, logger *zap.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))
	httprpc.Register(router, srv, logger)

	hs := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()
	if err := hs.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
