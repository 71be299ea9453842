// openmemory runs the HTTP memory server.
//
// Usage:
//
//	openmemory serve --config config.yaml
//	openmemory decay --config config.yaml   # one decay sweep, then exit
//	openmemory reflect --config config.yaml # one reflection pass, then exit
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	openmemory "github.com/goblincore/openmemory"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "openmemory",
		Short:        "Multi-tenant hierarchical semantic memory server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	root.AddCommand(serveCmd(), decayCmd(), reflectCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*openmemory.Engine, openmemory.Config, *zap.Logger, error) {
	cfg, err := openmemory.LoadConfig(configPath)
	if err != nil {
		return nil, openmemory.Config{}, nil, err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, openmemory.Config{}, nil, err
	}
	engine, err := openmemory.NewEngine(cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, openmemory.Config{}, nil, err
	}
	return engine, cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with background decay and reflection workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			engine.Start()
			defer engine.Close()

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				Handler:           openmemory.NewServer(engine, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening",
					zap.Int("port", cfg.Port),
					zap.String("tier", string(cfg.Tier)),
					zap.String("metadata_backend", cfg.MetadataBackend),
					zap.String("vector_backend", cfg.VectorBackend))
				errCh <- srv.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case sig := <-stop:
				logger.Info("shutting down", zap.String("signal", sig.String()))
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					logger.Warn("http shutdown", zap.Error(err))
				}
			}
			return nil
		},
	}
}

func decayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decay",
		Short: "Run one decay sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer engine.Close()

			report, err := engine.RunDecaySweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("namespaces=%d swept=%d fingerprinted=%d\n",
				report.Namespaces, report.Swept, report.Fingerprinted)
			return nil
		},
	}
}

func reflectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reflect",
		Short: "Run one reflection pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer engine.Close()

			report, err := engine.RunReflection(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("namespaces=%d clusters=%d insights=%d\n",
				report.Namespaces, report.Clusters, report.Insights)
			return nil
		},
	}
}
