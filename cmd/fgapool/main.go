package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/authzkit/fgapool/pkg/config"
	"github.com/authzkit/fgapool/pkg/fga"
	"github.com/authzkit/fgapool/pkg/logger"
	"github.com/authzkit/fgapool/pkg/manager"
	"github.com/authzkit/fgapool/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile string
	var logLevel string
	var tracing bool

	root := &cobra.Command{
		Use:   "fgapool",
		Short: "fgapool - pooled client for a relationship-based authorization service",
		Long: `fgapool maintains a bounded pool of client connections to a remote
authorization service and runs permission checks, tuple writes, and tuple
reads over it.`,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "fgapool.yaml", "path to YAML configuration")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&tracing, "tracing", false, "export spans to stdout")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fgapool v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	checkCmd := &cobra.Command{
		Use:   "check <user> <relation> <object>",
		Short: "Run a single permission check",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(configFile, logLevel, tracing, func(ctx context.Context, m *manager.Manager) error {
				allowed, err := m.Check(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				fmt.Printf("allowed: %v\n", allowed)
				return nil
			})
		},
	}
	root.AddCommand(checkCmd)

	var revoke bool
	writeCmd := &cobra.Command{
		Use:   "write <user> <relation> <object>",
		Short: "Write (or with --revoke, delete) one relationship tuple",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(configFile, logLevel, tracing, func(ctx context.Context, m *manager.Manager) error {
				if revoke {
					return m.Revoke(ctx, args[0], args[1], args[2])
				}
				return m.Grant(ctx, args[0], args[1], args[2])
			})
		},
	}
	writeCmd.Flags().BoolVar(&revoke, "revoke", false, "delete the tuple instead of writing it")
	root.AddCommand(writeCmd)

	readCmd := &cobra.Command{
		Use:   "read [object]",
		Short: "Read stored tuples, optionally filtered by object",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(configFile, logLevel, tracing, func(ctx context.Context, m *manager.Manager) error {
				var filter *fga.TupleKey
				if len(args) == 1 {
					filter = &fga.TupleKey{Object: args[0]}
				}
				resp, err := m.Read(ctx, filter, 50, "")
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
	root.AddCommand(readCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Warm up the pool and print its health and statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(configFile, logLevel, tracing, func(ctx context.Context, m *manager.Manager) error {
				if err := printJSON(m.HealthCheck()); err != nil {
					return err
				}
				return printJSON(m.Stats())
			})
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// withManager loads configuration, bootstraps logging and tracing, runs fn
// with a live manager, and tears everything down.
func withManager(configFile, logLevel string, tracing bool, fn func(context.Context, *manager.Manager) error) error {
	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
		return err
	}
	log := logger.Get()

	if tracing {
		obsCfg := observability.DefaultConfig()
		obsCfg.ServiceVersion = version
		obsCfg.SamplingRate = 1.0
		if err := observability.Initialize(obsCfg); err != nil {
			return err
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	m, err := manager.New(cfg, log)
	if err != nil {
		return err
	}
	defer m.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	runErr := fn(ctx, m)

	if tracing {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}

	return runErr
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
