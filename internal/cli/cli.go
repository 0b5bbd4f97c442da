// ============================================================================
// Horde Bridge CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: cobra command tree and the wiring that turns flags into a running
//          bridge
//
// Command Structure:
//   horde-bridge                   # Root command
//   ├── run                        # Claim jobs and serve them from the local engine
//   ├── engines                    # List registered engine adapters
//   ├── check                      # Probe the inference server once
//   ├── --config, -c               # YAML/JSON file, keys are long flag names
//   └── --version / --help
//
// Configuration precedence:
//   command line > config file > flag default
//
// run Command:
//   1. Resolve the engine adapter (unknown engine is fatal)
//   2. Build queue client, health monitor and lifecycle
//   3. Start the ops server if --metrics-addr is set
//   4. Run the worker pool until SIGINT/SIGTERM or the circuit breaker trips
//
//   Examples:
//     ./horde-bridge run --model llama-3-8b --ctx 8192 --api-key $KEY
//     ./horde-bridge run -c bridge.yaml --threads 4
//
// Exit status:
//   non-zero on configuration errors and when the circuit breaker trips.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/horde-bridge/internal/backend"
	"github.com/ChuLiYu/horde-bridge/internal/health"
	"github.com/ChuLiYu/horde-bridge/internal/metrics"
	"github.com/ChuLiYu/horde-bridge/internal/queue"
	"github.com/ChuLiYu/horde-bridge/internal/server"
	"github.com/ChuLiYu/horde-bridge/internal/transport"
	"github.com/ChuLiYu/horde-bridge/internal/worker"
)

// Version is reported by --version.
var Version = "1.0.0"

type app struct {
	opts   Options
	logger *slog.Logger
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	a := &app{logger: slog.Default()}

	rootCmd := &cobra.Command{
		Use:   "horde-bridge",
		Short: "Horde Bridge: serve text-generation jobs from a local inference server",
		Long: `Horde Bridge claims text-generation jobs from a Horde-style queue,
runs them on a local inference server (vLLM, SGLang, KoboldCpp, llama.cpp,
TabbyAPI) and submits the results.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.prepare,
	}

	bindFlags(rootCmd.PersistentFlags(), &a.opts)

	rootCmd.AddCommand(a.buildRunCommand())
	rootCmd.AddCommand(a.buildEnginesCommand())
	rootCmd.AddCommand(a.buildCheckCommand())

	return rootCmd
}

// prepare merges the config file and sets up logging before any subcommand.
func (a *app) prepare(cmd *cobra.Command, _ []string) error {
	if a.opts.ConfigFile != "" {
		if err := applyConfigFile(cmd.Flags(), a.opts.ConfigFile); err != nil {
			return err
		}
	}

	logger, err := newLogger(cmd.ErrOrStderr(), a.opts.LogLevel, a.opts.LogFormat)
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

func (a *app) buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge worker loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.opts.finalize(); err != nil {
				return err
			}
			ctx, cancel := withSignal(cmd.Context(), a.logger)
			defer cancel()
			return runBridge(ctx, &a.opts, a.logger)
		},
	}
}

func (a *app) buildEnginesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List supported inference engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listEngines(cmd.OutOrStdout(), backend.NewDefaultRegistry(nil, a.logger))
		},
	}
}

func (a *app) buildCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the inference server health endpoint once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return checkServer(cmd.Context(), cmd.OutOrStdout(), &a.opts, a.logger)
		},
	}
}

func listEngines(w io.Writer, registry *backend.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENGINE\tHEALTH\tGENERATE")
	for _, info := range registry.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.HealthPath, info.GeneratePath)
	}
	return tw.Flush()
}

func checkServer(ctx context.Context, w io.Writer, opts *Options, logger *slog.Logger) error {
	registry := backend.NewDefaultRegistry(nil, logger)
	adapter, err := registry.Resolve(opts.Engine)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(transport.NewClient(transport.Options{Timeout: opts.Timeout}), health.Config{
		ServerURL:  opts.ServerURL,
		HealthPath: adapter.HealthPath(),
		Engine:     adapter.Name(),
	}, logger)

	if !monitor.Check(ctx) {
		return fmt.Errorf("%s server at %s is not healthy", adapter.Name(), opts.ServerURL)
	}
	fmt.Fprintf(w, "%s server at %s is healthy\n", adapter.Name(), opts.ServerURL)
	return nil
}

// runBridge wires every component from opts and blocks until the pool stops.
func runBridge(ctx context.Context, opts *Options, logger *slog.Logger) error {
	engineClient := transport.NewClient(transport.Options{Timeout: opts.GenerateTimeout})
	registry := backend.NewDefaultRegistry(engineClient, logger)
	adapter, err := registry.Resolve(opts.Engine)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(transport.NewClient(transport.Options{Timeout: opts.Timeout}), health.Config{
		ServerURL:  opts.ServerURL,
		HealthPath: adapter.HealthPath(),
		Engine:     adapter.Name(),
		TTL:        opts.HealthTTL,
	}, logger)

	queueClient := queue.NewClient(queue.Config{
		ClusterURL:        opts.ClusterURL,
		APIKey:            opts.APIKey,
		WorkerName:        opts.WorkerName,
		Models:            []string{opts.advertisedModel()},
		MaxLength:         opts.MaxLength,
		MaxContextLength:  opts.Ctx,
		PriorityUsernames: opts.PriorityUsernames,
		Threads:           opts.Threads,
		Timeout:           opts.Timeout,
	})

	var recorder worker.Recorder
	if opts.MetricsAddr != "" {
		recorder = metrics.NewCollector()
	}

	lifecycle := worker.NewLifecycle(queueClient, monitor, adapter, engineClient, worker.Config{
		ServerURL:       opts.ServerURL,
		RetryInterval:   opts.RetryInterval,
		ClaimRetries:    opts.ClaimRetries,
		GenerateRetries: opts.GenerateRetries,
		SubmitRetries:   opts.SubmitRetries,
	}, logger, recorder)

	pool := worker.NewPool(lifecycle, worker.PoolConfig{
		Loops:            opts.Threads,
		FailureThreshold: opts.FailureThreshold,
	}, logger, recorder)

	logger.Info("Starting bridge",
		"worker", opts.WorkerName,
		"cluster", opts.ClusterURL,
		"engine", adapter.Name(),
		"server", opts.ServerURL,
		"model", opts.advertisedModel(),
		"ctx", opts.Ctx,
		"max_length", opts.MaxLength,
		"threads", opts.Threads)

	serverDone := make(chan struct{})
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if opts.MetricsAddr != "" {
		srv := server.New(opts.MetricsAddr, server.Deps{
			Pool:    pool,
			Health:  monitor,
			Engines: registry,
			Engine:  adapter.Name(),
			Model:   opts.advertisedModel(),
		}, logger)
		go func() {
			defer close(serverDone)
			if err := srv.Run(serverCtx); err != nil {
				logger.Error("Ops server failed", "error", err)
			}
		}()
	} else {
		close(serverDone)
	}

	runErr := pool.Run(ctx)

	stopServer()
	<-serverDone

	if runErr != nil {
		return fmt.Errorf("bridge stopped: %w", runErr)
	}
	logger.Info("Bridge stopped")
	return nil
}
