// Command meshflow runs the workflow orchestration engine.
//
// Usage:
//
//	meshflow serve --config meshflow.yaml
//	meshflow validate --config meshflow.yaml
//	meshflow version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/meshflow/meshflow"
	"github.com/meshflow/meshflow/pkg/config"
	"github.com/meshflow/meshflow/pkg/execution"
	"github.com/meshflow/meshflow/pkg/executor"
	"github.com/meshflow/meshflow/pkg/httpclient"
	"github.com/meshflow/meshflow/pkg/logger"
	"github.com/meshflow/meshflow/pkg/observability"
	"github.com/meshflow/meshflow/pkg/persist"
	"github.com/meshflow/meshflow/pkg/server"
	"github.com/meshflow/meshflow/pkg/templates"
	"github.com/meshflow/meshflow/pkg/tools"
	"github.com/meshflow/meshflow/pkg/workflow"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the engine HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(meshflow.GetVersion().String())
	return nil
}

// ValidateCmd parses and validates the configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}
	if _, err := config.NewLoader(cli.Config).Load(); err != nil {
		return err
	}
	fmt.Printf("Configuration %s is valid\n", cli.Config)
	return nil
}

// ServeCmd starts the engine.
type ServeCmd struct {
	Watch bool `help:"Watch config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg := config.Default()
	var loader *config.Loader
	if cli.Config != "" {
		loader = config.NewLoader(cli.Config)
		loaded, err := loader.Load()
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:      cfg.Tracing.Enabled,
		SamplingRate: cfg.Tracing.SamplingRate,
		Pretty:       cfg.Tracing.Pretty,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics, err := observability.InitMetrics(ctx, observability.MetricsConfig{Enabled: true})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	observability.SetGlobalMetrics(metrics)

	toolRegistry := tools.NewRegistry()
	discovery := tools.NewDiscovery(toolRegistry)
	if err := applyDescriptors(discovery, cfg); err != nil {
		return err
	}

	conditions := workflow.NewConditionRegistry()
	if err := workflow.RegisterBuiltins(conditions); err != nil {
		return fmt.Errorf("failed to register builtin conditions: %w", err)
	}

	library := templates.NewLibrary()
	if err := templates.RegisterBuiltins(library, conditions); err != nil {
		return fmt.Errorf("failed to register builtin templates: %w", err)
	}

	client := httpclient.New(httpclient.WithTimeout(cfg.Engine.ToolTimeout))
	engine := executor.New(toolRegistry, tools.NewInvoker(client))

	var sink execution.Sink
	if cfg.Persistence.Enabled {
		fileSink, err := persist.NewFileSink(cfg.Persistence.Dir)
		if err != nil {
			return err
		}
		sink = fileSink
	}

	executions := execution.NewRegistry(execution.RegistryOptions{
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		AdmissionCap:  cfg.Engine.AdmissionCap,
		RecordCap:     cfg.Engine.RecordCap,
		Retention:     cfg.Engine.Retention,
		Sink:          sink,
	})

	srv, err := server.New(server.Options{
		Config:     cfg,
		Engine:     engine,
		Executions: executions,
		Templates:  library,
		Conditions: conditions,
		Version:    meshflow.Version,
	})
	if err != nil {
		return err
	}

	if c.Watch && loader != nil {
		// Hot reload re-applies service descriptors; server and engine
		// settings need a restart.
		loader.SetOnChange(func(next *config.Config) {
			if err := applyDescriptors(discovery, next); err != nil {
				slog.Error("Failed to apply reloaded service descriptors", "error", err)
			}
		})
		if err := loader.Watch(); err != nil {
			return err
		}
		defer loader.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

func applyDescriptors(discovery *tools.Discovery, cfg *config.Config) error {
	for i := range cfg.Services {
		if err := discovery.Apply(&cfg.Services[i]); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	// Missing .env is fine.
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("meshflow"),
		kong.Description("MeshFlow - workflow orchestration engine for HTTP service meshes"),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := ctx.Run(&cli); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
