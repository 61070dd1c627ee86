package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"assetflow/pkg/assets"
	"assetflow/pkg/config"
	"assetflow/pkg/faults"
	"assetflow/pkg/logging"
	"assetflow/pkg/notify"
)

const version = "1.0.0"

const (
	exitTaskFailed  = 1
	exitConfigError = 2
)

type CLI struct {
	Version    bool   `short:"v" help:"Show version information"`
	Config     string `short:"c" help:"Settings file (defaults to the nearest assetflow.yaml)"`
	Dir        string `short:"C" help:"Project directory" default:"." type:"existingdir"`
	Production bool   `help:"Build for production regardless of the settings" xor:"mode"`
	Dev        bool   `help:"Build for development regardless of the settings" xor:"mode"`
	LogLevel   string `help:"Log level (trace, debug, info, warn, error)"`
	LogFormat  string `help:"Log format (console, json)"`

	Run  RunCmd  `cmd:"" default:"withargs" help:"Run tasks; several tasks run in parallel"`
	Plan PlanCmd `cmd:"" help:"Print the task graph"`
}

type RunCmd struct {
	Tasks []string `arg:"" optional:"" help:"Tasks to run (defaults to 'default')"`
}

type PlanCmd struct{}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("assetflow"),
		kong.Description("Build, watch and serve front-end assets"),
	)

	if cli.Version {
		fmt.Printf("assetflow version %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch kctx.Command() {
	case "plan":
		err = runPlan(&cli)
	default:
		err = runTasks(ctx, &cli, cli.Run.Tasks)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, faults.ErrConfiguration) {
			os.Exit(exitConfigError)
		}
		os.Exit(exitTaskFailed)
	}
}

// setup loads settings and layout and builds the task graph. Progress is
// printed to stdout when showProgress is set.
func setup(cli *CLI, showProgress bool) (*assets.Build, *config.Config, zerolog.Logger, error) {
	logger := zerolog.Nop()

	cfg, err := config.Load(cli.Dir, cli.Config)
	if err != nil {
		return nil, nil, logger, err
	}
	switch {
	case cli.Production:
		cfg.Production = true
	case cli.Dev:
		cfg.Production = false
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	logger, err = logging.New(os.Stderr, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, logger, err
	}
	logger = logger.With().Str("run_id", uuid.NewString()).Logger()

	layout, err := config.LoadLayout(cfg.Layout, cfg.Dirs)
	if err != nil {
		return nil, nil, logger, err
	}

	var opts []assets.Option
	if showProgress {
		opts = append(opts, assets.WithProgress(notify.Progress(os.Stdout, logger)))
	}
	build, err := assets.New(cfg, layout, assets.DefaultTools(cfg), opts...)
	if err != nil {
		return nil, nil, logger, err
	}
	return build, cfg, logger, nil
}

func runTasks(ctx context.Context, cli *CLI, tasks []string) error {
	build, cfg, logger, err := setup(cli, true)
	if err != nil {
		return err
	}
	defer build.Close()

	if cfg.File == "" {
		logger.Debug().Str("root", cfg.Root).Msg("No settings file found, using defaults")
	}
	logger.Debug().
		Str("root", cfg.Root).
		Bool("production", cfg.Production).
		Strs("tasks", tasks).
		Msg("Starting build")

	ctx = logger.WithContext(ctx)
	return build.Run(ctx, tasks...)
}

func runPlan(cli *CLI) error {
	build, cfg, _, err := setup(cli, false)
	if err != nil {
		return err
	}
	defer build.Close()

	fmt.Printf("Project: %s\n", cfg.Root)
	if cfg.File != "" {
		fmt.Printf("Settings: %s\n", cfg.File)
	}
	if cfg.Layout != "" {
		fmt.Printf("Layout: %s\n", cfg.Layout)
	}
	fmt.Printf("Production: %t\n\n", cfg.Production)
	return build.Plan(os.Stdout)
}
