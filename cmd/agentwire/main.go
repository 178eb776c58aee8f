// Command agentwire runs an A2A agent wrapper or the orchestrator.
//
// Usage:
//
//	agentwire agent --config config.yaml
//	agentwire orchestrator --config config.yaml
//	agentwire version
package main

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/agentwire/agentwire/pkg/config"
	"github.com/agentwire/agentwire/pkg/logger"
	"github.com/agentwire/agentwire/pkg/metrics"
)

// CLI defines the command-line interface.
type CLI struct {
	Version      VersionCmd      `cmd:"" help:"Show version information."`
	Agent        AgentCmd        `cmd:"" help:"Start an A2A agent wrapper."`
	Orchestrator OrchestratorCmd `cmd:"" help:"Start the orchestrator."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("agentwire version %s\n", version)
	return nil
}

// loadConfig reads the config file (or defaults) shared by both roles.
func loadConfig(cli *CLI) (*config.Config, error) {
	if cli.Config == "" {
		return config.Default(), nil
	}
	return config.Load(cli.Config)
}

// initLogging applies CLI overrides on top of config, opens the log
// file if requested, and installs the default slog logger.
func initLogging(cli *CLI, cfg *config.Config) (func(), error) {
	levelStr := cli.LogLevel
	if levelStr == "" {
		levelStr = cfg.Logging.Level
	}
	format := cli.LogFormat
	if format == "" {
		format = cfg.Logging.Format
	}
	file := cli.LogFile
	if file == "" {
		file = cfg.Logging.File
	}

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	var output io.Writer = os.Stderr
	cleanup := func() {}
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, err
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(level, format, output)
	return cleanup, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentwire"),
		kong.Description("A2A agent wrapper and multi-agent orchestrator"),
		kong.UsageOnError(),
	)

	metrics.Init()

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
