// Command conclaved is the CLI for the conclave orchestration runtime.
//
// Usage:
//
//	conclaved run --profiles ./profiles --principal Principal "goal text"
//	conclaved serve --profiles ./profiles --addr :8080
//	conclaved version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/conclave"
)

// CLI defines the command-line interface and its global flags.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Run a single goal to completion on stdout."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server and stream run events over SSE."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to engine config YAML." type:"path" default:"config.yaml"`
	Profiles  string `help:"Directory of agent profile YAML files." type:"path" default:"profiles"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"json"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("conclaved"),
		kong.Description("Principal/Associate multi-agent orchestration runtime."),
		kong.UsageOnError(),
	)

	setupLogger(cli.LogLevel, cli.LogFormat)

	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}

func setupLogger(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(conclave.GetVersion().String())
	return nil
}
