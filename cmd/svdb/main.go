// Command svdb stores, retrieves and verifies content-addressed objects, and
// serves a store over HTTP.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/wolfeidau/svdb/config"
)

// Globals are flags shared by every command.
type Globals struct {
	Config    string `help:"Path to a YAML config file." type:"path" env:"SVDB_CONFIG"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides the config file."`
	LogFormat string `help:"Log format (text, json). Overrides the config file."`

	out    io.Writer `kong:"-"`
	logOut io.Writer `kong:"-"`
}

// CLI is the svdb command line.
type CLI struct {
	Globals

	Hash     HashCmd     `cmd:"" help:"Print the digest of a file without storing it."`
	Store    StoreCmd    `cmd:"" help:"Store a file and print its digest."`
	Retrieve RetrieveCmd `cmd:"" help:"Write a stored object to a file or stdout."`
	Verify   VerifyCmd   `cmd:"" help:"Recompute the digests of a stored object."`
	Batch    BatchCmd    `cmd:"" help:"Store many files concurrently."`
	Stat     StatCmd     `cmd:"" help:"Describe a stored object."`
	List     ListCmd     `cmd:"" help:"List stored objects."`
	Serve    ServeCmd    `cmd:"" help:"Serve the store over HTTP."`
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli := CLI{Globals: Globals{out: stdout, logOut: stderr}}

	parser, err := kong.New(&cli,
		kong.Name("svdb"),
		kong.Description("Content-addressed object storage."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	return kctx.Run(&cli.Globals)
}

// loadConfig loads the config file and applies the global flag overrides.
func (g *Globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	return cfg, nil
}

// newLogger builds the process logger from the log config. Text output
// uses tint.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text", "":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    os.Getenv("NO_COLOR") != "",
		})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	return slog.New(handler), nil
}

// setup loads configuration and installs the logger as the default.
func (g *Globals) setup() (*config.Config, *slog.Logger, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Log, g.logOut)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
