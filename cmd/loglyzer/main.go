package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/app"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/config"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/logging"
)

var version = "0.1.0"

// CLI is the command line. Defaults live in the config package so that a
// flag only overrides the file when it is given.
type CLI struct {
	Inputs []string `arg:"" optional:"" name:"path" help:"Access log files or glob patterns (** supported)."`

	Config       string        `short:"c" help:"YAML config file (default ./${config_file} when present)."`
	Pattern      string        `short:"p" help:"Extraction pattern: common, combined, nginx, or a regex/grok pattern with ip, time, url and status groups."`
	TimeFormat   string        `name:"time-format" help:"Go time layout of the time field."`
	Since        string        `help:"Only count requests at or after this time (RFC3339 or '2006-01-02 15:04')."`
	Until        string        `help:"Only count requests at or before this time."`
	Follow       bool          `short:"f" help:"Keep following the files for new lines."`
	FromStart    bool          `name:"from-start" help:"In follow mode, read existing content first."`
	PollInterval time.Duration `name:"poll-interval" help:"How often followed files are checked."`
	ExportHTML   string        `name:"export-html" help:"Write an HTML report to this path or s3://bucket/key."`
	Serve        int           `help:"Serve live stats as JSON on this port."`
	TopN         int           `name:"top-n" help:"Number of top clients and paths to keep in reports."`
	BucketWidth  time.Duration `name:"bucket-width" help:"Width of the request-count time buckets."`
	RejectFile   string        `name:"reject-file" help:"Append unparsable lines to this JSON-lines file."`
	Echo         bool          `help:"In follow mode, print every admitted line."`
	LogLevel     string        `name:"log-level" help:"Log level (debug, info, warn, error)."`
	LogFormat    string        `name:"log-format" help:"Log format (console, json)."`
	CPUProfile   string        `name:"cpu-profile" help:"Write a CPU profile of the run to this file."`
	MemProfile   string        `name:"mem-profile" help:"Write a heap profile to this file when the run ends."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("loglyzer"),
		kong.Description("Summarize web server access logs, once or continuously."),
		kong.UsageOnError(),
		kong.Vars{
			"version":     version,
			"config_file": config.DefaultFile,
		},
	)

	if err := run(&cli, flagsSet(ctx)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flagsSet records which flags were given on the command line
func flagsSet(ctx *kong.Context) map[string]bool {
	set := map[string]bool{}
	for _, p := range ctx.Path {
		if p.Flag != nil {
			set[p.Flag.Name] = true
		}
	}
	return set
}

func run(cli *CLI, set map[string]bool) error {
	cfg, err := config.Resolve(cli.Config, cli.overrides(set))
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	logger.Debug().Str("version", version).Strs("inputs", cfg.Inputs).Msg("Starting loglyzer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// overrides maps explicitly given flags onto config overrides
func (c *CLI) overrides(set map[string]bool) config.Overrides {
	o := config.Overrides{Inputs: c.Inputs}

	str := func(name string, v string) *string {
		if set[name] {
			return &v
		}
		return nil
	}
	flag := func(name string, v bool) *bool {
		if set[name] {
			return &v
		}
		return nil
	}
	dur := func(name string, v time.Duration) *time.Duration {
		if set[name] {
			return &v
		}
		return nil
	}
	num := func(name string, v int) *int {
		if set[name] {
			return &v
		}
		return nil
	}

	o.Pattern = str("pattern", c.Pattern)
	o.TimeFormat = str("time-format", c.TimeFormat)
	o.Since = str("since", c.Since)
	o.Until = str("until", c.Until)
	o.ExportHTML = str("export-html", c.ExportHTML)
	o.RejectFile = str("reject-file", c.RejectFile)
	o.LogLevel = str("log-level", c.LogLevel)
	o.LogFormat = str("log-format", c.LogFormat)
	o.CPUProfile = str("cpu-profile", c.CPUProfile)
	o.MemProfile = str("mem-profile", c.MemProfile)
	o.Follow = flag("follow", c.Follow)
	o.FromStart = flag("from-start", c.FromStart)
	o.Echo = flag("echo", c.Echo)
	o.PollInterval = dur("poll-interval", c.PollInterval)
	o.BucketWidth = dur("bucket-width", c.BucketWidth)
	o.Serve = num("serve", c.Serve)
	o.TopN = num("top-n", c.TopN)

	return o
}
