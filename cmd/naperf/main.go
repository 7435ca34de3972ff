package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"naperf/internal/app"
)

const (
	exitCodeFailure = 1
	exitCodeUsage   = 2
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// options defines command line options for both the agent and the
// standalone query mode.
type options struct {
	Config   string `short:"c" long:"config" description:"path to TOML config file or directory" default:"config.toml"`
	Server   string `short:"s" long:"server" description:"query one device directly instead of running the agent"`
	User     string `short:"u" long:"user" description:"API user for --server"`
	Password string `short:"p" long:"password" description:"API password for --server"`
	Insecure bool   `short:"k" long:"insecure" description:"connect to --server over HTTPS without certificate verification"`
	Version  bool   `short:"v" long:"version" description:"show build information"`
}

// run starts the agent process or a one-shot device query.
// Params: none.
// Returns: process exit code.
func run() int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "naperf"
	parser.Usage = "[OPTIONS] [objects | info <object> | instances <object> [filter] | metrics <object> [instance]]"

	rest, err := parser.Parse()
	if err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		return exitCodeUsage
	}

	if opts.Version {
		fmt.Printf("naperf version=%s commit=%s date=%s\n", version, commit, date)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Server != "" {
		return runQuery(ctx, opts, rest)
	}
	if len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "error: action %q requires --server\n", rest[0])
		return exitCodeUsage
	}

	reloadSignal := make(chan os.Signal, 1)
	signal.Notify(reloadSignal, syscall.SIGHUP)
	defer signal.Stop(reloadSignal)

	reload := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadSignal:
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		}
	}()

	if err := app.Run(ctx, app.Runtime{ConfigPath: opts.Config, Reload: reload}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeFailure
	}

	return 0
}

func main() {
	os.Exit(run())
}
