// Command htstransfer is the operator CLI for token transfers and balance
// checks. It reads the same configuration as the relay.
//
// Usage:
//
//	htstransfer transfer -to 0.0.1234567 -amount 1000 [-token 0.0.x] [-from 0.0.x -key HEX]
//	htstransfer balance  -account 0.0.1234567 [-token 0.0.x]
//	htstransfer batch    -file transfers.yaml
//	htstransfer topic    -id 0.0.x
//	htstransfer example  -to 0.0.1234567 [-amount 1000] [-wait 2s]
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/whistlenet/hcs-relay/internal/app"
	"github.com/whistlenet/hcs-relay/internal/cli"
	"github.com/whistlenet/hcs-relay/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("htstransfer: %v", err)
	}
}

func init() {
	log.SetFlags(0)
	log.SetPrefix("[htstransfer] ")
}

type command func(ctx context.Context, c *runner, args []string) error

var commands = map[string]command{
	"transfer": runTransfer,
	"balance":  runBalance,
	"batch":    runBatch,
	"topic":    runTopic,
	"example":  runExample,
}

// runner carries what every subcommand needs.
type runner struct {
	cfg     config.Config
	app     *app.Application
	out     io.Writer
	printer *cli.Printer
}

func newRunner(cfg config.Config, application *app.Application, out io.Writer) *runner {
	return &runner{cfg: cfg, app: application, out: out, printer: cli.NewPrinter(out)}
}

func run(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError()
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", args[0], usageError())
	}

	// The CLI never serves HTTP; drop limiter and audit wiring.
	cfg.HTTP.RateLimitRPS = 0
	cfg.Audit.Schedule = ""
	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Shutdown(context.Background())

	return cmd(ctx, newRunner(cfg, application, out), args[1:])
}

func usageError() error {
	return fmt.Errorf("usage: htstransfer <transfer|balance|batch|topic|example> [flags]")
}

// pending shows a spinner around a ledger round trip and reports the
// outcome.
func (c *runner) pending(label string, fn func() (string, error)) error {
	sp := cli.NewSpinner(c.printer, label)
	sp.Start()
	status, err := fn()
	if err != nil {
		sp.Error(err.Error())
		return err
	}
	sp.Success(status)
	return nil
}

// field prints one aligned "label : value" line.
func (c *runner) field(label string, value interface{}) {
	fmt.Fprintf(c.out, "%-25s: %v\n", label, value)
}

func (c *runner) banner(title string) {
	fmt.Fprintf(c.out, "------------------------- %s -------------------------\n", title)
}
