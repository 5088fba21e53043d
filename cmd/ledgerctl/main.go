// Command ledgerctl triggers inventory jobs, inspects the job queues and
// reconciles a product's ledger directly against the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/retailops/stockledger/cmd/ledgerctl/cli"
	"github.com/retailops/stockledger/internal/app"
	"github.com/retailops/stockledger/internal/inventory"
	"github.com/retailops/stockledger/internal/platform/db"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  trigger    enqueue a job (-job revaluation|expiry|reconcile|cleanup)
  queue      show queue statistics
  reconcile  replay one product's ledger (-product ID)
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		fs.SetOutput(stderr)
		var params cli.TriggerParams
		jsonOut := fs.Bool("json", false, "print JSON")
		fs.StringVar(&params.Job, "job", "", "job name")
		fs.Int64Var(&params.ProductID, "product", 0, "limit to one product")
		fs.IntVar(&params.WithinDays, "within-days", 0, "expiry window in days")
		fs.DurationVar(&params.Retention, "retention", cfg.IdempotencyRetention, "idempotency key retention")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		return jobsCLI.TriggerCommand(ctx, params, cli.CommandOptions{JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr})
	case "queue":
		fs := flag.NewFlagSet("queue", flag.ContinueOnError)
		fs.SetOutput(stderr)
		jsonOut := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		return jobsCLI.QueueCommand(ctx, cli.CommandOptions{JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr})
	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
		fs.SetOutput(stderr)
		productID := fs.Int64("product", 0, "product id")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *productID <= 0 {
			_, _ = fmt.Fprintln(stderr, "reconcile: -product is required and must be positive")
			return 2
		}
		return reconcile(ctx, cfg, *productID, stdout, stderr)
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
}

func reconcile(ctx context.Context, cfg *app.Config, productID int64, stdout, stderr io.Writer) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "reconcile: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := inventory.NewService(inventory.NewRepository(pool), inventory.ServiceConfig{}, inventory.ServiceDeps{
		Logger: slog.New(slog.NewTextHandler(stderr, nil)),
	})
	report, err := svc.Reconcile(ctx, productID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "reconcile: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		_, _ = fmt.Fprintf(stderr, "reconcile: encode: %v\n", err)
		return 1
	}
	if !report.Consistent() {
		return 10
	}
	return 0
}
