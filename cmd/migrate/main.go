package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/vladislavdragonenkov/stockorders/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
)

type options struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Getenv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fail("%v", err)
	}
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVarP(&opts.direction, "direction", "d", "up", "migration direction: up|down|status")
	fs.IntVarP(&opts.steps, "steps", "n", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: OMS_POSTGRES_DSN)")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}
	if opts.steps < 0 {
		return options{}, fmt.Errorf("steps must be >= 0, got %d", opts.steps)
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv("OMS_POSTGRES_DSN"))
	}
	if opts.dsn == "" {
		return options{}, errors.New("OMS_POSTGRES_DSN (or --dsn) is required")
	}
	return opts, nil
}

func run(args []string, out io.Writer, getenv func(string) string) error {
	opts, err := parseOptions(args, getenv)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n",
		opts.direction, state.Version, state.Applied, state.Pending)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
