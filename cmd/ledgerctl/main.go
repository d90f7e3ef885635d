// Command ledgerctl is the operator CLI for lexledger: schema migrations,
// one-off data repair and manual job triggers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/lexledger/lexledger/cmd/ledgerctl/cli"
	"github.com/lexledger/lexledger/internal/app"
	"github.com/lexledger/lexledger/internal/billing"
	"github.com/lexledger/lexledger/internal/platform/cache"
	"github.com/lexledger/lexledger/internal/platform/db"
)

// exitCodeError carries a status from a command that already reported
// its own failure.
type exitCodeError int

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

type env struct {
	cfg    *app.Config
	logger *slog.Logger
}

func (e *env) pool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.New(ctx, e.cfg.PGDSN, db.WithApplicationName("ledgerctl"), db.WithMaxConns(2))
}

// billingService shares the API's Redis invoice locks so repairs never
// interleave with live transitions. The returned func closes Redis.
func (e *env) billingService(ctx context.Context, pool *pgxpool.Pool) (*billing.Service, func(), error) {
	rdb, err := cache.New(ctx, e.cfg.RedisAddr, e.cfg.RedisOptions()...)
	if err != nil {
		return nil, nil, err
	}
	svc := app.NewBillingService(e.cfg, app.BillingDeps{Pool: pool, Redis: rdb, Logger: e.logger})
	return svc, func() {
		if err := rdb.Close(); err != nil {
			e.logger.Warn("redis close", slog.Any("error", err))
		}
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var code exitCodeError
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the lexledger billing service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			e.cfg = cfg
			e.logger = app.NewServiceLogger(cfg, "ledgerctl")
			return nil
		},
	}
	root.AddCommand(newMigrateCmd(e), newNormalizeCmd(e), newJobsCmd(e))
	return root
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := e.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			applied, err := db.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func newNormalizeCmd(e *env) *cobra.Command {
	var opts cli.NormalizeOptions
	cmd := &cobra.Command{
		Use:   "normalize-statuses",
		Short: "Rewrite legacy invoice statuses onto the canonical set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := e.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			svc, closeRedis, err := e.billingService(cmd.Context(), pool)
			if err != nil {
				return err
			}
			defer closeRedis()
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()
			if code := cli.NormalizeCommand(cmd.Context(), svc, opts); code != 0 {
				return exitCodeError(code)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report the changes without writing them")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "print the report as JSON")
	return cmd
}

func newJobsCmd(e *env) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	withJobs := func(fn func(cmd *cobra.Command, c *cli.JobsCLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := cli.NewJobsCLI(e.cfg.AsynqRedis())
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					e.logger.Warn("close jobs cli", slog.Any("error", err))
				}
			}()
			return fn(cmd, c, args)
		}
	}

	overdue := &cobra.Command{
		Use:   "overdue-scan",
		Short: "Enqueue an immediate overdue scan",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *cli.JobsCLI, _ []string) error {
			info, err := c.TriggerOverdueScan(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", info.Type, info.ID)
			return nil
		}),
	}

	var invoiceID int64
	sent := &cobra.Command{
		Use:   "invoice-sent",
		Short: "Re-enqueue the sent notification of an invoice",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *cli.JobsCLI, _ []string) error {
			if invoiceID <= 0 {
				return errors.New("--invoice is required")
			}
			pool, err := e.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			svc, closeRedis, err := e.billingService(cmd.Context(), pool)
			if err != nil {
				return err
			}
			defer closeRedis()
			inv, err := svc.GetInvoice(cmd.Context(), invoiceID)
			if err != nil {
				return err
			}
			if inv.Status != billing.StatusSent {
				return fmt.Errorf("invoice %s is %s, not SENT", inv.Number, inv.Status)
			}
			if err := c.TriggerInvoiceSent(cmd.Context(), billing.NewInvoiceSentEvent(inv, 0, inv.UpdatedAt)); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued sent notification for %s\n", inv.Number)
			return nil
		}),
	}
	sent.Flags().Int64Var(&invoiceID, "invoice", 0, "invoice id")

	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Enqueue a job now",
	}
	trigger.AddCommand(overdue, sent)

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *cli.JobsCLI, _ []string) error {
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}),
	}

	jobsCmd.AddCommand(trigger, stats)
	return jobsCmd
}
