package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/busybox42/postbox/internal/api"
	"github.com/busybox42/postbox/internal/config"
	"github.com/busybox42/postbox/internal/dispatch"
	"github.com/busybox42/postbox/internal/runner"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run one queue cycle and send eligible e-mails",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		summary, err := a.runner.Run(cmd.Context())
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

var resendCmd = &cobra.Command{
	Use:   "resend [id]",
	Short: "Queue failed e-mails again as fresh records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if len(args) == 1 {
			parsed, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			id = parsed
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		failed, err := a.store.GetFailed(ctx, id)
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			fmt.Println("There are no failed e-mails to resend.")
			return nil
		}

		for _, email := range failed {
			retried, err := a.sender.Retry(ctx, email)
			if err != nil {
				return fmt.Errorf("retrying e-mail %d: %w", email.ID, err)
			}
			fmt.Printf("Queued e-mail %d again as %d.\n", email.ID, retried.ID)
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset [id]",
	Short: "Reset failed e-mails back to pending in place",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if len(args) == 1 {
			parsed, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			id = parsed
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.store.ResetFailed(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Reset %d e-mail(s) back to pending.\n", n)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued jobs from redis until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		d, err := dispatch.New(dispatch.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Queue:    a.cfg.Redis.Queue,
		})
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Worker started; press Ctrl+C to stop.")
		return dispatch.NewWorker(d, a.store, a.sender).Run(ctx)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release stale sending claims left by crashed workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		olderThan, err := cmd.Flags().GetDuration("older-than")
		if err != nil {
			return err
		}
		if olderThan <= 0 {
			olderThan = config.Duration(a.cfg.Retention.StaleSendingAfter, time.Hour)
		}

		n, err := a.store.ReleaseStale(cmd.Context(), time.Now().UTC().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Printf("Released %d stale claim(s).\n", n)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sent, failed, and soft-deleted e-mails past retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		olderThan, err := cmd.Flags().GetDuration("older-than")
		if err != nil {
			return err
		}
		if olderThan <= 0 {
			olderThan = config.Duration(a.cfg.Retention.PruneAfter, 180*24*time.Hour)
		}

		n, err := a.store.Prune(cmd.Context(), time.Now().UTC().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d e-mail(s).\n", n)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Schema is up to date.")
		return nil
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the read-only queue API and metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		listen := a.cfg.API.Listen
		if listen == "" {
			listen = ":8080"
		}
		srv := api.NewServer(listen, a.store, a.metrics)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		fmt.Printf("API listening on %s; press Ctrl+C to stop.\n", listen)
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	},
}

var testCmd = &cobra.Command{
	Use:   "test <recipient>",
	Short: "Queue a simple test e-mail to verify the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		email, err := a.mailer().Compose().
			Label("test").
			ToAddress(args[0]).
			Subject("Postbox test e-mail").
			Body("<p>This is a test e-mail queued by the postbox CLI.</p>").
			Send(cmd.Context())
		if err != nil {
			return err
		}

		if email.IsSent() {
			fmt.Printf("Test e-mail %d sent to %s.\n", email.ID, args[0])
		} else {
			fmt.Printf("Test e-mail %d queued for %s; run `postbox send` to deliver it.\n", email.ID, args[0])
		}
		return nil
	},
}

func init() {
	unlockCmd.Flags().Duration("older-than", 0, "release claims older than this (default from config)")
	pruneCmd.Flags().Duration("older-than", 0, "delete records older than this (default from config)")
}

// printSummary renders the cycle outcome the way an operator reads it: a
// short sentence for an empty queue, otherwise one table row per record.
func printSummary(summary runner.Summary) {
	if summary.Empty() {
		fmt.Println("There is nothing to send.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRecipient\tSubject\tStatus")
	for _, r := range summary.Results {
		status := r.Status
		if r.Status == runner.StatusFailed && r.Error != "" {
			status = fmt.Sprintf("%s (%s)", r.Status, r.Error)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.ID, r.Recipients, r.Subject, status)
	}
	w.Flush()

	if summary.BudgetExceeded {
		fmt.Println("Cycle budget exceeded; remaining e-mails were skipped.")
	}
	fmt.Printf("Processed %d e-mail(s) in %s.\n", len(summary.Results), summary.Duration.Round(time.Millisecond))
}
