package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/app"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/reconcile"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/storage/blob"
)

var (
	reconcileDryRun bool
	reconcileGrace  time.Duration
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Delete stored conversation content no index row references",
	Long: `Walks the blob store and removes every blob older than the grace
period whose content key is absent from the index. Such blobs are left behind
when an ingestion fails after its content was written. With --dry-run the
orphans are only listed. The blob directory must not be open in a running
server; a server with reconcile.interval set runs the same pass itself.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report orphans without deleting them")
	reconcileCmd.Flags().DurationVar(&reconcileGrace, "grace-period", 0, "skip blobs younger than this (overrides reconcile.gracePeriod)")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	// Against an empty in-memory index every blob would look orphaned.
	if !cfg.Postgres.Enabled {
		return errors.New("reconcile needs the postgres index; postgres is disabled")
	}

	rcfg := reconcile.Config{
		GracePeriod: cfg.Reconcile.GracePeriod,
		DryRun:      cfg.Reconcile.DryRun || reconcileDryRun,
	}
	if cmd.Flags().Changed("grace-period") {
		rcfg.GracePeriod = reconcileGrace
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := app.New(cfg, nil)
	defer rt.Close()
	b, err := rt.Backends(ctx)
	if errors.Is(err, blob.ErrLocked) {
		return fmt.Errorf("blob directory %s is held by a running archive server; "+
			"stop it, or let the server reconcile on reconcile.interval: %w", cfg.Blob.Dir, err)
	}
	if err != nil {
		return fmt.Errorf("opening stores: %w", err)
	}

	report, err := reconcile.New(b.Blobs, b.Index, rcfg, nil).Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	verb := "Deleted"
	if report.DryRun {
		verb = "Would delete"
	}
	for _, key := range report.Orphans {
		cmd.Printf("  %s\n", key)
	}
	cmd.Printf("Scanned %d blobs (%d within grace period). %s %d orphans, %d failed.\n",
		report.Scanned, report.Skipped, verb, len(report.Orphans)-report.Failed, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d orphaned blobs could not be deleted", report.Failed)
	}
	return nil
}
