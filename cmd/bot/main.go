package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"reelbot/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "reelbot",
		Short:         "Telegram video push bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	root.AddCommand(newRunCmd(&cfgPath), newDedupCmd(&cfgPath), newExportCmd(&cfgPath))
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Telegram and serve until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *cfgPath)
		},
	}
}

func newDedupCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dedup",
		Short: "Remove duplicate catalog entries and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			off, err := app.OpenOffline(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer off.Close()
			rep, err := off.Deduplicate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d, remaining %d\n", rep.Removed, rep.Remaining)
			return nil
		},
	}
}

func newExportCmd(cfgPath *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the catalog and progress archive to a zip file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			off, err := app.OpenOffline(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer off.Close()
			return off.ExportTo(cmd.Context(), out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "reelbot-export.zip", "archive path")
	return cmd
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx)
		return fmt.Errorf("start: %w", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
	return a.Err()
}
