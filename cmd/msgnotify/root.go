package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"msgnotify/internal/app"
	"msgnotify/internal/config"
)

const stopTimeout = 15 * time.Second

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "msgnotify",
		Short:         "Aggregated notifications for incoming messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./msgnotify.yaml", "path to config (yaml or json)")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newCheckConfigCmd(&cfgPath),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the notifier until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, *cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return fmt.Errorf("start: %w", err)
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}

			sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
			defer scancel()
			stopErr := a.Stop(sctx)
			if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return stopErr
		},
	}
}

func newCheckConfigCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", *cfgPath)
			fmt.Fprintf(out, "  store:     %s\n", orDefault(cfg.Store.Driver, "memory"))
			fmt.Fprintf(out, "  presenter: %s\n", orDefault(cfg.Presenter.Driver, "log"))
			fmt.Fprintf(out, "  transport: %s\n", orDefault(cfg.Transport.Driver, "log"))
			if cfg.Server.Addr != "" {
				fmt.Fprintf(out, "  server:    %s\n", cfg.Server.Addr)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "msgnotify %s (%s)\n", version, commit)
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
