package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/apphub_installer/internal/installer"
	"github.com/italolelis/apphub_installer/internal/installstate"
	"github.com/spf13/cobra"
)

func installCmd() *cobra.Command {
	var retry bool

	cmd := &cobra.Command{
		Use:   "install <app-id>",
		Short: "Download and install one app, waiting for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctx, cfg, err := setup(ctx, os.Stderr)
			if err != nil {
				return err
			}

			cfg.TelemetryEnabled = false

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			return runInstall(ctx, a, args[0], retry, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&retry, "retry", false, "clear a previous failure before installing")

	return cmd
}

func runInstall(ctx context.Context, a *app, appID string, retry bool, out io.Writer) error {
	c, err := a.refresh(ctx, false)
	if err != nil {
		return err
	}

	rec, ok := c.App(appID)
	if !ok {
		return fmt.Errorf("app %q is not in the catalog", appID)
	}

	changes, unsubscribe := a.registry.Subscribe()
	defer unsubscribe()

	start := a.installer.Install
	if retry {
		start = a.installer.Retry
	}

	if err := start(ctx, rec); err != nil {
		if errors.Is(err, installer.ErrInProgress) {
			return fmt.Errorf("%s is already being installed", rec.Name)
		}

		return err
	}

	// every attempt ends with a commit that leaves the in-flight states
	cancelled := ctx.Done()
	started := false

	for {
		select {
		case <-cancelled:
			a.installer.Cancel(appID)
			cancelled = nil
		case change := <-changes:
			if change.AppID != appID {
				continue
			}

			fmt.Fprintf(out, "%s: %s\n", rec.Name, change.Current)

			if change.Current.InFlight() {
				started = true

				continue
			}

			if started {
				a.installer.Wait()

				if err := ctx.Err(); err != nil {
					return err
				}

				return installResult(a, rec.Name, appID)
			}
		}
	}
}

func installResult(a *app, name, appID string) error {
	state := a.registry.StateFor(appID)

	switch state.Status {
	case installstate.StatusFailed:
		if info := a.installer.LastError(); info != nil && info.AppID == appID {
			return fmt.Errorf("%s: %s", name, info.Message)
		}

		return fmt.Errorf("%s: %s", name, state.ErrorMessage)
	case installstate.StatusNotInstalled:
		return fmt.Errorf("%s was not installed", name)
	}

	return nil
}
