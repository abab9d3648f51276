package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/italolelis/apphub_installer/internal/catalog"
	"github.com/italolelis/apphub_installer/internal/installstate"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Refresh the catalog once and print every app's install state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := setup(cmd.Context(), os.Stderr)
			if err != nil {
				return err
			}

			cfg.TelemetryEnabled = false

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			c, err := a.refresh(ctx, force)
			if err != nil {
				return err
			}

			return printStates(cmd.OutOrStdout(), c, a.registry)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "ignore the cached catalog")

	return cmd
}

func printStates(out io.Writer, c *catalog.Catalog, registry *installstate.Registry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "ID\tNAME\tVERSION\tSIZE\tSTATE")

	for _, app := range c.Apps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			app.ID, app.Name, app.Version, app.FormattedSize(), registry.StateFor(app.ID))
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}

	return nil
}
