package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/italolelis/apphub_installer/internal/config"
	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "apphub_installer",
	Short: "Catalog driven app installer",
	Long: `apphub_installer keeps a local view of an app catalog in sync with the
apps installed on this machine. It downloads, hands off and tracks installs,
and serves that state to UI clients over HTTP and WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file loaded before the environment")

	rootCmd.AddCommand(
		serveCmd(),
		statusCmd(),
		installCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and returns a context carrying a JSON logger
// that writes to out.
func setup(ctx context.Context, out io.Writer) (context.Context, *config.Config, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewContextHandler(handler))
	slog.SetDefault(logger)

	return logctx.WithLogger(ctx, logger), cfg, nil
}
