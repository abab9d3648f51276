package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	CatalogURL      string        `envconfig:"CATALOG_URL" required:"true"`
	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"1h"`

	AppsDir     string `envconfig:"APPS_DIR" default:"apps"`
	DownloadDir string `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	TempDir     string `envconfig:"TEMP_DIR"`
	DBPath      string `envconfig:"DB_PATH" default:"apphub.db"`

	SettleDelay     time.Duration `envconfig:"SETTLE_DELAY" default:"2s"`
	ProbeTimeout    time.Duration `envconfig:"PROBE_TIMEOUT" default:"10s"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	TransferTimeout time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"300s"`

	RefreshInterval  time.Duration `envconfig:"REFRESH_INTERVAL" default:"5m"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	KeepArtifactsFor time.Duration `envconfig:"KEEP_ARTIFACTS_FOR" default:"168h"`
	WatchDebounce    time.Duration `envconfig:"WATCH_DEBOUNCE" default:"1s"`

	ConnectivityProbeAddr string        `envconfig:"CONNECTIVITY_PROBE_ADDR" default:"1.1.1.1:443"`
	ConnectivityInterval  time.Duration `envconfig:"CONNECTIVITY_INTERVAL" default:"30s"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	NATSURL           string `envconfig:"NATS_URL"`
	NATSSubject       string `envconfig:"NATS_SUBJECT" default:"apphub.notifications"`

	TelemetryEnabled        bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`
	TelemetryServiceName    string `envconfig:"TELEMETRY_SERVICE_NAME" default:"apphub_installer"`
	TelemetryServiceVersion string `envconfig:"TELEMETRY_SERVICE_VERSION" default:"dev"`
	OTLPEndpoint            string `envconfig:"OTLP_ENDPOINT"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9292"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig loads the given .env files, when they exist, and then reads
// environment variables into a Config. Variables already set in the
// environment win over the files.
func LoadConfig(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
