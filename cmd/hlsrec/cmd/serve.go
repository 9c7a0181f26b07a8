package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsrec/internal/apiserver"
	"github.com/jmylchreest/hlsrec/internal/config"
	"github.com/jmylchreest/hlsrec/internal/eventbus"
	"github.com/jmylchreest/hlsrec/internal/historystore"
	"github.com/jmylchreest/hlsrec/internal/recorder"
	"github.com/jmylchreest/hlsrec/internal/startup"
	"github.com/jmylchreest/hlsrec/internal/version"
	"github.com/jmylchreest/hlsrec/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control-plane HTTP API",
	Long: `Start hlsrec's control-plane HTTP API.

Exposes:
- POST /v1/recordings to begin recording a resolved playlist URL
- DELETE /v1/recordings/{id} to stop the active recording
- GET /v1/recordings to list recording history
- GET /v1/recordings/{id}/events to stream a recording's lifecycle events
- OpenAPI documentation served by Huma`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database-dsn", "hlsrec.db", "Recording-history database path")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
}

func runServe(c *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	flags := c.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database-dsn") {
		cfg.Database.DSN, _ = flags.GetString("database-dsn")
	}

	store, err := historystore.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening recording history store: %w", err)
	}
	defer store.Close()

	httpClient := httpclient.New(httpclient.DefaultConfig())
	httpclient.DefaultRegistry.Register("hls-fetcher", httpClient)

	bus := eventbus.New()
	manager := recorder.NewManager(recorder.Deps{
		HTTPClient:          httpClient,
		FFprobePath:         cfg.FFmpeg.ProbePath,
		FFmpegPath:          cfg.FFmpeg.BinaryPath,
		BumperPath:          cfg.Storage.BumperPath,
		BumperMaxSegmentIdx: 2,
		SegmentMaxRetries:   cfg.Recorder.SegmentMaxRetries,
	}, bus)

	sweep := startCleanupSweep(logger, cfg.Storage.TempPath())
	defer sweep.Stop()

	server := apiserver.NewServer(cfg.Server, logger, version.Version)

	recordings := apiserver.NewRecordingsHandler(manager, store, bus, logger)
	recordings.Register(server.API())
	recordings.RegisterEvents(server.Router())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		manager.Stop()
		cancel()
	}()

	logger.Info("starting hlsrec control plane",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// startCleanupSweep schedules the orphaned-recording-directory sweep
// independently of any single recording's lifecycle, matching the
// reference server's startup cleanup but run on a recurring schedule
// rather than once at boot, since this daemon is typically long-lived.
func startCleanupSweep(logger *slog.Logger, tempDir string) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc("@hourly", func() {
		removed, err := startup.CleanupOrphanedTempDirs(logger, tempDir, "hlsrec-", 24*time.Hour)
		if err != nil {
			logger.Warn("orphaned temp directory sweep failed", slog.Any("error", err))
			return
		}
		if removed > 0 {
			logger.Info("swept orphaned temp directories", slog.Int("removed_count", removed))
		}
	})
	if err != nil {
		logger.Error("failed to schedule orphaned directory sweep", slog.Any("error", err))
	}
	c.Start()
	return c
}
