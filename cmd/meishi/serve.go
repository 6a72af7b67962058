package main

import (
	"log/slog"
	"os"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/meishi-bot/meishi/internal/config"
	"github.com/meishi-bot/meishi/internal/pipeline"
	"github.com/meishi-bot/meishi/internal/report"
	"github.com/meishi-bot/meishi/internal/server"
	"github.com/meishi-bot/meishi/internal/server/endpoints"
	"github.com/meishi-bot/meishi/internal/store"
	"github.com/meishi-bot/meishi/internal/svcctx"
	"github.com/meishi-bot/meishi/internal/vision"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the meishi server",
	Long: `Start the meishi HTTP server.

The server receives Slack file_share events, runs the extraction
pipeline against each attached card image, writes non-duplicate
records to FileMaker and reports results into the Slack thread.

Endpoints:
  - /health             - Basic server health check
  - /api/cards/upload   - Direct batch upload (multipart)
  - /api/cards/confirm  - Confirm a withheld record
  - /slack/events       - Slack Events API callback
  - /slack/interactions - Slack interactive actions

Examples:
  meishi serve                    # Start on default port 8080
  meishi serve --port 3000        # Start on custom port
  meishi serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		// Load config with hot-reload support
		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cm.WatchConfig()

		cfg := cm.Get().Resolved()
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != "" {
			cfg.Server.Port = servePort
		}

		// Wire the pipeline
		extractor := vision.NewOpenAIClient(vision.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		})

		fmStore := store.NewFileMakerClient(store.FileMakerConfig{
			Server:   cfg.FileMaker.Server,
			Database: cfg.FileMaker.Database,
			Layout:   cfg.FileMaker.Layout,
			Username: cfg.FileMaker.Username,
			Password: cfg.FileMaker.Password,
		})

		slackClient := slack.New(cfg.Slack.BotToken)
		reporter := report.NewSlackReporter(report.SlackConfig{
			Client:      slackClient,
			ChunkSize:   cfg.Limits.ChunkSize,
			OpenFileURL: cfg.Slack.OpenFileURL,
			Logger:      logger,
		})

		proc := pipeline.New(extractor, fmStore, logger)

		services := &svcctx.Services{
			Pipeline:  proc,
			Store:     fmStore,
			Extractor: extractor,
			Reporter:  reporter,
			ConfigMgr: cm,
			Logger:    logger,
		}

		srv, err := server.New(server.Config{
			Host:     cfg.Server.Host,
			Port:     cfg.Server.Port,
			Services: services,
			Endpoints: endpoints.Config{
				SlackClient:   slackClient,
				SigningSecret: cfg.Slack.SigningSecret,
				MaxImages:     cfg.Limits.MaxImages,
			},
			ConfigManager: cm,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}
