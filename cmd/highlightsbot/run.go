package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/auth"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/bot"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/observability"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot until interrupted",
	RunE:  runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	if bot.NewRedditClient == nil || bot.NewMediaClient == nil {
		return errors.New("no reddit/media client registered in this build")
	}

	// Missing credentials abort startup; the bot cannot degrade without them.
	creds, err := auth.NewManager(cfg.DataDir)
	if err != nil {
		return err
	}
	if _, err := creds.Load(cfg.Username); err != nil {
		return errors.New("no stored credentials for " + cfg.Username + "; run `highlightsbot auth set` first")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}

	rc, err := bot.NewRedditClient(cfg)
	if err != nil {
		return err
	}
	mc, err := bot.NewMediaClient(cfg)
	if err != nil {
		return err
	}

	log.Info().Str("version", version).Str("db", cfg.DBPath).Msg("starting bot")
	return bot.New(cfg, db, rc, mc, bot.ExtractUsers, log).Run(ctx)
}
