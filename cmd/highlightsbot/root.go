package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/config"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/repo"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/sysutil"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "highlightsbot",
	Short: "Reddit bot that replies with Instagram highlights",
	Long: `highlightsbot watches Reddit comment, submission, and mention streams,
detects Instagram usernames, and replies with each user's top media.

All bookkeeping (dedup, blacklist, rate-limit ledgers, work queues) lives
in a shared SQLite database so several bot processes can cooperate.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration, then applies the logging
// settings. Every subcommand goes through here.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	return cfg, sysutil.NewLogger(cfg.LogPretty), nil
}

// openDB opens the shared store and applies migrations.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
