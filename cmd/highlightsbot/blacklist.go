package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/services"
)

var (
	blacklistSubreddit bool
	blacklistTemporary bool
)

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Manage the user/subreddit blacklist",
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Blacklist a user or subreddit",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlacklistAdd,
}

var blacklistRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a blacklist entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlacklistRemove,
}

var blacklistShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List active blacklist entries",
	Args:  cobra.NoArgs,
	RunE:  runBlacklistShow,
}

func init() {
	blacklistCmd.PersistentFlags().BoolVarP(&blacklistSubreddit, "subreddit", "r", false,
		"treat <name> as a subreddit instead of a user")
	blacklistAddCmd.Flags().BoolVarP(&blacklistTemporary, "temporary", "t", false,
		"temporary ban (expires after the configured duration)")

	blacklistCmd.AddCommand(blacklistAddCmd, blacklistRemoveCmd, blacklistShowCmd)
	rootCmd.AddCommand(blacklistCmd)
}

func blacklistKind() domain.ThingKind {
	if blacklistSubreddit {
		return domain.KindSubreddit
	}
	return domain.KindUser
}

func blacklistService(cmd *cobra.Command) (*services.BlacklistService, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return services.NewBlacklistService(db, cfg.TempBanDuration, log), nil
}

func runBlacklistAdd(cmd *cobra.Command, args []string) error {
	svc, err := blacklistService(cmd)
	if err != nil {
		return err
	}
	kind := blacklistKind()
	if err := svc.Add(cmd.Context(), args[0], kind, blacklistTemporary); err != nil {
		return err
	}
	flavor := "permanently"
	if blacklistTemporary {
		flavor = "temporarily"
	}
	fmt.Printf("%s blacklisted %s\n", kind.Prefix()+args[0], flavor)
	return nil
}

func runBlacklistRemove(cmd *cobra.Command, args []string) error {
	svc, err := blacklistService(cmd)
	if err != nil {
		return err
	}
	kind := blacklistKind()
	err = svc.Remove(cmd.Context(), args[0], kind)
	switch {
	case errors.Is(err, services.ErrNotBlacklisted):
		fmt.Printf("%s is not blacklisted\n", kind.Prefix()+args[0])
		return nil
	case errors.Is(err, services.ErrBanStillActive):
		left, lerr := svc.TimeLeft(cmd.Context(), args[0], kind)
		if lerr == nil {
			fmt.Printf("%s is still banned for %s\n", kind.Prefix()+args[0], left.Round(time.Second))
		}
		return err
	case err != nil:
		return err
	}
	fmt.Printf("removed %s from the blacklist\n", kind.Prefix()+args[0])
	return nil
}

func runBlacklistShow(cmd *cobra.Command, args []string) error {
	svc, err := blacklistService(cmd)
	if err != nil {
		return err
	}
	entries, err := svc.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("blacklist is empty")
		return nil
	}
	for _, e := range entries {
		left, err := svc.TimeLeft(cmd.Context(), e.Name, e.Kind)
		switch {
		case err != nil:
			fmt.Printf("%s\n", e.Kind.Prefix()+e.Name)
		case left == services.Permanent:
			fmt.Printf("%s (permanent)\n", e.Kind.Prefix()+e.Name)
		default:
			fmt.Printf("%s (%s left)\n", e.Kind.Prefix()+e.Name, left.Round(time.Second))
		}
	}
	return nil
}
