package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/repo"
)

var wipeConfirmed bool

var databaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Inspect or reset the bot's bookkeeping store",
}

var databaseDumpCmd = &cobra.Command{
	Use:   "dump <table>",
	Short: "Print a table's rows as JSON lines",
	Long: "Print a table's rows as JSON lines.\n\nTables: " +
		strings.Join(sortedTableNames(), ", "),
	Args: cobra.ExactArgs(1),
	RunE: runDatabaseDump,
}

var databaseWipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete ALL bookkeeping data",
	Args:  cobra.NoArgs,
	RunE:  runDatabaseWipe,
}

func init() {
	databaseWipeCmd.Flags().BoolVar(&wipeConfirmed, "yes", false, "confirm the wipe")
	databaseCmd.AddCommand(databaseDumpCmd, databaseWipeCmd)
	rootCmd.AddCommand(databaseCmd)
}

func sortedTableNames() []string {
	names := repo.TableNames()
	sort.Strings(names)
	return names
}

func runDatabaseDump(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}

	rows, err := repo.DumpTable(cmd.Context(), db, args[0])
	if err != nil {
		return err
	}
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
	}
	fmt.Printf("# %d rows in %s\n", len(rows), args[0])
	return nil
}

func runDatabaseWipe(cmd *cobra.Command, args []string) error {
	if !wipeConfirmed {
		return fmt.Errorf("refusing to wipe without --yes")
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}

	if err := repo.WipeAll(cmd.Context(), db); err != nil {
		return err
	}
	log.Warn().Msg("all bookkeeping data wiped")
	fmt.Println("all bookkeeping data deleted")
	return nil
}
