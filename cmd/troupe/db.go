package main

import (
	"fmt"

	"github.com/banterlabs/troupe/internal/config"
	"github.com/banterlabs/troupe/internal/dashboard"
	"github.com/banterlabs/troupe/internal/db"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBStatusCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the turn-history database",
		Long:  "Opens the configured database and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "troupe.yaml", "path to Troupe config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for bot %q from %s\n", cfg.Bot.ID, configPath)

	gormDB, err := db.Open(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func newDBStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show turn-history counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "troupe.yaml", "path to Troupe config file")
	return cmd
}

func runDBStatus(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	counts, err := dashboard.ActivityCounts(gormDB)
	if err != nil {
		return fmt.Errorf("query activity: %w", err)
	}

	fmt.Fprintf(out, "Turns:      %d completed, %d failed\n", counts.TurnsCompleted, counts.TurnsFailed)
	fmt.Fprintf(out, "Follow-ups: %d approved, %d denied\n", counts.FollowUpsApproved, counts.FollowUpsDenied)
	return nil
}
