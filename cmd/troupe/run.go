package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banterlabs/troupe/internal/bot"
	"github.com/banterlabs/troupe/internal/conductor"
	"github.com/banterlabs/troupe/internal/config"
	"github.com/banterlabs/troupe/internal/dashboard"
	"github.com/banterlabs/troupe/internal/db"
	discordadapter "github.com/banterlabs/troupe/internal/stage/discord"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot daemon",
		Long:  "Connects to Discord and the conductor, reports mentions, and responds when granted a turn.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "troupe.yaml", "path to Troupe config file")
	return cmd
}

func runBot(cmd *cobra.Command, configPath string) error {
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

	adapter, err := discordadapter.New(discordadapter.AdapterOpts{
		BotToken: cfg.Discord.BotToken,
	})
	if err != nil {
		return err
	}

	generator, err := bot.CommandGenerator(cfg.Generator)
	if err != nil {
		return fmt.Errorf("%w (set generator.command in %s)", err, configPath)
	}

	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		DB:        gormDB,
		Config:    cfg,
		Adapter:   adapter,
		Generator: generator,
		Out:       cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if cfg.Dashboard.Enabled {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:   gormDB,
				Addr: cfg.Dashboard.Addr,
				Out:  cmd.OutOrStdout(),
				Status: func() conductor.Status {
					if c := daemon.Client(); c != nil {
						return c.Status()
					}
					return conductor.Status{State: conductor.StateDisconnected}
				},
			})
			if err != nil {
				log.Printf("dashboard: %v", err)
			}
		}()
	}

	return daemon.Run(ctx)
}
