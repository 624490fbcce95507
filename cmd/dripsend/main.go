package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dripsend/dripsend/internal/api"
	"github.com/dripsend/dripsend/internal/channel"
	"github.com/dripsend/dripsend/internal/config"
	"github.com/dripsend/dripsend/internal/dispatch"
	"github.com/dripsend/dripsend/internal/schedule"
	"github.com/dripsend/dripsend/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dripsend",
		Short: "dripsend — Windowed outbound messaging campaign sender",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(campaignCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dripsend server and dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			clock := dispatch.SystemClock()
			notifier := dispatch.NewLogNotifier(log)
			gateway := channel.NewHTTPChannel(cfg.Channel)

			agg := dispatch.NewAggregator(store, notifier, clock, log)
			chain := dispatch.NewChain(cfg.Dispatch, store, agg, notifier, clock, log)
			acks := dispatch.NewAckProcessor(store, chain, agg, notifier, clock, log)
			acks.Attach(gateway)

			dispatcher := dispatch.NewDispatcher(cfg.Dispatch, store, gateway, chain, agg, notifier, clock, log)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go dispatcher.Run(ctx)

			producer := dispatch.NewProducer(store, notifier, clock, log)
			server := api.NewServer(cfg.Server, store, producer, gateway, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("window", fmt.Sprintf("%02d:%02d-%02d:%02d",
					cfg.Dispatch.StartHour, cfg.Dispatch.StartMinute,
					cfg.Dispatch.EndHour, cfg.Dispatch.EndMinute)).
				Str("storage", cfg.Storage.Driver).
				Msg("dripsend is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}
			cancel()

			log.Info().Msg("dripsend stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cleanup, _, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Println("migrations completed successfully")
			return nil
		},
	}
}

func campaignCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Manage campaigns",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			body, _ := cmd.Flags().GetString("body")
			recipients, _ := cmd.Flags().GetString("recipients")
			mediaURL, _ := cmd.Flags().GetString("media-url")
			followUpBody, _ := cmd.Flags().GetString("follow-up-body")
			followUpDays, _ := cmd.Flags().GetInt("follow-up-days")
			followUpHours, _ := cmd.Flags().GetInt("follow-up-hours")
			followUpMinutes, _ := cmd.Flags().GetInt("follow-up-minutes")

			store, cleanup, log, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			producer := dispatch.NewProducer(store, dispatch.NewLogNotifier(log), dispatch.SystemClock(), log)
			c, err := producer.CreateCampaign(context.Background(), dispatch.CampaignSpec{
				Name:         name,
				Recipients:   splitRecipients(recipients),
				Body:         body,
				MediaURL:     mediaURL,
				FollowUpBody: followUpBody,
				FollowUpDelay: schedule.Delay{
					Days:    followUpDays,
					Hours:   followUpHours,
					Minutes: followUpMinutes,
				},
			})
			if err != nil {
				return fmt.Errorf("failed to create campaign: %w", err)
			}

			out, _ := json.MarshalIndent(c, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "campaign name")
	createCmd.Flags().String("body", "", "message body")
	createCmd.Flags().String("recipients", "", "comma-separated recipient list")
	createCmd.Flags().String("media-url", "", "optional media attachment URL")
	createCmd.Flags().String("follow-up-body", "", "optional follow-up message body")
	createCmd.Flags().Int("follow-up-days", 0, "follow-up delay, days component")
	createCmd.Flags().Int("follow-up-hours", 0, "follow-up delay, hours component")
	createCmd.Flags().Int("follow-up-minutes", 0, "follow-up delay, minutes component")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, _, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			campaigns, err := store.ListCampaigns(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list campaigns: %w", err)
			}

			if len(campaigns) == 0 {
				fmt.Println("No campaigns found.")
				return nil
			}

			for _, c := range campaigns {
				fmt.Printf("  %s  %-10s  %s  (created %s)\n", c.ID, c.Status, c.Name, c.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show sending stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, _, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dripsend v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, log, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, log, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, log, nil
}

func splitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
