package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mizutani/kakeibot/internal/confirm"
	"github.com/mizutani/kakeibot/internal/gateway"
	"github.com/mizutani/kakeibot/internal/ocr"
	"github.com/mizutani/kakeibot/internal/pipeline"
	"github.com/mizutani/kakeibot/internal/queue"
	"github.com/mizutani/kakeibot/internal/rates"
	"github.com/mizutani/kakeibot/internal/server"
	"github.com/mizutani/kakeibot/internal/service"
	"github.com/mizutani/kakeibot/internal/storage"
	"github.com/mizutani/kakeibot/internal/token"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE:  runServe,
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("db", "kakeibot.db", "sqlite database path")

	return cmd
}

// bindServeFlags registers the serve flags with viper. Binding happens
// at run time, not init time, so the migrate command's identically
// named --db flag cannot steal the "storage.path" key.
func bindServeFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("storage.path", cmd.Flags().Lookup("db"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	bindServeFlags(cmd)
	ctx := cmd.Context()
	clock := service.RealClock{}

	store, err := storage.NewSQLiteStorage(viper.GetString("storage.path"))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating storage: %w", err)
	}

	platform := gateway.New(
		viper.GetString("platform.base_url"),
		viper.GetString("platform.channel_token"),
		nil,
	)

	provider := ocr.NewAzureProvider(
		viper.GetString("ocr.endpoint"),
		viper.GetString("ocr.api_key"),
	)

	converter := rates.New(viper.GetString("rates.endpoint"), nil, clock)
	tokens := token.NewStore(clock, 0)
	tracker := pipeline.NewTracker(0)

	// The queue handler needs the coordinator, which needs the
	// controller, which needs the queue. The closure captures the
	// coordinator variable; workers only start once it is assigned.
	var coordinator *confirm.Coordinator
	jobs := queue.New(64, func(jobCtx context.Context, job service.ReceiptJob) error {
		return coordinator.CompleteQueuedJob(jobCtx, job)
	})

	controller := pipeline.NewController(provider, platform, jobs, tracker, clock, pipeline.DefaultConfig())
	coordinator = confirm.New(controller, tokens, converter, platform, store, clock)

	srv := server.New(coordinator, store, platform, prometheus.NewRegistry())

	jobs.Start(ctx, 2)

	slog.Info("kakeibot serving", "addr", viper.GetString("server.addr"))
	return srv.Run(ctx, viper.GetString("server.addr"))
}
