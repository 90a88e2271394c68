package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mitantsoa1/gns-preprod/config"
	"github.com/mitantsoa1/gns-preprod/database"
	"github.com/mitantsoa1/gns-preprod/repository"
	"github.com/mitantsoa1/gns-preprod/services"
)

const serviceName = "gns-payments"

func main() {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Stripe payment reconciliation and dashboard API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP server and queue consumer", RunE: runServe},
		&cobra.Command{Use: "migrate", Short: "Create or update the database schema", RunE: runMigrate},
		&cobra.Command{Use: "seed", Short: "Upsert the services catalogue", RunE: runSeed},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := database.Connect(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := database.Connect(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		return err
	}
	catalog := services.NewCatalogService(repository.NewGormProductRepo(db), logger)
	if err := catalog.Seed(cmd.Context()); err != nil {
		logger.Error("seeding failed", zap.Error(err))
		return err
	}
	return nil
}
