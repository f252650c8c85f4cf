package main

import (
	"context"
	"errors"
	"os"

	"fintrack/internal/amqp"
	"fintrack/internal/backend"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	flog "fintrack/internal/log"
	gsheet "fintrack/internal/sheets/google"
	"fintrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig((*config.Config).ValidateWorker)
	logger := cli.SetupLogger(cfg, flog.ComponentWorker)

	logger.Info("Starting fintrack-worker")
	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped with error", flog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}

func run(cfg *config.Config, logger *flog.Logger) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	// The sweep needs the sync markers of a durable backend. With memory
	// the worker only mirrors what arrives over AMQP.
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	be, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer be.Close()

	sheets, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		return err
	}
	if err := sheets.EnsureHeader(ctx); err != nil {
		logger.Error("Failed to write sheet header", flog.FieldError, err)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	syncWorker := worker.NewSyncWorker(sheets, be.Tracker, cfg.SyncBatchSize)
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		// Don't exit: the sweep retries on schedule.
		logger.Error("Failed startup sync check", flog.FieldError, err)
	}
	if be.Tracker != nil {
		if err := syncWorker.StartSweep(ctx, cfg.SyncSchedule); err != nil {
			return err
		}
		defer syncWorker.Stop()
	} else {
		logger.Info("Skipping periodic sweep, backend keeps no sync markers", "backend", cfg.DataBackend)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return err
	}
	defer amqpClient.Close()

	err = amqpClient.Run(ctx, syncWorker.HandleEvent)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
