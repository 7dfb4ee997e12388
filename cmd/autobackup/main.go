// Command autobackup keeps a periodic snapshot of all inspection data in the
// blob store until it is interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"manhole-inspection/internal/config"
	"manhole-inspection/internal/logging"
	"manhole-inspection/pkg/inspectiondb"
)

func main() {
	var (
		cfgPath string
		now     bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to YAML config (defaults apply when empty)")
	flag.BoolVar(&now, "now", true, "take a snapshot immediately on start")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "autobackup")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := inspectiondb.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open data", zap.Error(err))
	}
	defer client.Close()

	if cfg.Backup.DisableAuto {
		logger.Info("auto backup disabled by configuration")
		return
	}
	runner := client.AutoBackup()
	runner.RunImmediately = now
	if err := runner.Run(ctx); err != nil {
		logger.Error("auto backup exited with error", zap.Error(err))
	}
}
