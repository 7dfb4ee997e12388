// Command panelread reads an equipment's pump panel and prints the readings
// as JSON, once or at a fixed interval.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"manhole-inspection/internal/config"
	"manhole-inspection/internal/logging"
	"manhole-inspection/internal/meter"
	"manhole-inspection/internal/model"
)

func main() {
	var (
		cfgPath     string
		equipmentID int64
		poll        time.Duration
	)
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "path to YAML config")
	flag.Int64Var(&equipmentID, "equipment", 1, "equipment id whose panel is read")
	flag.DurationVar(&poll, "poll", 0, "read repeatedly at this interval (0 reads once)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "panelread")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	panel, ok := meter.FindPanel(cfg.Meter.Panels, model.ID(equipmentID))
	if !ok {
		logger.Fatal("no panel configured", zap.Int64("equipment", equipmentID))
	}
	reader, err := meter.NewReader(panel, logger)
	if err != nil {
		logger.Fatal("invalid panel", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	readOnce := func() {
		r, err := reader.Read(ctx)
		if err != nil {
			logger.Error("read panel", zap.Error(err))
			return
		}
		var draft model.Inspection
		draft.ManholeID = r.EquipmentID
		r.Apply(&draft)
		if err := enc.Encode(draft); err != nil {
			logger.Error("encode readings", zap.Error(err))
		}
	}

	readOnce()
	if poll <= 0 {
		return
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			readOnce()
		}
	}
}
