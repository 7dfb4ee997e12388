// Command panelsim serves a simulated pump panel over Modbus TCP. It takes
// the panel whose equipment_id matches meter.simulator.equipment_id and
// steps through the rows of meter.simulator.csv_file, whose header names
// the fields (voltage, no1Current, ...).
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"manhole-inspection/internal/config"
	"manhole-inspection/internal/logging"
	"manhole-inspection/internal/meter"
	"manhole-inspection/internal/model"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "panelsim")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("simulator stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	sc := cfg.Meter.Simulator
	panel, ok := meter.FindPanel(cfg.Meter.Panels, model.ID(sc.EquipmentID))
	if !ok {
		return fmt.Errorf("no panel configured for equipment %d", sc.EquipmentID)
	}
	rows, err := loadCSV(sc.CSVFile)
	if err != nil {
		return fmt.Errorf("load csv: %w", err)
	}

	sim := meter.NewSimulator(logger)
	if err := sim.Listen(sc.ListenAddress); err != nil {
		return fmt.Errorf("start modbus server: %w", err)
	}
	defer sim.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(sc.UpdateInterval)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(rows) {
		if err := sim.SetValues(panel.Points, rows[i]); err != nil {
			logger.Warn("row not fully applied", zap.Int("row", i+1), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Info("shutting down simulator")
			return nil
		case <-ticker.C:
		}
	}
}

func loadCSV(path string) ([]map[meter.Field]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("csv must contain header and at least one data row")
	}

	header := records[0]
	rows := make([]map[meter.Field]float64, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[meter.Field]float64, len(header))
		for i, key := range header {
			valStr := strings.TrimSpace(record[i])
			if valStr == "" {
				continue
			}
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value for column %s: %w", key, err)
			}
			row[meter.Field(strings.TrimSpace(key))] = val
		}
		rows = append(rows, row)
	}
	return rows, nil
}
