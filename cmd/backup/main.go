// Command backup exports, imports and merges inspection data from the
// command line.
//
//	backup [-config path] export
//	backup [-config path] export-inspections
//	backup [-config path] export-master
//	backup [-config path] import <file>
//	backup [-config path] import-inspections <file>
//	backup [-config path] merge [-mode skip|update|duplicate] <file>
//	backup [-config path] stats
//	backup [-config path] geojson
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"manhole-inspection/internal/config"
	"manhole-inspection/internal/logging"
	"manhole-inspection/internal/persistence"
	"manhole-inspection/pkg/inspectiondb"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to YAML config (defaults apply when empty)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] export|export-inspections|export-master|import|import-inspections|merge|stats|geojson [args]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "backup")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := inspectiondb.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open data", zap.Error(err))
	}
	defer client.Close()

	if err := run(ctx, client, flag.Arg(0), flag.Args()[1:]); err != nil {
		n := persistence.NoticeFor(err)
		logger.Error(n.Title, zap.String("detail", n.Detail))
		client.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, c *inspectiondb.Client, cmd string, args []string) error {
	switch cmd {
	case "export":
		path, err := c.ExportBackupFile(ctx)
		if err != nil {
			return err
		}
		fmt.Println(path)
	case "export-inspections":
		path, err := c.ExportInspectionsFile(ctx)
		if err != nil {
			return err
		}
		fmt.Println(path)
	case "export-master":
		for _, export := range []func() (string, error){c.ExportEquipment, c.ExportInspectors} {
			path, err := export()
			if err != nil {
				return err
			}
			fmt.Println(path)
		}
	case "import":
		doc, err := readArg(args)
		if err != nil {
			return err
		}
		res, err := c.ImportBackup(ctx, doc)
		if err != nil {
			return err
		}
		return printJSON(res)
	case "import-inspections":
		doc, err := readArg(args)
		if err != nil {
			return err
		}
		res, err := c.ImportInspections(ctx, doc)
		if err != nil {
			return err
		}
		return printJSON(res)
	case "merge":
		fs := flag.NewFlagSet("merge", flag.ContinueOnError)
		mode := fs.String("mode", string(persistence.MergeSkip), "what to do with existing ids: skip, update or duplicate")
		if err := fs.Parse(args); err != nil {
			return err
		}
		doc, err := readArg(fs.Args())
		if err != nil {
			return err
		}
		res, err := c.MergeInspectionsFromBackup(ctx, doc, persistence.MergeMode(*mode))
		if err != nil {
			return err
		}
		return printJSON(res)
	case "stats":
		stats, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"dataSource":  c.DataSource(),
			"equipment":   len(c.Equipment()),
			"inspectors":  len(c.Inspectors()),
			"inspections": stats.Inspections,
			"pending":     stats.Pending,
			"photos":      stats.Photos,
		})
	case "geojson":
		return printJSON(c.EquipmentGeoJSON())
	default:
		return fmt.Errorf("%w: unknown command %q", persistence.ErrInvalidInput, cmd)
	}
	return nil
}

func readArg(args []string) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: expected one file argument", persistence.ErrInvalidInput)
	}
	return os.ReadFile(args[0])
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
