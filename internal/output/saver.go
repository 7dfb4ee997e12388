package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Artifact name prefixes used for downloads.
const (
	PrefixBackup      = "マンホールポンプ点検バックアップ"
	PrefixInspections = "点検履歴バックアップ"
	PrefixManholes    = "manholes"
	PrefixInspectors  = "inspectors"
)

// Saver hands a finished artifact to the user (a download in a browser, a
// file on disk here). It returns where the artifact ended up.
type Saver interface {
	Save(filename string, payload []byte) (string, error)
}

// DirSaver writes artifacts into a directory.
type DirSaver struct {
	Dir string
}

func (d DirSaver) Save(filename string, payload []byte) (string, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid artifact name %q", filename)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(d.Dir, filename)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return path, nil
}

// Filename returns prefix_YYYY-MM-DD.json using the UTC date of t.
func Filename(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.json", prefix, t.UTC().Format("2006-01-02"))
}

// WriteJSON pretty-prints v and saves it under a timestamped name.
func WriteJSON(s Saver, prefix string, t time.Time, v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return s.Save(Filename(prefix, t), b)
}
