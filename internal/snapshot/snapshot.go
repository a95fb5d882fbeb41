package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"stocksync/internal/model"
	"stocksync/internal/store"
)

type Snapshotter interface {
	WriteSnapshot(snapshotID string, st store.Store) error
}

// FilesystemSnapshotter dumps the full stock/ subtree to
// <baseDir>/<snapshotID>/stock.json. Product records stay out of scope:
// the catalog is owned by the product-management flow, not the reconciler.
type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

func (f *FilesystemSnapshotter) WriteSnapshot(snapshotID string, st store.Store) error {
	if err := os.MkdirAll(filepath.Join(f.baseDir, snapshotID), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	file := filepath.Join(f.baseDir, snapshotID, "stock.json")
	out, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer out.Close()

	dump, err := st.StockEntries()
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}
	if dump == nil {
		dump = map[string]map[string]model.StockEntry{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
