package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"stocksync/internal/model"
	"stocksync/internal/store"
)

func TestWriteSnapshot_DumpsStockSubtree(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.PutProduct("p1", model.Product{Name: "Widget"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.PutStockEntry("p1", "01", model.StockEntry{Quantity: 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.PutStockEntry("p2", "01", model.StockEntry{Quantity: 3}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	dir := t.TempDir()
	s := NewFilesystemSnapshotter(dir)
	if err := s.WriteSnapshot("snap-1", st); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "snap-1", "stock.json"))
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	var dump map[string]map[string]model.StockEntry
	if err := json.Unmarshal(data, &dump); err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if len(dump) != 2 || dump["p1"]["01"].Quantity != 10 || dump["p2"]["01"].Quantity != 3 {
		t.Fatalf("unexpected dump: %+v", dump)
	}
	// Products stay out of the snapshot.
	if _, ok := dump["products"]; ok {
		t.Fatalf("dump must hold only ledger entries")
	}
}

func TestWriteSnapshot_EmptyStore(t *testing.T) {
	dir := t.TempDir()
	s := NewFilesystemSnapshotter(dir)
	if err := s.WriteSnapshot("snap-empty", store.NewMemoryStore()); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "snap-empty", "stock.json"))
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	var dump map[string]map[string]model.StockEntry
	if err := json.Unmarshal(data, &dump); err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if len(dump) != 0 {
		t.Fatalf("want empty dump, got %+v", dump)
	}
}
