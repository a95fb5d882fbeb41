// seedstock loads a product/stock catalog JSON into a store backend so a
// fresh stockd deployment has something to reconcile against.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"stocksync/internal/model"
	"stocksync/internal/store"
)

// Catalog is the seed file shape: product documents keyed by id plus ledger
// entries keyed by product then variant.
type Catalog struct {
	Products map[string]model.Product               `json:"products"`
	Stock    map[string]map[string]model.StockEntry `json:"stock"`
}

func main() {
	var (
		backend     string
		pebbleDir   string
		badgerDir   string
		catalogFile string
	)
	flag.StringVar(&backend, "state-backend", "badger", "state backend: pebble|badger")
	flag.StringVar(&pebbleDir, "pebble-dir", "./data/stockd-pebble", "pebble data directory")
	flag.StringVar(&badgerDir, "badger-dir", "./data/stockd", "badger data directory")
	flag.StringVar(&catalogFile, "catalog", "catalog.json", "catalog JSON file")
	flag.Parse()

	if err := seed(backend, pebbleDir, badgerDir, catalogFile); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func seed(backend, pebbleDir, badgerDir, catalogFile string) error {
	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("unmarshal catalog: %w", err)
	}

	var st store.Store
	switch backend {
	case "pebble":
		ps, err := store.NewPebbleStore(pebbleDir)
		if err != nil {
			return fmt.Errorf("init pebble: %w", err)
		}
		defer ps.Close()
		st = ps
	case "badger":
		bs, err := store.NewBadgerStore(badgerDir)
		if err != nil {
			return fmt.Errorf("init badger: %w", err)
		}
		defer bs.Close()
		st = bs
	default:
		return fmt.Errorf("unknown backend %q", backend)
	}

	for id, p := range cat.Products {
		if err := st.PutProduct(id, p); err != nil {
			return fmt.Errorf("put product %s: %w", id, err)
		}
	}
	entries := 0
	for pid, variants := range cat.Stock {
		for vid, e := range variants {
			if err := st.PutStockEntry(pid, vid, e); err != nil {
				return fmt.Errorf("put stock %s/%s: %w", pid, vid, err)
			}
			entries++
		}
	}
	log.Printf("seeded %d products and %d stock entries from %s", len(cat.Products), entries, catalogFile)
	return nil
}
