package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"stocksync/internal/model"
)

// PebbleStore implements Store on PebbleDB.
//
// Pebble has no transactions; Adjust* calls serialize behind a store-level
// mutex, which makes them atomic within this process (the deployment unit
// for the reconciler).
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		DisableWAL:            false, // counter writes must survive a crash
	}
	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) get(key string) ([]byte, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get %s: %w", key, err)
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

func (p *PebbleStore) set(key string, val []byte) error {
	if err := p.db.Set([]byte(key), val, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	return nil
}

// rangePrefix visits every document under a key prefix.
func (p *PebbleStore) rangePrefix(prefix string, fn func(key string, val []byte) error) error {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		if err := fn(string(k), v); err != nil {
			return err
		}
	}
	return nil
}

func prefixUpperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}

func (p *PebbleStore) Products() (map[string]model.Product, error) {
	out := make(map[string]model.Product)
	err := p.rangePrefix(productPrefix, func(key string, val []byte) error {
		id := key[len(productPrefix):]
		if id == "" {
			return nil
		}
		prod, err := decodeProduct(val)
		if err != nil {
			return fmt.Errorf("product %s: %w", id, err)
		}
		out[id] = prod
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PebbleStore) StockEntries() (map[string]map[string]model.StockEntry, error) {
	out := make(map[string]map[string]model.StockEntry)
	err := p.rangePrefix(stockPrefix, func(key string, val []byte) error {
		pid, vid, ok := splitStockKey(key)
		if !ok {
			return nil
		}
		e, err := decodeStockEntry(val)
		if err != nil {
			return fmt.Errorf("stock %s/%s: %w", pid, vid, err)
		}
		if out[pid] == nil {
			out[pid] = make(map[string]model.StockEntry)
		}
		out[pid][vid] = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PebbleStore) Product(id string) (model.Product, bool, error) {
	doc, ok, err := p.get(ProductKey(id))
	if err != nil || !ok {
		return model.Product{}, false, err
	}
	prod, err := decodeProduct(doc)
	if err != nil {
		return model.Product{}, false, err
	}
	return prod, true, nil
}

func (p *PebbleStore) PutProduct(id string, prod model.Product) error {
	b, err := json.Marshal(&prod)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	return p.set(ProductKey(id), b)
}

func (p *PebbleStore) PutStockEntry(productID, variantID string, e model.StockEntry) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode stock entry: %w", err)
	}
	return p.set(StockKey(productID, variantID), b)
}

func (p *PebbleStore) SetStockQuantity(productID, variantID string, qty int64) error {
	return p.setField(StockKey(productID, variantID), "quantity", qty)
}

func (p *PebbleStore) SetMasterStock(productID string, qty int64) error {
	return p.setField(ProductKey(productID), "stock", qty)
}

func (p *PebbleStore) setField(key, field string, value any) error {
	doc, _, err := p.get(key)
	if err != nil {
		return err
	}
	merged, err := mergeField(doc, field, value)
	if err != nil {
		return fmt.Errorf("merge %s: %w", key, err)
	}
	return p.set(key, merged)
}

func (p *PebbleStore) AdjustStockQuantity(productID, variantID string, delta int64) (AdjustResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := StockKey(productID, variantID)
	doc, ok, err := p.get(key)
	if err != nil || !ok {
		return AdjustResult{}, err
	}
	newQty, clamped := clamp(quantityOf(doc, "quantity"), delta)
	merged, err := mergeField(doc, "quantity", newQty)
	if err != nil {
		return AdjustResult{}, fmt.Errorf("merge %s: %w", key, err)
	}
	if err := p.set(key, merged); err != nil {
		return AdjustResult{}, err
	}
	return AdjustResult{NewQty: newQty, Exists: true, Clamped: clamped}, nil
}

func (p *PebbleStore) AdjustMasterStock(productID string, delta int64) (AdjustResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := ProductKey(productID)
	doc, ok, err := p.get(key)
	if err != nil || !ok || !hasMasterStock(doc) {
		return AdjustResult{}, err
	}
	newQty, clamped := clamp(quantityOf(doc, "stock"), delta)
	merged, err := mergeField(doc, "stock", newQty)
	if err != nil {
		return AdjustResult{}, fmt.Errorf("merge %s: %w", key, err)
	}
	if err := p.set(key, merged); err != nil {
		return AdjustResult{}, err
	}
	return AdjustResult{NewQty: newQty, Exists: true, Clamped: clamped}, nil
}

func (p *PebbleStore) LoadStock(all map[string]map[string]model.StockEntry) error {
	var toDelete [][]byte
	err := p.rangePrefix(stockPrefix, func(key string, _ []byte) error {
		toDelete = append(toDelete, []byte(key))
		return nil
	})
	if err != nil {
		return err
	}
	wb := p.db.NewBatch()
	defer wb.Close()
	for _, k := range toDelete {
		if err := wb.Delete(k, nil); err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
	}
	for pid, variants := range all {
		for vid, e := range variants {
			b, err := json.Marshal(&e)
			if err != nil {
				return fmt.Errorf("encode stock %s/%s: %w", pid, vid, err)
			}
			if err := wb.Set([]byte(StockKey(pid, vid)), b, nil); err != nil {
				return fmt.Errorf("batch set: %w", err)
			}
		}
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("batch commit: %w", err)
	}
	return nil
}
