package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"stocksync/internal/model"
)

// MemoryStore is a thread-safe in-memory document store, used by tests and
// sample mode. Raw JSON documents keyed exactly like the real backends.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Products() (map[string]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Product)
	for k, v := range s.docs {
		id, found := strings.CutPrefix(k, productPrefix)
		if !found || id == "" {
			continue
		}
		p, err := decodeProduct(v)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}

func (s *MemoryStore) StockEntries() (map[string]map[string]model.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]model.StockEntry)
	for k, v := range s.docs {
		pid, vid, ok := splitStockKey(k)
		if !ok {
			continue
		}
		e, err := decodeStockEntry(v)
		if err != nil {
			return nil, fmt.Errorf("stock %s/%s: %w", pid, vid, err)
		}
		if out[pid] == nil {
			out[pid] = make(map[string]model.StockEntry)
		}
		out[pid][vid] = e
	}
	return out, nil
}

func (s *MemoryStore) Product(id string) (model.Product, bool, error) {
	s.mu.RLock()
	doc, ok := s.docs[ProductKey(id)]
	s.mu.RUnlock()
	if !ok {
		return model.Product{}, false, nil
	}
	p, err := decodeProduct(doc)
	if err != nil {
		return model.Product{}, false, err
	}
	return p, true, nil
}

func (s *MemoryStore) PutProduct(id string, p model.Product) error {
	b, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	s.mu.Lock()
	s.docs[ProductKey(id)] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PutStockEntry(productID, variantID string, e model.StockEntry) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode stock entry: %w", err)
	}
	s.mu.Lock()
	s.docs[StockKey(productID, variantID)] = b
	s.mu.Unlock()
	return nil
}

// PutRawDocument stores an arbitrary JSON document under a key. Tests use it
// to set up documents with fields the typed model does not know about.
func (s *MemoryStore) PutRawDocument(key string, doc []byte) {
	s.mu.Lock()
	s.docs[key] = append([]byte(nil), doc...)
	s.mu.Unlock()
}

// RawDocument returns the stored bytes for a key.
func (s *MemoryStore) RawDocument(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	return append([]byte(nil), doc...), ok
}

func (s *MemoryStore) SetStockQuantity(productID, variantID string, qty int64) error {
	return s.setField(StockKey(productID, variantID), "quantity", qty)
}

func (s *MemoryStore) SetMasterStock(productID string, qty int64) error {
	return s.setField(ProductKey(productID), "stock", qty)
}

func (s *MemoryStore) setField(key, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged, err := mergeField(s.docs[key], field, value)
	if err != nil {
		return fmt.Errorf("merge %s: %w", key, err)
	}
	s.docs[key] = merged
	return nil
}

func (s *MemoryStore) AdjustStockQuantity(productID, variantID string, delta int64) (AdjustResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := StockKey(productID, variantID)
	doc, ok := s.docs[key]
	if !ok {
		return AdjustResult{}, nil
	}
	newQty, clamped := clamp(quantityOf(doc, "quantity"), delta)
	merged, err := mergeField(doc, "quantity", newQty)
	if err != nil {
		return AdjustResult{}, fmt.Errorf("merge %s: %w", key, err)
	}
	s.docs[key] = merged
	return AdjustResult{NewQty: newQty, Exists: true, Clamped: clamped}, nil
}

func (s *MemoryStore) AdjustMasterStock(productID string, delta int64) (AdjustResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ProductKey(productID)
	doc, ok := s.docs[key]
	if !ok || !hasMasterStock(doc) {
		return AdjustResult{}, nil
	}
	newQty, clamped := clamp(quantityOf(doc, "stock"), delta)
	merged, err := mergeField(doc, "stock", newQty)
	if err != nil {
		return AdjustResult{}, fmt.Errorf("merge %s: %w", key, err)
	}
	s.docs[key] = merged
	return AdjustResult{NewQty: newQty, Exists: true, Clamped: clamped}, nil
}

func (s *MemoryStore) LoadStock(all map[string]map[string]model.StockEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.docs {
		if strings.HasPrefix(k, stockPrefix) {
			delete(s.docs, k)
		}
	}
	for pid, variants := range all {
		for vid, e := range variants {
			b, err := json.Marshal(&e)
			if err != nil {
				return fmt.Errorf("encode stock %s/%s: %w", pid, vid, err)
			}
			s.docs[StockKey(pid, vid)] = b
		}
	}
	return nil
}
