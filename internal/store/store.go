// Package store is the document store the reconciler runs against: a
// key-addressed tree with two subtrees, products/{id} and
// stock/{productId}/{variantId}, JSON document values, point-in-time subtree
// reads and partial-field merge updates.
package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"stocksync/internal/model"
)

const (
	productPrefix = "products/"
	stockPrefix   = "stock/"
)

// ProductKey returns the document key for a product id.
func ProductKey(id string) string { return productPrefix + id }

// StockKey returns the document key for a (product, variant) ledger entry.
func StockKey(productID, variantID string) string {
	return stockPrefix + productID + "/" + variantID
}

// AdjustResult reports one clamped read-modify-write.
type AdjustResult struct {
	NewQty  int64
	Exists  bool // false: no document/field to adjust, nothing written
	Clamped bool // the raw result went below zero and was floored
}

// Store abstracts the backing document store.
//
// Snapshot reads (Products, StockEntries) are point-in-time: they never
// reflect writes issued after the read returned. Set* calls are partial
// updates that touch a single field and preserve the rest of the document.
// Adjust* calls are atomic clamped increments, the upgrade path for the
// lost-update race between concurrent reconciliations.
type Store interface {
	Products() (map[string]model.Product, error)
	StockEntries() (map[string]map[string]model.StockEntry, error)
	Product(id string) (model.Product, bool, error)

	PutProduct(id string, p model.Product) error
	PutStockEntry(productID, variantID string, e model.StockEntry) error

	SetStockQuantity(productID, variantID string, qty int64) error
	SetMasterStock(productID string, qty int64) error

	AdjustStockQuantity(productID, variantID string, delta int64) (AdjustResult, error)
	AdjustMasterStock(productID string, delta int64) (AdjustResult, error)

	LoadStock(all map[string]map[string]model.StockEntry) error
}

// mergeField rewrites one field of a JSON document, preserving all others.
// An empty document merges into a fresh one.
func mergeField(doc []byte, field string, value any) ([]byte, error) {
	m := map[string]any{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	m[field] = value
	return json.Marshal(m)
}

func decodeProduct(val []byte) (model.Product, error) {
	var p model.Product
	if err := json.Unmarshal(val, &p); err != nil {
		return model.Product{}, fmt.Errorf("decode product: %w", err)
	}
	return p, nil
}

func decodeStockEntry(val []byte) (model.StockEntry, error) {
	var e model.StockEntry
	if err := json.Unmarshal(val, &e); err != nil {
		return model.StockEntry{}, fmt.Errorf("decode stock entry: %w", err)
	}
	return e, nil
}

// hasMasterStock reports whether the raw product document carries the
// denormalized stock field at all. Absent means: leave absent.
func hasMasterStock(doc []byte) bool {
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(doc, &m); err != nil {
		return false
	}
	raw, ok := m["stock"]
	return ok && string(raw) != "null"
}

// quantityOf coerces a raw field value the way documents store counters.
func quantityOf(doc []byte, field string) int64 {
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(doc, &m); err != nil {
		return 0
	}
	var q model.Quantity
	_ = q.UnmarshalJSON(m[field])
	return int64(q)
}

func clamp(cur, delta int64) (newQty int64, clamped bool) {
	newQty = cur + delta
	if newQty < 0 {
		return 0, true
	}
	return newQty, false
}

// splitStockKey splits "stock/{pid}/{vid}" back into its parts.
func splitStockKey(key string) (productID, variantID string, ok bool) {
	rest, found := strings.CutPrefix(key, stockPrefix)
	if !found {
		return "", "", false
	}
	pid, vid, found := strings.Cut(rest, "/")
	if !found || pid == "" || vid == "" {
		return "", "", false
	}
	return pid, vid, true
}
