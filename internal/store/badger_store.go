package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"stocksync/internal/model"
)

// BadgerStore implements Store on BadgerDB. Adjust* calls run inside a
// native read-write transaction, so the clamped read-modify-write is atomic
// without extra locking.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func getTxn(txn *badger.Txn, key string) ([]byte, bool, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("badger value %s: %w", key, err)
	}
	return v, true, nil
}

func (b *BadgerStore) Products() (map[string]model.Product, error) {
	out := make(map[string]model.Product)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(productPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			id := key[len(productPrefix):]
			if id == "" {
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			p, err := decodeProduct(v)
			if err != nil {
				return fmt.Errorf("product %s: %w", id, err)
			}
			out[id] = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerStore) StockEntries() (map[string]map[string]model.StockEntry, error) {
	out := make(map[string]map[string]model.StockEntry)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(stockPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			pid, vid, ok := splitStockKey(key)
			if !ok {
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := decodeStockEntry(v)
			if err != nil {
				return fmt.Errorf("stock %s/%s: %w", pid, vid, err)
			}
			if out[pid] == nil {
				out[pid] = make(map[string]model.StockEntry)
			}
			out[pid][vid] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerStore) Product(id string) (model.Product, bool, error) {
	var doc []byte
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		doc, found, err = getTxn(txn, ProductKey(id))
		return err
	})
	if err != nil || !found {
		return model.Product{}, false, err
	}
	p, err := decodeProduct(doc)
	if err != nil {
		return model.Product{}, false, err
	}
	return p, true, nil
}

func (b *BadgerStore) PutProduct(id string, p model.Product) error {
	doc, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(ProductKey(id)), doc)
	})
}

func (b *BadgerStore) PutStockEntry(productID, variantID string, e model.StockEntry) error {
	doc, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode stock entry: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(StockKey(productID, variantID)), doc)
	})
}

func (b *BadgerStore) SetStockQuantity(productID, variantID string, qty int64) error {
	return b.setField(StockKey(productID, variantID), "quantity", qty)
}

func (b *BadgerStore) SetMasterStock(productID string, qty int64) error {
	return b.setField(ProductKey(productID), "stock", qty)
}

func (b *BadgerStore) setField(key, field string, value any) error {
	return b.db.Update(func(txn *badger.Txn) error {
		doc, _, err := getTxn(txn, key)
		if err != nil {
			return err
		}
		merged, err := mergeField(doc, field, value)
		if err != nil {
			return fmt.Errorf("merge %s: %w", key, err)
		}
		return txn.Set([]byte(key), merged)
	})
}

func (b *BadgerStore) AdjustStockQuantity(productID, variantID string, delta int64) (AdjustResult, error) {
	var res AdjustResult
	key := StockKey(productID, variantID)
	err := b.db.Update(func(txn *badger.Txn) error {
		doc, found, err := getTxn(txn, key)
		if err != nil || !found {
			return err
		}
		newQty, clamped := clamp(quantityOf(doc, "quantity"), delta)
		merged, err := mergeField(doc, "quantity", newQty)
		if err != nil {
			return fmt.Errorf("merge %s: %w", key, err)
		}
		if err := txn.Set([]byte(key), merged); err != nil {
			return err
		}
		res = AdjustResult{NewQty: newQty, Exists: true, Clamped: clamped}
		return nil
	})
	if err != nil {
		return AdjustResult{}, err
	}
	return res, nil
}

func (b *BadgerStore) AdjustMasterStock(productID string, delta int64) (AdjustResult, error) {
	var res AdjustResult
	key := ProductKey(productID)
	err := b.db.Update(func(txn *badger.Txn) error {
		doc, found, err := getTxn(txn, key)
		if err != nil || !found || !hasMasterStock(doc) {
			return err
		}
		newQty, clamped := clamp(quantityOf(doc, "stock"), delta)
		merged, err := mergeField(doc, "stock", newQty)
		if err != nil {
			return fmt.Errorf("merge %s: %w", key, err)
		}
		if err := txn.Set([]byte(key), merged); err != nil {
			return err
		}
		res = AdjustResult{NewQty: newQty, Exists: true, Clamped: clamped}
		return nil
	})
	if err != nil {
		return AdjustResult{}, err
	}
	return res, nil
}

func (b *BadgerStore) LoadStock(all map[string]map[string]model.StockEntry) error {
	return b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(stockPrefix)
		it := txn.NewIterator(opts)
		var toDelete [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			toDelete = append(toDelete, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for pid, variants := range all {
			for vid, e := range variants {
				doc, err := json.Marshal(&e)
				if err != nil {
					return fmt.Errorf("encode stock %s/%s: %w", pid, vid, err)
				}
				if err := txn.Set([]byte(StockKey(pid, vid)), doc); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
