// Package reconcile adjusts inventory counters for order transitions. For
// every line item of an order it resolves a (product, variant) pair from
// point-in-time snapshots of the catalog and the stock ledger, then applies
// a clamped quantity change in two denormalized locations: the per-variant
// ledger entry and, when present, the master stock field on the product.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"stocksync/internal/audit"
	"stocksync/internal/lineitem"
	"stocksync/internal/model"
	"stocksync/internal/store"
)

// Mode selects the write discipline.
//
// ModeBestEffort reproduces the historical behavior: per-variant quantities
// are computed from the call-start snapshot and written blindly, so
// concurrent reconciliations (and repeated items within one order) can lose
// updates, last writer wins. ModeAtomic routes every counter change through
// the store's clamped atomic adjust instead.
type Mode string

const (
	ModeBestEffort Mode = "besteffort"
	ModeAtomic     Mode = "atomic"
)

// ParseMode maps a flag value to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeBestEffort, ModeAtomic:
		return Mode(s), true
	}
	return "", false
}

// Config carries reconciler options. Audit is optional; when set, every
// applied write appends one Adjustment.
type Config struct {
	Mode  Mode
	Audit audit.Writer
}

type Reconciler struct {
	st  store.Store
	cfg Config
}

func New(st store.Store, cfg Config) *Reconciler {
	if cfg.Mode == "" {
		cfg.Mode = ModeBestEffort
	}
	return &Reconciler{st: st, cfg: cfg}
}

// Result summarizes one reconciliation call. The reconciler itself emits no
// logs; callers report from this.
type Result struct {
	Items   int // line items found on the order
	Applied int // items that produced at least one write
	Skipped int // soft misses: unmatched name, missing ledger entry
	Clamped int // writes floored at zero
}

// NowUnix returns current time in epoch seconds. Split for testability.
var NowUnix = func() int64 { return time.Now().UTC().Unix() }

// AdjustStockForOrder applies the order's line items to the stock ledger in
// the given direction. Soft misses (no items, unmatched product name,
// missing ledger entry, unparseable quantities) are silent per-item no-ops;
// storage failures abort immediately, leaving earlier items applied.
func (r *Reconciler) AdjustStockForOrder(order model.Order, dir model.Direction) (Result, error) {
	items := order.LineItems()
	res := Result{Items: len(items)}
	if len(items) == 0 {
		return res, nil
	}

	// Two point-in-time reads up front; resolution for every item uses
	// these same snapshots while writes land incrementally per item.
	products, err := r.st.Products()
	if err != nil {
		return res, fmt.Errorf("read products: %w", err)
	}
	stock, err := r.st.StockEntries()
	if err != nil {
		return res, fmt.Errorf("read stock: %w", err)
	}

	productIDs := make([]string, 0, len(products))
	for id := range products {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	orderID := order.ID()

	for _, raw := range items {
		it, ok := lineitem.Parse(raw)
		if !ok {
			res.Skipped++
			continue
		}

		// Exact, case-sensitive name match; first product in id order wins.
		var productID string
		for _, id := range productIDs {
			if products[id].Name == it.Name {
				productID = id
				break
			}
		}
		if productID == "" {
			res.Skipped++
			continue
		}

		variantID := it.Variant
		if variantID == "" {
			if entries := stock[productID]; len(entries) > 0 {
				variantID = smallestKey(entries)
			} else {
				variantID = model.DefaultVariantID
			}
		}

		delta := dir.Sign() * it.Qty

		var applied bool
		var err error
		if r.cfg.Mode == ModeAtomic {
			applied, err = r.adjustAtomic(orderID, productID, variantID, delta, &res)
		} else {
			applied, err = r.adjustBestEffort(orderID, productID, variantID, delta, stock, &res)
		}
		if err != nil {
			return res, err
		}
		if applied {
			res.Applied++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// adjustBestEffort computes the ledger quantity from the call-start snapshot
// and overwrites it, then syncs the master stock field from a fresh read.
// The two paths disagreeing on their read source is part of the contract.
func (r *Reconciler) adjustBestEffort(orderID, productID, variantID string, delta int64, stock map[string]map[string]model.StockEntry, res *Result) (bool, error) {
	entry, ok := stock[productID][variantID]
	if !ok {
		// No ledger entry: nothing to adjust, no write anywhere, not even
		// the master field.
		return false, nil
	}

	newQty := int64(entry.Quantity) + delta
	if newQty < 0 {
		newQty = 0
		res.Clamped++
	}
	if err := r.st.SetStockQuantity(productID, variantID, newQty); err != nil {
		return false, fmt.Errorf("write stock %s/%s: %w", productID, variantID, err)
	}
	if err := r.append(audit.Adjustment{
		ProductID: productID, VariantID: variantID, OrderID: orderID,
		Delta: delta, NewQty: newQty, TS: NowUnix(),
	}); err != nil {
		return false, err
	}

	p, found, err := r.st.Product(productID)
	if err != nil {
		return false, fmt.Errorf("read product %s: %w", productID, err)
	}
	if found && p.Stock != nil {
		newMaster := int64(*p.Stock) + delta
		if newMaster < 0 {
			newMaster = 0
			res.Clamped++
		}
		if err := r.st.SetMasterStock(productID, newMaster); err != nil {
			return false, fmt.Errorf("write master stock %s: %w", productID, err)
		}
		if err := r.append(audit.Adjustment{
			ProductID: productID, OrderID: orderID,
			Delta: delta, NewQty: newMaster, TS: NowUnix(),
		}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// adjustAtomic applies both writes through the store's clamped atomic
// read-modify-write, closing the snapshot/write race.
func (r *Reconciler) adjustAtomic(orderID, productID, variantID string, delta int64, res *Result) (bool, error) {
	ar, err := r.st.AdjustStockQuantity(productID, variantID, delta)
	if err != nil {
		return false, fmt.Errorf("adjust stock %s/%s: %w", productID, variantID, err)
	}
	if !ar.Exists {
		return false, nil
	}
	if ar.Clamped {
		res.Clamped++
	}
	if err := r.append(audit.Adjustment{
		ProductID: productID, VariantID: variantID, OrderID: orderID,
		Delta: delta, NewQty: ar.NewQty, TS: NowUnix(),
	}); err != nil {
		return false, err
	}

	mr, err := r.st.AdjustMasterStock(productID, delta)
	if err != nil {
		return false, fmt.Errorf("adjust master stock %s: %w", productID, err)
	}
	if mr.Exists {
		if mr.Clamped {
			res.Clamped++
		}
		if err := r.append(audit.Adjustment{
			ProductID: productID, OrderID: orderID,
			Delta: delta, NewQty: mr.NewQty, TS: NowUnix(),
		}); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *Reconciler) append(a audit.Adjustment) error {
	if r.cfg.Audit == nil {
		return nil
	}
	if err := r.cfg.Audit.Append(a); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func smallestKey(m map[string]model.StockEntry) string {
	var min string
	for k := range m {
		if min == "" || k < min {
			min = k
		}
	}
	return min
}
