package reconcile

import (
	"testing"

	"stocksync/internal/audit"
	"stocksync/internal/model"
	"stocksync/internal/store"
)

func qty(n int64) *model.Quantity {
	q := model.Quantity(n)
	return &q
}

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.PutProduct("p1", model.Product{Name: "Widget", Stock: qty(50)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.PutProduct("p2", model.Product{Name: "Mug"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.PutStockEntry("p1", "01", model.StockEntry{Quantity: 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.PutStockEntry("p1", "blue", model.StockEntry{Quantity: 4}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.PutStockEntry("p2", "01", model.StockEntry{Quantity: 2}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return st
}

func entryQty(t *testing.T, st store.Store, pid, vid string) int64 {
	t.Helper()
	entries, err := st.StockEntries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	e, ok := entries[pid][vid]
	if !ok {
		t.Fatalf("no entry %s/%s", pid, vid)
	}
	return int64(e.Quantity)
}

func masterStock(t *testing.T, st store.Store, pid string) *model.Quantity {
	t.Helper()
	p, ok, err := st.Product(pid)
	if err != nil || !ok {
		t.Fatalf("product %s: ok=%v err=%v", pid, ok, err)
	}
	return p.Stock
}

func TestAdjust_NoItemsNoWrites(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{})
	res, err := r.AdjustStockForOrder(model.Order{"orderId": "o1", "customer": "c1"}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Items != 0 || res.Applied != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := entryQty(t, st, "p1", "01"); got != 10 {
		t.Fatalf("stock changed with no items: %d", got)
	}
}

func TestAdjust_ReduceSimple(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{})
	res, err := r.AdjustStockForOrder(model.Order{"item1": "Widget x 3"}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Applied != 1 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// No variant marker and entries exist: smallest key "01" wins over "blue".
	if got := entryQty(t, st, "p1", "01"); got != 7 {
		t.Fatalf("want 7, got %d", got)
	}
	if ms := masterStock(t, st, "p1"); ms == nil || *ms != 47 {
		t.Fatalf("master stock: %v", ms)
	}
}

func TestAdjust_IncreaseRoundTrip(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{})
	order := model.Order{"orderId": "o1", "item1": "Widget x 3"}
	if _, err := r.AdjustStockForOrder(order, model.DirectionReduce); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if _, err := r.AdjustStockForOrder(order, model.DirectionIncrease); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if got := entryQty(t, st, "p1", "01"); got != 10 {
		t.Fatalf("round trip: want 10, got %d", got)
	}
	if ms := masterStock(t, st, "p1"); ms == nil || *ms != 50 {
		t.Fatalf("master round trip: %v", ms)
	}
}

func TestAdjust_ClampAtZero(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{})
	res, err := r.AdjustStockForOrder(model.Order{"item1": "Mug x 5"}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Clamped == 0 {
		t.Fatalf("expected a clamp, got %+v", res)
	}
	if got := entryQty(t, st, "p2", "01"); got != 0 {
		t.Fatalf("want 0 after clamp, got %d", got)
	}
}

func TestAdjust_BracketVariantPrecedence(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{})
	res, err := r.AdjustStockForOrder(model.Order{"item1": "Widget [blue] x 2"}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Applied != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := entryQty(t, st, "p1", "blue"); got != 2 {
		t.Fatalf("blue variant: want 2, got %d", got)
	}
	if got := entryQty(t, st, "p1", "01"); got != 10 {
		t.Fatalf("01 variant must be untouched, got %d", got)
	}
}

func TestAdjust_UnmatchedNameContinues(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{})
	res, err := r.AdjustStockForOrder(model.Order{
		"item1": "Phantom x 2",
		"item2": "Widget x 1",
	}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Applied != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := entryQty(t, st, "p1", "01"); got != 9 {
		t.Fatalf("want 9, got %d", got)
	}
}

func TestAdjust_MissingLedgerEntrySkipsMasterToo(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{})
	// Explicit variant with no ledger entry: no write at all, master included.
	res, err := r.AdjustStockForOrder(model.Order{"item1": "Widget [green] x 2"}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if ms := masterStock(t, st, "p1"); ms == nil || *ms != 50 {
		t.Fatalf("master must be untouched: %v", ms)
	}
	entries, _ := st.StockEntries()
	if _, ok := entries["p1"]["green"]; ok {
		t.Fatalf("entry must not be created")
	}
}

func TestAdjust_ProductWithoutMasterStaysWithout(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{})
	if _, err := r.AdjustStockForOrder(model.Order{"item1": "Mug x 1"}, model.DirectionReduce); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if got := entryQty(t, st, "p2", "01"); got != 1 {
		t.Fatalf("want 1, got %d", got)
	}
	if ms := masterStock(t, st, "p2"); ms != nil {
		t.Fatalf("master field must stay absent, got %v", *ms)
	}
}

func TestAdjust_DefaultVariantWhenNoEntries(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.PutProduct("p1", model.Product{Name: "Widget"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := New(st, Config{})
	// No entries at all: the default variant is assumed, which also has no
	// entry, so the item is a soft miss.
	res, err := r.AdjustStockForOrder(model.Order{"item1": "Widget x 1"}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAdjust_FirstProductInIDOrderWins(t *testing.T) {
	st := store.NewMemoryStore()
	for _, id := range []string{"p2", "p1"} {
		if err := st.PutProduct(id, model.Product{Name: "Widget"}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := st.PutStockEntry("p1", "01", model.StockEntry{Quantity: 5}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.PutStockEntry("p2", "01", model.StockEntry{Quantity: 5}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := New(st, Config{})
	if _, err := r.AdjustStockForOrder(model.Order{"item1": "Widget x 2"}, model.DirectionReduce); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if got := entryQty(t, st, "p1", "01"); got != 3 {
		t.Fatalf("p1 should take the hit, got %d", got)
	}
	if got := entryQty(t, st, "p2", "01"); got != 5 {
		t.Fatalf("p2 must be untouched, got %d", got)
	}
}

func TestAdjust_BestEffortRepeatedItemClobbers(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{Mode: ModeBestEffort})
	// Both items hit p1/01. Best effort computes each write from the
	// call-start snapshot, so the second write clobbers the first.
	res, err := r.AdjustStockForOrder(model.Order{
		"item1": "Widget x 2",
		"item2": "Widget x 3",
	}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Applied != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := entryQty(t, st, "p1", "01"); got != 7 {
		t.Fatalf("last writer wins: want 7, got %d", got)
	}
	// Master stock reads fresh each time, so it accumulates both deltas.
	if ms := masterStock(t, st, "p1"); ms == nil || *ms != 45 {
		t.Fatalf("master stock: %v", ms)
	}
}

func TestAdjust_AtomicRepeatedItemAccumulates(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{Mode: ModeAtomic})
	res, err := r.AdjustStockForOrder(model.Order{
		"item1": "Widget x 2",
		"item2": "Widget x 3",
	}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Applied != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := entryQty(t, st, "p1", "01"); got != 5 {
		t.Fatalf("atomic accumulates: want 5, got %d", got)
	}
	if ms := masterStock(t, st, "p1"); ms == nil || *ms != 45 {
		t.Fatalf("master stock: %v", ms)
	}
}

func TestAdjust_AtomicClamp(t *testing.T) {
	st := seeded(t)
	r := New(st, Config{Mode: ModeAtomic})
	res, err := r.AdjustStockForOrder(model.Order{"item1": "Mug x 5"}, model.DirectionReduce)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Clamped != 1 {
		t.Fatalf("want 1 clamp, got %+v", res)
	}
	if got := entryQty(t, st, "p2", "01"); got != 0 {
		t.Fatalf("want 0, got %d", got)
	}
}

type memAudit struct {
	adjs []audit.Adjustment
}

func (m *memAudit) Append(a audit.Adjustment) error {
	m.adjs = append(m.adjs, a)
	return nil
}

func TestAdjust_AuditTrail(t *testing.T) {
	old := NowUnix
	NowUnix = func() int64 { return 1700000000 }
	defer func() { NowUnix = old }()

	st := seeded(t)
	sink := &memAudit{}
	r := New(st, Config{Audit: sink})
	if _, err := r.AdjustStockForOrder(model.Order{"orderId": "o1", "item1": "Widget x 3"}, model.DirectionReduce); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	// One write each for the ledger entry and the master field.
	if len(sink.adjs) != 2 {
		t.Fatalf("want 2 adjustments, got %d", len(sink.adjs))
	}
	a := sink.adjs[0]
	if a.ProductID != "p1" || a.VariantID != "01" || a.OrderID != "o1" || a.Delta != -3 || a.NewQty != 7 || a.TS != 1700000000 {
		t.Fatalf("unexpected ledger adjustment: %+v", a)
	}
	m := sink.adjs[1]
	if m.ProductID != "p1" || m.VariantID != "" || m.Delta != -3 || m.NewQty != 47 {
		t.Fatalf("unexpected master adjustment: %+v", m)
	}
}

func TestParseMode(t *testing.T) {
	if m, ok := ParseMode("atomic"); !ok || m != ModeAtomic {
		t.Fatalf("atomic should parse")
	}
	if m, ok := ParseMode("besteffort"); !ok || m != ModeBestEffort {
		t.Fatalf("besteffort should parse")
	}
	if _, ok := ParseMode("yolo"); ok {
		t.Fatalf("unknown mode must not parse")
	}
}
