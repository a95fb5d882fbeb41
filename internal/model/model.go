package model

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultVariantID is assumed when a line item carries no variant marker and
// the product has no stock entries yet.
const DefaultVariantID = "01"

// Quantity is an integer counter as stored in documents. Store values are
// loose: JSON numbers, numeric strings, or garbage. Anything unparseable
// decodes to 0 rather than failing the read.
type Quantity int64

func (q *Quantity) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*q = 0
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			*q = 0
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
		if err != nil {
			*q = 0
			return nil
		}
		*q = Quantity(n)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		*q = 0
		return nil
	}
	*q = Quantity(int64(f))
	return nil
}

// Product is a catalog record at products/{id}. Stock is the denormalized
// master counter; nil means the field is absent and must stay absent.
type Product struct {
	Name  string    `json:"name"`
	Stock *Quantity `json:"stock,omitempty"`
}

// StockEntry is the per-variant ledger record at stock/{productId}/{variantId}.
type StockEntry struct {
	Quantity Quantity `json:"quantity"`
}

// Order is the free-form order record written by the checkout flow.
// Line items live under reserved keys item1, item2, ... as display strings.
type Order map[string]any

var itemKeyRe = regexp.MustCompile(`^item([0-9]+)$`)

// LineItems returns the non-empty line-item strings of the order in
// ascending numeric key order. Keys carry no upper bound; non-string or
// empty values are skipped.
func (o Order) LineItems() []string {
	type keyed struct {
		n int
		s string
	}
	var items []keyed
	for k, v := range o {
		m := itemKeyRe.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		items = append(items, keyed{n: n, s: s})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].n < items[j].n })
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.s)
	}
	return out
}

// ID returns the order's own id field when present.
func (o Order) ID() string {
	if s, ok := o["orderId"].(string); ok {
		return s
	}
	return ""
}

// Direction selects the sign of a reconciliation.
type Direction string

const (
	DirectionReduce   Direction = "reduce"
	DirectionIncrease Direction = "increase"
)

// ParseDirection maps a string to a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirectionReduce, DirectionIncrease:
		return Direction(s), true
	}
	return "", false
}

// Sign returns the signed multiplier for parsed quantities.
func (d Direction) Sign() int64 {
	if d == DirectionReduce {
		return -1
	}
	return 1
}

// Order lifecycle events carried on the events topic.
const (
	EventPlaced    = "placed"
	EventCancelled = "cancelled"
)

// OrderEvent is one order-state transition. The gateway sets Validated and
// NormTS when normalizing raw checkout output.
type OrderEvent struct {
	OrderID   string `json:"orderId"`
	Event     string `json:"event"`
	Order     Order  `json:"order"`
	TS        int64  `json:"ts"`
	Validated bool   `json:"validated,omitempty"`
	NormTS    int64  `json:"normTs,omitempty"`
}

// Direction maps the lifecycle event to the reconciliation direction:
// a placed order reduces stock, a cancelled one restores it.
func (e OrderEvent) Direction() (Direction, bool) {
	switch e.Event {
	case EventPlaced:
		return DirectionReduce, true
	case EventCancelled:
		return DirectionIncrease, true
	}
	return "", false
}

// Normalize marks an event validated (v1 schema) and stamps NormTS.
func Normalize(e OrderEvent) OrderEvent {
	_, ok := e.Direction()
	e.Validated = ok
	e.NormTS = e.TS
	return e
}
