// Package lineitem parses the loose display-string encoding used for order
// line items: "<name>", "<name> x <qty>", "<name> (<qty>)", with an optional
// "[variant]" tag or a parenthesized variant code 01-05.
package lineitem

import (
	"regexp"
	"strconv"
	"strings"
)

// Item is a parsed line item. Variant is empty when the string carries no
// explicit variant marker.
type Item struct {
	Name    string
	Qty     int64
	Variant string
}

var (
	qtyXRe     = regexp.MustCompile(`^(.*\S)\s+x\s+([0-9]+)\s*$`)
	qtyParenRe = regexp.MustCompile(`^(.*\S)\s*\(([0-9]+)\)\s*$`)
	bracketRe  = regexp.MustCompile(`\[([^\[\]]+)\]`)
	varCodeRe  = regexp.MustCompile(`\((0[1-5])\)`)
)

// Parse splits a line-item string into name, quantity and variant.
// It reports false only for blank input; any other string parses, falling
// back to the whole string as name with quantity 1. The patterns stay
// permissive on purpose: the encoding is a wire format owned by an external
// order-entry UI.
func Parse(s string) (Item, bool) {
	if strings.TrimSpace(s) == "" {
		return Item{}, false
	}

	it := Item{Name: strings.TrimSpace(s), Qty: 1}

	// Quantity: "<name> x <digits>" first, then "<name> (<digits>)".
	if m := qtyXRe.FindStringSubmatch(s); m != nil {
		it.Name = strings.TrimSpace(m[1])
		it.Qty = parseQty(m[2])
	} else if m := qtyParenRe.FindStringSubmatch(s); m != nil {
		it.Name = strings.TrimSpace(m[1])
		it.Qty = parseQty(m[2])
	}

	// Variant markers are looked up on the original string, independent of
	// quantity parsing. A bracketed tag wins over a parenthesized code.
	if m := bracketRe.FindStringSubmatch(s); m != nil {
		it.Variant = m[1]
		// The tag must not take part in product name lookup.
		it.Name = strings.TrimSpace(bracketRe.ReplaceAllString(it.Name, ""))
	} else if m := varCodeRe.FindStringSubmatch(s); m != nil {
		it.Variant = m[1]
	}

	return it, true
}

func parseQty(digits string) int64 {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 1
	}
	return n
}
