package lineitem

import "testing"

func TestParse_PlainName(t *testing.T) {
	it, ok := Parse("Widget")
	if !ok {
		t.Fatalf("plain name should parse")
	}
	if it.Name != "Widget" || it.Qty != 1 || it.Variant != "" {
		t.Fatalf("unexpected item: %+v", it)
	}
}

func TestParse_XQuantity(t *testing.T) {
	it, ok := Parse("Widget x 3")
	if !ok {
		t.Fatalf("should parse")
	}
	if it.Name != "Widget" || it.Qty != 3 || it.Variant != "" {
		t.Fatalf("unexpected item: %+v", it)
	}
}

func TestParse_ParenQuantity(t *testing.T) {
	it, ok := Parse("Mug (2)")
	if !ok {
		t.Fatalf("should parse")
	}
	if it.Name != "Mug" || it.Qty != 2 || it.Variant != "" {
		t.Fatalf("unexpected item: %+v", it)
	}
}

func TestParse_XPatternWinsOverParen(t *testing.T) {
	// Both suffix patterns could fire; "x <digits>" is tried first.
	it, _ := Parse("Mug (Large) x 4")
	if it.Name != "Mug (Large)" || it.Qty != 4 {
		t.Fatalf("unexpected item: %+v", it)
	}
}

func TestParse_BracketVariant(t *testing.T) {
	it, _ := Parse("Widget [blue] x 2")
	if it.Variant != "blue" {
		t.Fatalf("want variant blue, got %q", it.Variant)
	}
	if it.Name != "Widget" {
		t.Fatalf("bracket tag must not stay in the name, got %q", it.Name)
	}
	if it.Qty != 2 {
		t.Fatalf("want qty 2, got %d", it.Qty)
	}
}

func TestParse_BracketVariantNoQuantity(t *testing.T) {
	it, _ := Parse("Shirt [02]")
	if it.Name != "Shirt" || it.Qty != 1 || it.Variant != "02" {
		t.Fatalf("unexpected item: %+v", it)
	}
}

func TestParse_ParenVariantCode(t *testing.T) {
	// "(02)" is both the paren quantity pattern and a variant code 01-05;
	// variant extraction works on the original string, so both apply.
	it, _ := Parse("Shirt (02)")
	if it.Name != "Shirt" || it.Qty != 2 || it.Variant != "02" {
		t.Fatalf("unexpected item: %+v", it)
	}
}

func TestParse_ParenCodeOutOfRangeIsNotVariant(t *testing.T) {
	it, _ := Parse("Shirt (06)")
	if it.Variant != "" {
		t.Fatalf("(06) is not a variant code, got %q", it.Variant)
	}
	if it.Qty != 6 {
		t.Fatalf("want qty 6, got %d", it.Qty)
	}
}

func TestParse_BracketBeatsParenCode(t *testing.T) {
	it, _ := Parse("Shirt [red] (02)")
	if it.Variant != "red" {
		t.Fatalf("bracket tag must win, got %q", it.Variant)
	}
}

func TestParse_Blank(t *testing.T) {
	if _, ok := Parse(""); ok {
		t.Fatalf("empty string must not parse")
	}
	if _, ok := Parse("   "); ok {
		t.Fatalf("blank string must not parse")
	}
}

func TestParse_NoSpacedXIsPartOfName(t *testing.T) {
	// The quantity suffix needs spaces around the x.
	it, _ := Parse("Box x2")
	if it.Name != "Box x2" || it.Qty != 1 {
		t.Fatalf("unexpected item: %+v", it)
	}
}
