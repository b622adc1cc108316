package template

import (
	"errors"
	"strings"
	"testing"
)

func intPtr(i int) *int { return &i }

func validDoc() *Document {
	return &Document{
		Width:  600,
		Height: 340,
		Elements: []Element{
			{
				ID:   "name",
				Kind: KindText,
				X:    40, Y: 60,
				Text: &TextElement{
					Field:    "person.name",
					FontSize: 36,
					MaxWidth: 360,
					AutoFit:  &AutoFit{MinSize: 18, MaxSize: 36, SingleLine: true},
				},
			},
			{
				ID:   "qr",
				Kind: KindQR,
				X:    440, Y: 120,
				QR: &QRElement{
					Payload:         PayloadURL,
					Field:           "person.homepage",
					Size:            140,
					Margin:          8,
					ErrorCorrection: ECMedium,
				},
			},
		},
	}
}

func TestParse_ValidDocument(t *testing.T) {
	raw := `{
		"width": 600, "height": 340, "format": "png",
		"brand_colors": {"primary": "#1f6feb"},
		"elements": [
			{"id": "name", "kind": "text", "x": 40, "y": 60,
			 "text": {"field": "person.name", "font_size": 36}}
		]
	}`
	doc, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse valid document: %v", err)
	}
	if len(doc.Elements) != 1 {
		t.Fatalf("expected 1 element, got %d", len(doc.Elements))
	}
	if doc.Elements[0].Kind != KindText || doc.Elements[0].Text == nil {
		t.Fatalf("expected text variant, got %+v", doc.Elements[0])
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"width": `))
	var invalidErr *InvalidError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected *InvalidError, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Document)
		rule   string
	}{
		{
			name:   "nonpositive canvas",
			mutate: func(d *Document) { d.Width = 0 },
			rule:   "canvas dimensions",
		},
		{
			name:   "unknown format",
			mutate: func(d *Document) { d.Format = "bmp" },
			rule:   "unknown export format",
		},
		{
			name:   "empty element id",
			mutate: func(d *Document) { d.Elements[0].ID = "" },
			rule:   "id must not be empty",
		},
		{
			name:   "duplicate element id",
			mutate: func(d *Document) { d.Elements[1].ID = "name" },
			rule:   "duplicate element id",
		},
		{
			name: "two variants",
			mutate: func(d *Document) {
				d.Elements[0].Image = &ImageElement{AssetRef: "assets/x.png"}
			},
			rule: "exactly one variant",
		},
		{
			name: "kind variant mismatch",
			mutate: func(d *Document) {
				d.Elements[0].Text = nil
				d.Elements[0].Image = &ImageElement{AssetRef: "assets/x.png"}
			},
			rule: "kind is text",
		},
		{
			name:   "unknown kind",
			mutate: func(d *Document) { d.Elements[0].Kind = "video" },
			rule:   "unknown element kind",
		},
		{
			name:   "bad field path",
			mutate: func(d *Document) { d.Elements[0].Text.Field = "1bad.path" },
			rule:   "invalid field path",
		},
		{
			name: "text without field or content",
			mutate: func(d *Document) {
				d.Elements[0].Text.Field = ""
				d.Elements[0].Text.Content = ""
			},
			rule: "bound field or literal content",
		},
		{
			name: "auto fit min above max",
			mutate: func(d *Document) {
				d.Elements[0].Text.AutoFit = &AutoFit{MinSize: 40, MaxSize: 18}
			},
			rule: "min size",
		},
		{
			name: "auto fit without max width",
			mutate: func(d *Document) {
				d.Elements[0].Text.MaxWidth = 0
			},
			rule: "requires max width",
		},
		{
			name: "style rule without selector",
			mutate: func(d *Document) {
				d.Elements[0].Text.StyleRules = []StyleRule{{Color: "#ff0000"}}
			},
			rule: "exactly one selector",
		},
		{
			name: "style rule with two selectors",
			mutate: func(d *Document) {
				d.Elements[0].Text.StyleRules = []StyleRule{
					{Selector: RuleSelector{FirstWord: true, LastWord: true}},
				}
			},
			rule: "exactly one selector",
		},
		{
			name: "style rule bad regex",
			mutate: func(d *Document) {
				d.Elements[0].Text.StyleRules = []StyleRule{
					{Selector: RuleSelector{Pattern: "[", PatternMode: PatternRegex}},
				}
			},
			rule: "bad pattern",
		},
		{
			name: "style rule negative word index",
			mutate: func(d *Document) {
				d.Elements[0].Text.StyleRules = []StyleRule{
					{Selector: RuleSelector{WordIndex: intPtr(-1)}},
				}
			},
			rule: "word index",
		},
		{
			name:   "qr unknown payload",
			mutate: func(d *Document) { d.Elements[1].QR.Payload = "wifi" },
			rule:   "unknown payload kind",
		},
		{
			name:   "qr unknown error correction",
			mutate: func(d *Document) { d.Elements[1].QR.ErrorCorrection = "X" },
			rule:   "error correction",
		},
		{
			name:   "qr nonpositive size",
			mutate: func(d *Document) { d.Elements[1].QR.Size = 0 },
			rule:   "qr size",
		},
		{
			name: "qr logo without asset",
			mutate: func(d *Document) {
				d.Elements[1].QR.Logo = &QRLogo{Size: 40}
			},
			rule: "logo needs an asset ref",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := validDoc()
			tc.mutate(doc)
			err := doc.Validate()
			var invalidErr *InvalidError
			if !errors.As(err, &invalidErr) {
				t.Fatalf("expected *InvalidError, got %v", err)
			}
			if !strings.Contains(invalidErr.Rule, tc.rule) {
				t.Fatalf("rule %q does not mention %q", invalidErr.Rule, tc.rule)
			}
		})
	}
}

func TestValidate_TableRules(t *testing.T) {
	base := func() *Document {
		return &Document{
			Width: 400, Height: 400,
			Elements: []Element{{
				ID:   "grid",
				Kind: KindTable,
				Table: &TableElement{
					Rows: 2, Columns: 2,
					CellWidth: 80, CellHeight: 30,
					Cells: []TableCell{
						{Row: 0, Col: 0, Element: &Element{
							ID: "cell-a", Kind: KindText,
							Text: &TextElement{Content: "a", FontSize: 12},
						}},
					},
				},
			}},
		}
	}

	t.Run("valid grid", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Fatalf("expected valid table, got %v", err)
		}
	})

	t.Run("cell outside grid", func(t *testing.T) {
		doc := base()
		doc.Elements[0].Table.Cells[0].Row = 5
		if err := doc.Validate(); err == nil {
			t.Fatal("expected out-of-range cell to fail validation")
		}
	})

	t.Run("duplicate cell address", func(t *testing.T) {
		doc := base()
		doc.Elements[0].Table.Cells = append(doc.Elements[0].Table.Cells, TableCell{
			Row: 0, Col: 0,
			Element: &Element{ID: "cell-b", Kind: KindText, Text: &TextElement{Content: "b", FontSize: 12}},
		})
		if err := doc.Validate(); err == nil {
			t.Fatal("expected duplicate cell address to fail validation")
		}
	})

	t.Run("nested table", func(t *testing.T) {
		doc := base()
		doc.Elements[0].Table.Cells[0].Element = &Element{
			ID: "inner", Kind: KindTable,
			Table: &TableElement{Rows: 1, Columns: 1, CellWidth: 10, CellHeight: 10},
		}
		err := doc.Validate()
		var invalidErr *InvalidError
		if !errors.As(err, &invalidErr) || !strings.Contains(invalidErr.Rule, "nest") {
			t.Fatalf("expected nested-table rejection, got %v", err)
		}
	})

	t.Run("nested id collides with outer element", func(t *testing.T) {
		doc := base()
		doc.Elements[0].Table.Cells[0].Element.ID = "grid"
		if err := doc.Validate(); err == nil {
			t.Fatal("expected duplicate id across nesting to fail validation")
		}
	})
}

func TestParsePositionExpr(t *testing.T) {
	tests := []struct {
		expr    string
		field   string
		offset  float64
		wantErr bool
	}{
		{expr: "badge.x", field: "badge.x"},
		{expr: "badge.x+10", field: "badge.x", offset: 10},
		{expr: "badge.x-3.5", field: "badge.x", offset: -3.5},
		{expr: "1bad", wantErr: true},
		{expr: "badge.x+abc", wantErr: true},
		{expr: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParsePositionExpr(tc.expr)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePositionExpr(%q): expected error", tc.expr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePositionExpr(%q): %v", tc.expr, err)
			continue
		}
		if got.Field != tc.field || got.Offset != tc.offset {
			t.Errorf("ParsePositionExpr(%q) = %+v, want field=%q offset=%v", tc.expr, got, tc.field, tc.offset)
		}
	}
}

func TestDocument_ExportDefaults(t *testing.T) {
	doc := &Document{Width: 100, Height: 100}
	if doc.ExportFormat() != FormatPNG {
		t.Fatalf("default format = %q, want png", doc.ExportFormat())
	}
	if doc.ExportDPI() != 96 {
		t.Fatalf("default dpi = %d, want 96", doc.ExportDPI())
	}

	doc.Format = FormatJPG
	doc.DPI = 300
	if doc.ExportFormat() != FormatJPG || doc.ExportDPI() != 300 {
		t.Fatalf("explicit export options not honored: %q %d", doc.ExportFormat(), doc.ExportDPI())
	}
}
