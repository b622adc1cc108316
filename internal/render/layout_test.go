package render

import (
	"fmt"
	"reflect"
	"testing"

	"cardforge/internal/template"
)

func intPtr(i int) *int { return &i }

// charMeasurer 以字符数乘字号近似宽度，行高等于字号。
// 布局逻辑只依赖单调性，不依赖真实字体度量。
type charMeasurer struct{}

func (charMeasurer) MeasureText(s string, f FontSpec) (float64, float64) {
	return float64(len(s)) * f.Size, f.Size
}

func TestFitFontSize_ShrinksUntilFit(t *testing.T) {
	// "HelloWorld" is 10 chars: width = 10*size. MaxWidth 300 fits at size 30.
	text := "HelloWorld"
	el := &template.TextElement{
		MaxWidth: 300,
		AutoFit:  &template.AutoFit{MinSize: 10, MaxSize: 40, SingleLine: true},
	}

	got := FitFontSize(text, el, charMeasurer{})
	if got != 30 {
		t.Fatalf("FitFontSize = %v, want 30", got)
	}
}

func TestFitFontSize_ClampsAtMinSize(t *testing.T) {
	text := "HelloWorld" // needs size 5 for MaxWidth 50, below the floor
	el := &template.TextElement{
		MaxWidth: 50,
		AutoFit:  &template.AutoFit{MinSize: 10, MaxSize: 40, SingleLine: true},
	}

	if got := FitFontSize(text, el, charMeasurer{}); got != 10 {
		t.Fatalf("FitFontSize = %v, want min size 10", got)
	}
}

func TestFitFontSize_NoAutoFitKeepsFontSize(t *testing.T) {
	el := &template.TextElement{FontSize: 18}
	if got := FitFontSize("anything", el, charMeasurer{}); got != 18 {
		t.Fatalf("FitFontSize = %v, want 18", got)
	}
}

func TestFitFontSize_MultilineRespectsMaxLines(t *testing.T) {
	// Four 4-char words. At size 12 every pair overflows MaxWidth, so the
	// text needs 4 lines and busts MaxLines. At size 11 a line holds
	// "aaaa bbbb" (9 chars, 99 <= 100) and the text wraps to 2 lines.
	text := "aaaa bbbb cccc dddd"
	el := &template.TextElement{
		MaxWidth: 100,
		MaxLines: 2,
		AutoFit:  &template.AutoFit{MinSize: 6, MaxSize: 12},
	}

	got := FitFontSize(text, el, charMeasurer{})
	if got != 11 {
		t.Fatalf("FitFontSize = %v, want 11", got)
	}
}

func TestWrapLines_Greedy(t *testing.T) {
	font := FontSpec{Size: 10}
	lines := wrapLines("aa bb cc dd", 50, font, charMeasurer{})
	// "aa bb" is 5 chars (50), adding " cc" overflows.
	want := []string{"aa bb", "cc dd"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("wrapLines = %v, want %v", lines, want)
	}
}

func TestStyleSpans_PerWordRules(t *testing.T) {
	el := &template.TextElement{
		Color: "#000000",
		StyleRules: []template.StyleRule{
			{Selector: template.RuleSelector{FirstWord: true}, Color: "#ff0000"},
			{Selector: template.RuleSelector{Pattern: "This"}, Color: "#00ff00"},
			{Selector: template.RuleSelector{LastWord: true}, Color: "#0000ff", Bold: boolPtr(true)},
		},
	}

	spans := StyleSpans(el, "Hello World This Is A Test", 14)
	if len(spans) != 6 {
		t.Fatalf("expected 6 spans, got %d", len(spans))
	}

	wantColors := []string{
		"#ff0000", // first word rule
		"#ff0000", // carry-forward from the first-word rule
		"#00ff00", // pattern match
		"#00ff00", // carry-forward
		"#00ff00", // carry-forward
		"#0000ff", // last word rule
	}
	for i, span := range spans {
		if span.Color != wantColors[i] {
			t.Fatalf("span %d (%q) color = %q, want %q", i, span.Text, span.Color, wantColors[i])
		}
	}
	if !spans[5].Bold {
		t.Fatal("last word must be bold")
	}
	if spans[0].Bold {
		t.Fatal("first word must inherit base weight")
	}
}

func TestStyleSpans_LastDeclaredRuleWins(t *testing.T) {
	el := &template.TextElement{
		StyleRules: []template.StyleRule{
			{Selector: template.RuleSelector{FirstWord: true}, Color: "#ff0000"},
			{Selector: template.RuleSelector{WordIndex: intPtr(0)}, Color: "#00ff00"},
		},
	}
	spans := StyleSpans(el, "Hello there", 12)
	if spans[0].Color != "#00ff00" {
		t.Fatalf("span 0 color = %q, want later rule to win", spans[0].Color)
	}
}

func TestStyleSpans_RuleOverridesKeepBase(t *testing.T) {
	el := &template.TextElement{
		Color: "#111111",
		Bold:  true,
		StyleRules: []template.StyleRule{
			{Selector: template.RuleSelector{FirstWord: true}, Size: 20},
		},
	}
	spans := StyleSpans(el, "Big rest", 12)
	if spans[0].Size != 20 || spans[0].Color != "#111111" || !spans[0].Bold {
		t.Fatalf("override must keep unset base attributes: %+v", spans[0])
	}
}

func TestLayout_SortsByZIndexThenDeclaration(t *testing.T) {
	doc := &template.Document{Width: 100, Height: 100}
	mk := func(id string, z, order int) Resolved {
		return Resolved{
			Element: &template.Element{
				ID: id, Kind: template.KindText, ZIndex: z,
				Text: &template.TextElement{Content: id, FontSize: 10},
			},
			Order: order,
			Text:  id,
		}
	}

	placed := Layout(doc, []Resolved{
		mk("top", 5, 0),
		mk("base-a", 0, 1),
		mk("base-b", 0, 2),
	}, charMeasurer{})

	var ids []string
	for _, p := range placed {
		ids = append(ids, p.Res.Element.ID)
	}
	want := []string{"base-a", "base-b", "top"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("paint order = %v, want %v", ids, want)
	}
}

func TestLayout_QRFrameUsesElementSize(t *testing.T) {
	doc := &template.Document{Width: 300, Height: 300}
	r := Resolved{
		Element: &template.Element{
			ID: "qr", Kind: template.KindQR, X: 40, Y: 50,
			QR: &template.QRElement{
				Payload: template.PayloadURL, Field: "u",
				Size: 140, ErrorCorrection: template.ECMedium,
			},
		},
		X: 40, Y: 50, QRPayload: "https://example.com",
	}
	placed := Layout(doc, []Resolved{r}, charMeasurer{})
	frame := placed[0].Frame
	if frame != (Rect{X: 40, Y: 50, W: 140, H: 140}) {
		t.Fatalf("qr frame = %+v", frame)
	}
}

// filledCell 构造一个带非空文本内容的单元格，收缩时计为占用。
func filledCell(row, col int) ResolvedCell {
	return ResolvedCell{Row: row, Col: col, Content: &Resolved{
		Element: &template.Element{
			ID: fmt.Sprintf("cell-%d-%d", row, col), Kind: template.KindText,
			Text: &template.TextElement{Content: "x", FontSize: 8},
		},
		Text: "x",
	}}
}

// emptyTextCell 构造一个绑定字段解析为空串的文本单元格。
func emptyTextCell(row, col int) ResolvedCell {
	return ResolvedCell{Row: row, Col: col, Content: &Resolved{
		Element: &template.Element{
			ID: fmt.Sprintf("cell-%d-%d", row, col), Kind: template.KindText,
			Text: &template.TextElement{Field: "person.fax", FontSize: 8},
		},
		Text: "",
	}}
}

func tableResolved(collapse template.CollapseMode, cells []ResolvedCell) Resolved {
	return Resolved{
		Element: &template.Element{
			ID: "grid", Kind: template.KindTable, X: 100, Y: 200,
			Table: &template.TableElement{
				Rows: 3, Columns: 3,
				CellWidth: 80, CellHeight: 30,
				AutoCollapse: collapse,
			},
		},
		X: 100, Y: 200,
		Table: &ResolvedTable{Cells: cells},
	}
}

func TestLayoutTable_CollapsesEmptyRowsAndColumns(t *testing.T) {
	// 3x3 grid with only (0,0) and (2,2) populated: middle row and column
	// vanish, survivors remap to a 2x2 grid.
	cells := []ResolvedCell{
		filledCell(0, 0),
		filledCell(2, 2),
	}
	placed := Layout(&template.Document{Width: 500, Height: 500},
		[]Resolved{tableResolved(template.CollapseBoth, cells)}, charMeasurer{})

	tbl := placed[0].Table
	if tbl.Rows != 2 || tbl.Cols != 2 {
		t.Fatalf("collapsed grid = %dx%d, want 2x2", tbl.Rows, tbl.Cols)
	}
	if placed[0].Frame.W != 160 || placed[0].Frame.H != 60 {
		t.Fatalf("collapsed frame = %+v", placed[0].Frame)
	}

	got := map[[2]int]Rect{}
	for _, cell := range tbl.Cells {
		got[[2]int{cell.Row, cell.Col}] = cell.Frame
	}
	if frame, ok := got[[2]int{0, 0}]; !ok || frame.X != 100 || frame.Y != 200 {
		t.Fatalf("cell (0,0) misplaced: %+v", got)
	}
	if frame, ok := got[[2]int{1, 1}]; !ok || frame.X != 180 || frame.Y != 230 {
		t.Fatalf("cell (2,2) must remap to (1,1): %+v", got)
	}
}

func TestLayoutTable_EmptyStringCellRowCollapses(t *testing.T) {
	// 记录里的字段存在但值为空串：该单元格画不出任何内容，
	// 它所在的行必须与无单元格的行一样被收缩掉。
	cells := []ResolvedCell{
		filledCell(0, 0),
		emptyTextCell(2, 2),
	}
	placed := Layout(&template.Document{Width: 500, Height: 500},
		[]Resolved{tableResolved(template.CollapseRows, cells)}, charMeasurer{})

	tbl := placed[0].Table
	if tbl.Rows != 1 {
		t.Fatalf("empty-string row not collapsed: got %d rows, want 1", tbl.Rows)
	}
	if tbl.Cols != 3 {
		t.Fatalf("column count must be untouched in row mode: got %d", tbl.Cols)
	}
	if placed[0].Frame.H != 30 {
		t.Fatalf("frame height = %v, want 30", placed[0].Frame.H)
	}

	// 空二维码载荷同样不占位。
	qrCells := []ResolvedCell{
		filledCell(0, 0),
		{Row: 2, Col: 0, Content: &Resolved{
			Element: &template.Element{
				ID: "cell-qr", Kind: template.KindQR,
				QR: &template.QRElement{Payload: template.PayloadURL, Size: 20},
			},
			QRPayload: "",
		}},
	}
	placed = Layout(&template.Document{Width: 500, Height: 500},
		[]Resolved{tableResolved(template.CollapseRows, qrCells)}, charMeasurer{})
	if placed[0].Table.Rows != 1 {
		t.Fatalf("empty-payload qr row not collapsed: got %d rows", placed[0].Table.Rows)
	}
}

func TestLayoutTable_CollapseIsDeterministic(t *testing.T) {
	cells := []ResolvedCell{filledCell(0, 1), filledCell(2, 1)}
	doc := &template.Document{Width: 500, Height: 500}

	first := Layout(doc, []Resolved{tableResolved(template.CollapseBoth, cells)}, charMeasurer{})
	second := Layout(doc, []Resolved{tableResolved(template.CollapseBoth, cells)}, charMeasurer{})
	if !reflect.DeepEqual(first[0].Table, second[0].Table) {
		t.Fatal("same record must collapse to the same grid")
	}
	if first[0].Table.Rows != 2 || first[0].Table.Cols != 1 {
		t.Fatalf("collapsed grid = %dx%d, want 2x1", first[0].Table.Rows, first[0].Table.Cols)
	}
}

func TestLayoutTable_NoCollapseKeepsGrid(t *testing.T) {
	cells := []ResolvedCell{filledCell(0, 0)}
	placed := Layout(&template.Document{Width: 500, Height: 500},
		[]Resolved{tableResolved(template.CollapseNone, cells)}, charMeasurer{})

	tbl := placed[0].Table
	if tbl.Rows != 3 || tbl.Cols != 3 {
		t.Fatalf("grid without collapse = %dx%d, want 3x3", tbl.Rows, tbl.Cols)
	}
}
