package render

import (
	"regexp"
	"sort"
	"strings"

	"cardforge/internal/template"
)

// autoFitStep 是自适应字号每轮缩小的固定步长（pt）。
const autoFitStep = 1.0

// FontSpec 标识一次文本度量/绘制所用的字体。
type FontSpec struct {
	Family string
	Size   float64
	Bold   bool
	Italic bool
}

// Measurer 度量给定字体下的文本尺寸。compositor 的画布实现同时充当
// Measurer，保证布局与光栅化使用同一套字体度量。
type Measurer interface {
	MeasureText(s string, f FontSpec) (w, h float64)
}

// Rect 是最终像素空间几何。
type Rect struct {
	X, Y, W, H float64
}

// StyledSpan 是应用逐词样式后的一个词。
type StyledSpan struct {
	Text  string
	Color string
	Bold  bool
	Size  float64
}

// PlacedCell 持有收缩重映射后的网格地址与像素几何。
type PlacedCell struct {
	Row, Col int
	Frame    Rect
	Content  *Placed
}

// PlacedTable 是收缩后的表格网格。
type PlacedTable struct {
	Rows, Cols int
	Cells      []PlacedCell
}

// Placed 是带最终几何的 Resolved 元素，可直接交给 compositor。
type Placed struct {
	Res      Resolved
	Frame    Rect
	FontSize float64
	Spans    []StyledSpan
	Table    *PlacedTable
}

// Layout 计算所有 Resolved 元素的最终几何与样式，输出按
// (zIndex 升序, 声明顺序) 排序的扁平列表。
func Layout(doc *template.Document, resolved []Resolved, m Measurer) []Placed {
	ordered := make([]Resolved, len(resolved))
	copy(ordered, resolved)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Element.ZIndex != ordered[j].Element.ZIndex {
			return ordered[i].Element.ZIndex < ordered[j].Element.ZIndex
		}
		return ordered[i].Order < ordered[j].Order
	})

	placed := make([]Placed, 0, len(ordered))
	for _, r := range ordered {
		placed = append(placed, layoutOne(r, m))
	}
	return placed
}

func layoutOne(r Resolved, m Measurer) Placed {
	el := r.Element
	p := Placed{Res: r, Frame: Rect{X: r.X, Y: r.Y, W: el.Width, H: el.Height}}

	switch el.Kind {
	case template.KindText:
		layoutText(&p, m)
	case template.KindImage:
		// Frame already carries the (possibly data-driven) position; zero
		// width/height means the compositor uses the asset's natural size.
	case template.KindQR:
		size := float64(el.QR.Size)
		p.Frame.W, p.Frame.H = size, size
	case template.KindTable:
		layoutTable(&p, m)
	}
	return p
}

func layoutText(p *Placed, m Measurer) {
	el := p.Res.Element
	t := el.Text
	text := p.Res.Text

	p.FontSize = FitFontSize(text, t, m)
	p.Spans = StyleSpans(t, text, p.FontSize)

	font := FontSpec{Family: t.FontFamily, Size: p.FontSize, Bold: t.Bold, Italic: t.Italic}
	w, h := m.MeasureText(text, font)
	if t.MaxWidth > 0 {
		p.Frame.W = t.MaxWidth
		lines := wrapLines(text, t.MaxWidth, font, m)
		if t.MaxLines > 0 && len(lines) > t.MaxLines {
			lines = lines[:t.MaxLines] // still overflowing at min size: clip
		}
		p.Frame.H = float64(len(lines)) * h
	} else {
		p.Frame.W = w
		p.Frame.H = h
	}
}

// FitFontSize 执行自适应字号：从 MaxSize 起按固定步长缩小，直到内容
// 放得下 MaxWidth/MaxLines 或到达 MinSize。到 MinSize 仍溢出则维持
// MinSize（内容在绘制时被裁剪）。
func FitFontSize(text string, t *template.TextElement, m Measurer) float64 {
	if t.AutoFit == nil {
		return t.FontSize
	}
	fit := t.AutoFit
	size := fit.MaxSize
	for size > fit.MinSize {
		if textFits(text, t, size, m) {
			return size
		}
		size -= autoFitStep
	}
	return fit.MinSize
}

func textFits(text string, t *template.TextElement, size float64, m Measurer) bool {
	font := FontSpec{Family: t.FontFamily, Size: size, Bold: t.Bold, Italic: t.Italic}
	if t.AutoFit.SingleLine {
		w, _ := m.MeasureText(text, font)
		return w <= t.MaxWidth
	}
	lines := wrapLines(text, t.MaxWidth, font, m)
	if t.MaxLines > 0 && len(lines) > t.MaxLines {
		return false
	}
	for _, line := range lines {
		if w, _ := m.MeasureText(line, font); w > t.MaxWidth {
			// A single word wider than the box can never wrap into it.
			return false
		}
	}
	return true
}

// wrapLines 以贪心策略按词换行。
func wrapLines(text string, maxWidth float64, font FontSpec, m Measurer) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		candidate := current + " " + word
		if w, _ := m.MeasureText(candidate, font); w <= maxWidth {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	return append(lines, current)
}

// StyleSpans 对已解析文本做逐词样式分段。每个词取声明顺序上最后一条
// 命中的规则；规则覆盖量叠加在基础样式之上；最后一条命中规则之后的词
// 沿用该规则的样式直到行尾。
func StyleSpans(t *template.TextElement, text string, baseSize float64) []StyledSpan {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	base := StyledSpan{Color: t.Color, Bold: t.Bold, Size: baseSize}
	current := base

	spans := make([]StyledSpan, 0, len(words))
	for i, word := range words {
		if rule, ok := lastMatchingRule(t.StyleRules, i, word, len(words)); ok {
			current = applyRule(base, rule)
		}
		span := current
		span.Text = word
		spans = append(spans, span)
	}
	return spans
}

func lastMatchingRule(rules []template.StyleRule, index int, word string, total int) (template.StyleRule, bool) {
	for i := len(rules) - 1; i >= 0; i-- {
		if selectorMatches(rules[i].Selector, index, word, total) {
			return rules[i], true
		}
	}
	return template.StyleRule{}, false
}

func selectorMatches(sel template.RuleSelector, index int, word string, total int) bool {
	switch {
	case sel.FirstWord:
		return index == 0
	case sel.LastWord:
		return index == total-1
	case sel.WordIndex != nil:
		return index == *sel.WordIndex
	case sel.Pattern != "":
		if sel.PatternMode == template.PatternRegex {
			matched, err := regexp.MatchString(sel.Pattern, word)
			return err == nil && matched
		}
		return strings.Contains(word, sel.Pattern)
	default:
		return false
	}
}

func applyRule(base StyledSpan, rule template.StyleRule) StyledSpan {
	out := base
	if rule.Color != "" {
		out.Color = rule.Color
	}
	if rule.Bold != nil {
		out.Bold = *rule.Bold
	}
	if rule.Size > 0 {
		out.Size = rule.Size
	}
	return out
}

// layoutTable 先按记录占用情况收缩整空的行/列，再分配像素几何。
// 同一记录重复布局产出完全一致的收缩网格。
func layoutTable(p *Placed, m Measurer) {
	el := p.Res.Element
	tbl := el.Table

	rowMap, rows := collapseAxis(tbl.Rows, tbl.AutoCollapse == template.CollapseRows || tbl.AutoCollapse == template.CollapseBoth, func(row int) bool {
		for _, cell := range p.Res.Table.Cells {
			if cell.Row == row && cellOccupied(cell) {
				return true
			}
		}
		return false
	})
	colMap, cols := collapseAxis(tbl.Columns, tbl.AutoCollapse == template.CollapseColumns || tbl.AutoCollapse == template.CollapseBoth, func(col int) bool {
		for _, cell := range p.Res.Table.Cells {
			if cell.Col == col && cellOccupied(cell) {
				return true
			}
		}
		return false
	})

	p.Table = &PlacedTable{Rows: rows, Cols: cols}
	p.Frame.W = float64(cols) * tbl.CellWidth
	p.Frame.H = float64(rows) * tbl.CellHeight

	for _, cell := range p.Res.Table.Cells {
		row, ok := rowMap[cell.Row]
		if !ok {
			continue
		}
		col, ok := colMap[cell.Col]
		if !ok {
			continue
		}
		frame := Rect{
			X: p.Frame.X + float64(col)*tbl.CellWidth,
			Y: p.Frame.Y + float64(row)*tbl.CellHeight,
			W: tbl.CellWidth,
			H: tbl.CellHeight,
		}
		placedCell := PlacedCell{Row: row, Col: col, Frame: frame}
		if cell.Content != nil {
			content := layoutOne(*cell.Content, m)
			content.Frame.X += frame.X
			content.Frame.Y += frame.Y
			placedCell.Content = &content
		}
		p.Table.Cells = append(p.Table.Cells, placedCell)
	}
}

// cellOccupied 判断单元格对当前记录是否真正有内容可画。
// 绑定字段解析为空串的文本/二维码单元格视作空，参与行列收缩。
func cellOccupied(cell ResolvedCell) bool {
	if cell.Content == nil {
		return false
	}
	switch cell.Content.Element.Kind {
	case template.KindText:
		return strings.TrimSpace(cell.Content.Text) != ""
	case template.KindQR:
		return cell.Content.QRPayload != ""
	default:
		return true
	}
}

// collapseAxis 返回旧下标 → 收缩后下标的映射与剩余数量。
// 不收缩时为恒等映射。
func collapseAxis(size int, collapse bool, occupied func(int) bool) (map[int]int, int) {
	mapping := make(map[int]int, size)
	next := 0
	for i := 0; i < size; i++ {
		if collapse && !occupied(i) {
			continue
		}
		mapping[i] = next
		next++
	}
	return mapping, next
}
