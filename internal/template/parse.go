package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// InvalidError 表示模板定义不合法。携带违规元素 ID 与规则描述，
// 属于终态错误：同一文档重试不会变好，任务不应重试。
type InvalidError struct {
	ElementID string
	Rule      string
}

func (e *InvalidError) Error() string {
	if e.ElementID == "" {
		return fmt.Sprintf("invalid template: %s", e.Rule)
	}
	return fmt.Sprintf("invalid template: element %q: %s", e.ElementID, e.Rule)
}

func invalid(elementID, format string, args ...any) *InvalidError {
	return &InvalidError{ElementID: elementID, Rule: fmt.Sprintf(format, args...)}
}

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidFieldPath 判断 s 是否为合法的数据键路径（点号分隔的标识符）。
func ValidFieldPath(s string) bool {
	return fieldPathPattern.MatchString(s)
}

// PositionExpr 是解析后的动态位置表达式：字段值加常量偏移。
type PositionExpr struct {
	Field  string
	Offset float64
}

// ParsePositionExpr 解析 "field"、"field+10"、"field-3.5" 形式的表达式。
func ParsePositionExpr(expr string) (PositionExpr, error) {
	expr = strings.TrimSpace(expr)
	idx := strings.IndexAny(expr, "+-")
	if idx < 0 {
		if !ValidFieldPath(expr) {
			return PositionExpr{}, fmt.Errorf("invalid field path %q", expr)
		}
		return PositionExpr{Field: expr}, nil
	}

	field := strings.TrimSpace(expr[:idx])
	if !ValidFieldPath(field) {
		return PositionExpr{}, fmt.Errorf("invalid field path %q", field)
	}
	offset, err := strconv.ParseFloat(strings.TrimSpace(expr[idx:]), 64)
	if err != nil {
		return PositionExpr{}, fmt.Errorf("invalid offset in %q: %w", expr, err)
	}
	return PositionExpr{Field: field, Offset: offset}, nil
}

// Parse 解码模板文档并校验。任何校验失败都返回 *InvalidError。
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, invalid("", "decode document: %v", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate 校验整份文档：画布尺寸、元素 ID 唯一性（含表格嵌套元素）、
// 变体与 Kind 一致、字段路径语法、枚举取值与表格寻址范围。
// 校验通过后文档在一次渲染任务内视为不可变。
func (d *Document) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return invalid("", "canvas dimensions must be positive, got %dx%d", d.Width, d.Height)
	}
	switch d.Format {
	case FormatPNG, FormatJPG, "":
	default:
		return invalid("", "unknown export format %q", d.Format)
	}
	if d.DPI < 0 {
		return invalid("", "dpi must not be negative")
	}

	seen := make(map[string]struct{}, len(d.Elements))
	for i := range d.Elements {
		el := &d.Elements[i]
		if err := validateElement(el, seen, true); err != nil {
			return err
		}
	}
	return nil
}

func validateElement(el *Element, seen map[string]struct{}, allowTable bool) error {
	if el.ID == "" {
		return invalid("", "element id must not be empty")
	}
	if _, dup := seen[el.ID]; dup {
		return invalid(el.ID, "duplicate element id")
	}
	seen[el.ID] = struct{}{}

	variants := 0
	for _, set := range []bool{el.Text != nil, el.Image != nil, el.QR != nil, el.Table != nil} {
		if set {
			variants++
		}
	}
	if variants != 1 {
		return invalid(el.ID, "element must carry exactly one variant, got %d", variants)
	}

	switch el.Kind {
	case KindText:
		if el.Text == nil {
			return invalid(el.ID, "kind is text but text variant is missing")
		}
		return validateText(el.ID, el.Text)
	case KindImage:
		if el.Image == nil {
			return invalid(el.ID, "kind is image but image variant is missing")
		}
		return validateImage(el.ID, el.Image)
	case KindQR:
		if el.QR == nil {
			return invalid(el.ID, "kind is qr but qr variant is missing")
		}
		return validateQR(el.ID, el.QR)
	case KindTable:
		if el.Table == nil {
			return invalid(el.ID, "kind is table but table variant is missing")
		}
		if !allowTable {
			return invalid(el.ID, "tables must not nest inside table cells")
		}
		return validateTable(el.ID, el.Table, seen)
	default:
		return invalid(el.ID, "unknown element kind %q", el.Kind)
	}
}

func validateText(id string, t *TextElement) error {
	if t.Field == "" && t.Content == "" {
		return invalid(id, "text element needs a bound field or literal content")
	}
	if t.Field != "" && !ValidFieldPath(t.Field) {
		return invalid(id, "invalid field path %q", t.Field)
	}
	if t.FontSize <= 0 && t.AutoFit == nil {
		return invalid(id, "font size must be positive")
	}
	if t.AutoFit != nil {
		if t.AutoFit.MinSize <= 0 || t.AutoFit.MaxSize <= 0 {
			return invalid(id, "auto fit sizes must be positive")
		}
		if t.AutoFit.MinSize > t.AutoFit.MaxSize {
			return invalid(id, "auto fit min size %.1f exceeds max size %.1f", t.AutoFit.MinSize, t.AutoFit.MaxSize)
		}
		if t.MaxWidth <= 0 {
			return invalid(id, "auto fit requires max width")
		}
	}
	for i, rule := range t.StyleRules {
		if err := validateStyleRule(id, i, rule); err != nil {
			return err
		}
	}
	return nil
}

func validateStyleRule(id string, i int, rule StyleRule) error {
	sel := rule.Selector
	selectors := 0
	if sel.FirstWord {
		selectors++
	}
	if sel.LastWord {
		selectors++
	}
	if sel.WordIndex != nil {
		if *sel.WordIndex < 0 {
			return invalid(id, "style rule %d: word index must not be negative", i)
		}
		selectors++
	}
	if sel.Pattern != "" {
		selectors++
		switch sel.PatternMode {
		case PatternSubstring, PatternRegex, "":
		default:
			return invalid(id, "style rule %d: unknown pattern mode %q", i, sel.PatternMode)
		}
		if sel.PatternMode == PatternRegex {
			if _, err := regexp.Compile(sel.Pattern); err != nil {
				return invalid(id, "style rule %d: bad pattern: %v", i, err)
			}
		}
	}
	if selectors != 1 {
		return invalid(id, "style rule %d: exactly one selector required, got %d", i, selectors)
	}
	return nil
}

func validateImage(id string, img *ImageElement) error {
	if img.AssetRef == "" {
		return invalid(id, "image element needs an asset ref")
	}
	if img.VisibleField != "" && !ValidFieldPath(img.VisibleField) {
		return invalid(id, "invalid visibility field path %q", img.VisibleField)
	}
	for _, expr := range []string{img.XExpr, img.YExpr} {
		if expr == "" {
			continue
		}
		if _, err := ParsePositionExpr(expr); err != nil {
			return invalid(id, "bad position expression: %v", err)
		}
	}
	switch img.ScaleMode {
	case ScaleFill, ScaleFit, ScaleStretch, "":
	default:
		return invalid(id, "unknown scale mode %q", img.ScaleMode)
	}
	return nil
}

func validateQR(id string, qr *QRElement) error {
	switch qr.Payload {
	case PayloadURL, PayloadText, PayloadVCard, PayloadEmail, PayloadPhone:
	default:
		return invalid(id, "unknown payload kind %q", qr.Payload)
	}
	if qr.Field == "" || !ValidFieldPath(qr.Field) {
		return invalid(id, "invalid qr field path %q", qr.Field)
	}
	if qr.Size <= 0 {
		return invalid(id, "qr size must be positive")
	}
	if qr.Margin < 0 {
		return invalid(id, "qr margin must not be negative")
	}
	switch qr.ErrorCorrection {
	case ECLow, ECMedium, ECQuartile, ECHigh:
	default:
		return invalid(id, "unknown error correction level %q", qr.ErrorCorrection)
	}
	if qr.Logo != nil {
		if qr.Logo.AssetRef == "" {
			return invalid(id, "qr logo needs an asset ref")
		}
		if qr.Logo.Size <= 0 {
			return invalid(id, "qr logo size must be positive")
		}
	}
	return nil
}

func validateTable(id string, tbl *TableElement, seen map[string]struct{}) error {
	if tbl.Rows <= 0 || tbl.Columns <= 0 {
		return invalid(id, "table grid must be positive, got %dx%d", tbl.Rows, tbl.Columns)
	}
	if tbl.CellWidth <= 0 || tbl.CellHeight <= 0 {
		return invalid(id, "table cell size must be positive")
	}
	switch tbl.AutoCollapse {
	case CollapseNone, CollapseRows, CollapseColumns, CollapseBoth:
	default:
		return invalid(id, "unknown auto collapse mode %q", tbl.AutoCollapse)
	}

	addrs := make(map[[2]int]struct{}, len(tbl.Cells))
	for _, cell := range tbl.Cells {
		if cell.Row < 0 || cell.Row >= tbl.Rows || cell.Col < 0 || cell.Col >= tbl.Columns {
			return invalid(id, "cell (%d,%d) outside %dx%d grid", cell.Row, cell.Col, tbl.Rows, tbl.Columns)
		}
		addr := [2]int{cell.Row, cell.Col}
		if _, dup := addrs[addr]; dup {
			return invalid(id, "duplicate cell address (%d,%d)", cell.Row, cell.Col)
		}
		addrs[addr] = struct{}{}
		if cell.Element != nil {
			if err := validateElement(cell.Element, seen, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExportFormat 返回模板的导出格式，未设置时默认 PNG。
func (d *Document) ExportFormat() Format {
	if d.Format == "" {
		return FormatPNG
	}
	return d.Format
}

// ExportDPI 返回导出 DPI，未设置时默认 96（画布像素即输出像素）。
func (d *Document) ExportDPI() int {
	if d.DPI == 0 {
		return 96
	}
	return d.DPI
}
