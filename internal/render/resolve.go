package render

import (
	"fmt"
	"strconv"
	"strings"

	"cardforge/internal/template"
)

// Resolved 是元素与单条记录绑定后的实例，仅存活于一次渲染任务。
// Order 保留声明顺序，供 zIndex 相同时稳定排序。
type Resolved struct {
	Element *template.Element
	Order   int

	// Kind-specific resolved payloads.
	Text      string
	QRPayload string
	X, Y      float64
	Table     *ResolvedTable
}

// ResolvedTable 保留解析成功的单元格；内容解析为空串的单元格也在列，
// 但布局收缩时不计占用。
type ResolvedTable struct {
	Cells []ResolvedCell
}

// ResolvedCell 沿用模板网格寻址；收缩后的重映射发生在布局阶段。
type ResolvedCell struct {
	Row, Col int
	Content  *Resolved
}

// LookupField 以点号路径在记录中取值。中间节点必须是 map。
func LookupField(record map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = record
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// truthy 判定可见性字段的值：nil、false、空串与数值 0 视为假。
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Resolve 将校验过的模板与一条数据记录绑定，产出每个有效可见元素的
// Resolved 实例。缺失的必填字段降级为 Warning 并跳过该元素。
func Resolve(doc *template.Document, record map[string]any) ([]Resolved, []Warning) {
	resolved := make([]Resolved, 0, len(doc.Elements))
	var warnings []Warning

	for i := range doc.Elements {
		el := &doc.Elements[i]
		r, warns, ok := resolveElement(el, i, record)
		warnings = append(warnings, warns...)
		if ok {
			resolved = append(resolved, r)
		}
	}
	return resolved, warnings
}

func resolveElement(el *template.Element, order int, record map[string]any) (Resolved, []Warning, bool) {
	// 模板层面的显式隐藏不可被记录覆盖。
	if !el.BaselineVisible() {
		return Resolved{}, nil, false
	}

	r := Resolved{Element: el, Order: order, X: el.X, Y: el.Y}
	var warnings []Warning

	switch el.Kind {
	case template.KindText:
		text, warn, ok := resolveText(el, record)
		if warn != nil {
			warnings = append(warnings, *warn)
		}
		if !ok {
			return Resolved{}, warnings, false
		}
		r.Text = text

	case template.KindImage:
		visible, warns := resolveImage(&r, el, record)
		warnings = append(warnings, warns...)
		if !visible {
			return Resolved{}, warnings, false
		}

	case template.KindQR:
		payload, warn, ok := resolveQR(el, record)
		if warn != nil {
			warnings = append(warnings, *warn)
		}
		if !ok {
			return Resolved{}, warnings, false
		}
		r.QRPayload = payload

	case template.KindTable:
		table, warns := resolveTable(el, record)
		warnings = append(warnings, warns...)
		r.Table = table

	default:
		// Unknown kinds are rejected by template validation; skip defensively.
		return Resolved{}, warnings, false
	}

	return r, warnings, true
}

func resolveText(el *template.Element, record map[string]any) (string, *Warning, bool) {
	t := el.Text
	if t.Field == "" {
		return t.Content, nil, true
	}
	value, ok := LookupField(record, t.Field)
	if !ok || value == nil {
		return "", &Warning{
			ElementID: el.ID,
			Field:     t.Field,
			Message:   "bound field missing, element skipped",
		}, false
	}
	return stringify(value), nil, true
}

func resolveImage(r *Resolved, el *template.Element, record map[string]any) (bool, []Warning) {
	img := el.Image
	var warnings []Warning

	if img.VisibleField != "" {
		value, _ := LookupField(record, img.VisibleField)
		if !truthy(value) {
			return false, nil
		}
	}

	if img.XExpr != "" {
		if x, warn := evalPosition(el.ID, img.XExpr, record); warn != nil {
			warnings = append(warnings, *warn)
		} else {
			r.X = x
		}
	}
	if img.YExpr != "" {
		if y, warn := evalPosition(el.ID, img.YExpr, record); warn != nil {
			warnings = append(warnings, *warn)
		} else {
			r.Y = y
		}
	}
	return true, warnings
}

// evalPosition 对动态位置表达式求值。字段缺失或非数值时回退到模板
// 静态位置，并产出告警而不是失败。
func evalPosition(elementID, expr string, record map[string]any) (float64, *Warning) {
	parsed, err := template.ParsePositionExpr(expr)
	if err != nil {
		// Unreachable after validation; degrade to the static position.
		return 0, &Warning{ElementID: elementID, Message: err.Error()}
	}
	value, ok := LookupField(record, parsed.Field)
	if !ok {
		return 0, &Warning{
			ElementID: elementID,
			Field:     parsed.Field,
			Message:   "position field missing, using template position",
		}
	}
	num, ok := toFloat(value)
	if !ok {
		return 0, &Warning{
			ElementID: elementID,
			Field:     parsed.Field,
			Message:   fmt.Sprintf("position field is not numeric: %v", value),
		}
	}
	return num + parsed.Offset, nil
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func resolveQR(el *template.Element, record map[string]any) (string, *Warning, bool) {
	qr := el.QR
	value, ok := LookupField(record, qr.Field)
	if !ok || value == nil {
		return "", &Warning{
			ElementID: el.ID,
			Field:     qr.Field,
			Message:   "bound field missing, element skipped",
		}, false
	}
	return FormatQRPayload(qr.Payload, value), nil, true
}

// FormatQRPayload 将绑定值编排为二维码载荷字符串。
func FormatQRPayload(kind template.PayloadKind, value any) string {
	switch kind {
	case template.PayloadEmail:
		return "mailto:" + stringify(value)
	case template.PayloadPhone:
		return "tel:" + stringify(value)
	case template.PayloadVCard:
		return formatVCard(value)
	default: // url, text
		return stringify(value)
	}
}

// formatVCard 接受结构化记录（name/org/phone/email）或纯字符串姓名。
func formatVCard(value any) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\nVERSION:3.0\n")
	switch val := value.(type) {
	case map[string]any:
		if name, ok := val["name"]; ok {
			fmt.Fprintf(&b, "FN:%s\n", stringify(name))
		}
		if org, ok := val["org"]; ok {
			fmt.Fprintf(&b, "ORG:%s\n", stringify(org))
		}
		if phone, ok := val["phone"]; ok {
			fmt.Fprintf(&b, "TEL:%s\n", stringify(phone))
		}
		if email, ok := val["email"]; ok {
			fmt.Fprintf(&b, "EMAIL:%s\n", stringify(email))
		}
	default:
		fmt.Fprintf(&b, "FN:%s\n", stringify(val))
	}
	b.WriteString("END:VCARD")
	return b.String()
}

func resolveTable(el *template.Element, record map[string]any) (*ResolvedTable, []Warning) {
	tbl := el.Table
	table := &ResolvedTable{}
	var warnings []Warning

	for _, cell := range tbl.Cells {
		if cell.Element == nil {
			continue
		}
		content, warns, ok := resolveElement(cell.Element, 0, record)
		warnings = append(warnings, warns...)
		if !ok {
			continue
		}
		c := content
		table.Cells = append(table.Cells, ResolvedCell{Row: cell.Row, Col: cell.Col, Content: &c})
	}
	return table, warnings
}
