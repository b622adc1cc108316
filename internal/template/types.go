package template

// Document 表示存储在模板 Content(JSONB) 中的结构化定义。
// 一个模板由画布尺寸、导出选项、品牌色与有序的元素列表组成。
type Document struct {
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Format      Format            `json:"format"`
	DPI         int               `json:"dpi,omitempty"`
	BrandColors map[string]string `json:"brand_colors,omitempty"`
	Elements    []Element         `json:"elements"`
}

// Format 是导出格式。
type Format string

const (
	FormatPNG Format = "png"
	FormatJPG Format = "jpg"
)

// Kind 标记元素变体。四种变体构成封闭集合，所有消费方必须对 Kind
// 做穷举 switch，未知值一律报错。
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindQR    Kind = "qr"
	KindTable Kind = "table"
)

// Element 是模板中的单个可视元素。Kind 决定哪个变体字段被填充，
// 其余变体字段必须为 nil（Validate 强制）。
type Element struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width,omitempty"`
	Height   float64  `json:"height,omitempty"`
	Rotation float64  `json:"rotation,omitempty"`
	Opacity  *float64 `json:"opacity,omitempty"`
	Visible  *bool    `json:"visible,omitempty"`
	Locked   bool     `json:"locked,omitempty"`
	ZIndex   int      `json:"z_index,omitempty"`

	Text  *TextElement  `json:"text,omitempty"`
	Image *ImageElement `json:"image,omitempty"`
	QR    *QRElement    `json:"qr,omitempty"`
	Table *TableElement `json:"table,omitempty"`
}

// EffectiveOpacity returns the element opacity clamped to [0, 1], defaulting to 1.
func (e *Element) EffectiveOpacity() float64 {
	if e.Opacity == nil {
		return 1
	}
	o := *e.Opacity
	if o < 0 {
		return 0
	}
	if o > 1 {
		return 1
	}
	return o
}

// BaselineVisible 返回模板层面的可见性（未设置即可见）。
func (e *Element) BaselineVisible() bool {
	return e.Visible == nil || *e.Visible
}

// TextElement 绑定数据字段（Field）或使用字面内容（Content）。
type TextElement struct {
	Field      string      `json:"field,omitempty"`
	Content    string      `json:"content,omitempty"`
	FontFamily string      `json:"font_family,omitempty"`
	FontSize   float64     `json:"font_size"`
	Bold       bool        `json:"bold,omitempty"`
	Italic     bool        `json:"italic,omitempty"`
	Color      string      `json:"color,omitempty"`
	MaxWidth   float64     `json:"max_width,omitempty"`
	MaxLines   int         `json:"max_lines,omitempty"`
	AutoFit    *AutoFit    `json:"auto_fit,omitempty"`
	StyleRules []StyleRule `json:"style_rules,omitempty"`
}

// AutoFit 在内容超出 MaxWidth/MaxLines 时将字号从 MaxSize 逐步缩小到
// MinSize；到 MinSize 仍溢出则裁剪，不再缩小。
type AutoFit struct {
	MinSize    float64 `json:"min_size"`
	MaxSize    float64 `json:"max_size"`
	SingleLine bool    `json:"single_line,omitempty"`
}

// StyleRule 选择一段词并覆盖其样式。规则按声明顺序生效，
// 某个词之后没有更晚规则匹配时沿用最后一条匹配规则的样式。
type StyleRule struct {
	Selector RuleSelector `json:"selector"`
	Color    string       `json:"color,omitempty"`
	Bold     *bool        `json:"bold,omitempty"`
	Size     float64      `json:"size,omitempty"`
}

// PatternMode 控制 Pattern 的匹配语义。
type PatternMode string

const (
	PatternSubstring PatternMode = "substring"
	PatternRegex     PatternMode = "regex"
)

// RuleSelector 描述规则命中的词集合。FirstWord/LastWord/WordIndex/Pattern
// 四选一；Pattern 的匹配语义由 PatternMode 决定，默认子串匹配。
type RuleSelector struct {
	FirstWord   bool        `json:"first_word,omitempty"`
	LastWord    bool        `json:"last_word,omitempty"`
	WordIndex   *int        `json:"word_index,omitempty"`
	Pattern     string      `json:"pattern,omitempty"`
	PatternMode PatternMode `json:"pattern_mode,omitempty"`
}

// ScaleMode 决定图片在目标框内的重采样方式。
type ScaleMode string

const (
	ScaleFill    ScaleMode = "fill"
	ScaleFit     ScaleMode = "fit"
	ScaleStretch ScaleMode = "stretch"
)

// ImageElement 引用对象存储中的资产。位置可由记录字段动态给出：
// XExpr/YExpr 支持 "field"、"field+10"、"field-3.5" 三种形式。
type ImageElement struct {
	AssetRef     string    `json:"asset_ref"`
	VisibleField string    `json:"visible_field,omitempty"`
	XExpr        string    `json:"x_expr,omitempty"`
	YExpr        string    `json:"y_expr,omitempty"`
	ScaleMode    ScaleMode `json:"scale_mode,omitempty"`
}

// PayloadKind 是二维码载荷类型。
type PayloadKind string

const (
	PayloadURL   PayloadKind = "url"
	PayloadText  PayloadKind = "text"
	PayloadVCard PayloadKind = "vcard"
	PayloadEmail PayloadKind = "email"
	PayloadPhone PayloadKind = "phone"
)

// ECLevel 是二维码纠错等级。
type ECLevel string

const (
	ECLow      ECLevel = "L"
	ECMedium   ECLevel = "M"
	ECQuartile ECLevel = "Q"
	ECHigh     ECLevel = "H"
)

// QRElement 由绑定字段生成二维码。Logo 居中叠加；其边长受纠错等级的
// 容错预算约束，合成时封顶为码边长的 30%。
type QRElement struct {
	Payload         PayloadKind `json:"payload"`
	Field           string      `json:"field"`
	Size            int         `json:"size"`
	Margin          int         `json:"margin,omitempty"`
	DarkColor       string      `json:"dark_color,omitempty"`
	LightColor      string      `json:"light_color,omitempty"`
	ErrorCorrection ECLevel     `json:"error_correction"`
	Logo            *QRLogo     `json:"logo,omitempty"`
}

// QRLogo 描述居中叠加的 Logo。
type QRLogo struct {
	AssetRef string `json:"asset_ref"`
	Size     int    `json:"size"`
}

// CollapseMode 控制表格按记录收缩的维度。
type CollapseMode string

const (
	CollapseNone    CollapseMode = ""
	CollapseRows    CollapseMode = "rows"
	CollapseColumns CollapseMode = "columns"
	CollapseBoth    CollapseMode = "both"
)

// TableElement 是 rows×columns 网格，稀疏单元格各自嵌套一个元素。
// AutoCollapse 在计算几何前删掉对当前记录整行/整列为空的部分。
type TableElement struct {
	Rows            int          `json:"rows"`
	Columns         int          `json:"columns"`
	CellWidth       float64      `json:"cell_width"`
	CellHeight      float64      `json:"cell_height"`
	BorderColor     string       `json:"border_color,omitempty"`
	BorderWidth     float64      `json:"border_width,omitempty"`
	BackgroundColor string       `json:"background_color,omitempty"`
	AutoCollapse    CollapseMode `json:"auto_collapse,omitempty"`
	Cells           []TableCell  `json:"cells,omitempty"`
}

// TableCell 以 (Row, Col) 寻址，可嵌套任意非表格元素。
type TableCell struct {
	Row     int      `json:"row"`
	Col     int      `json:"col"`
	Element *Element `json:"element,omitempty"`
}
