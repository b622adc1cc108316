package render

import (
	"context"

	"cardforge/internal/template"
)

// Checkpoint 在阶段边界被调用，用于协作式取消与超时检查。
// 返回非 nil 错误（通常为 *CancelledError 或 ctx 错误）即中断管线。
type Checkpoint func(stage string) error

// RenderCard 跑完一条记录的完整管线：resolve → layout → composite →
// encode。format 覆盖模板默认导出格式（空值沿用模板配置）。
// 管线内无并行：一个任务从头到尾占用一个 worker。
func RenderCard(
	ctx context.Context,
	doc *template.Document,
	record map[string]any,
	assets AssetFetcher,
	format template.Format,
	checkpoint Checkpoint,
) (data []byte, contentType string, warnings []Warning, err error) {
	if checkpoint == nil {
		checkpoint = func(string) error { return nil }
	}

	if err = checkpoint("resolve"); err != nil {
		return nil, "", nil, err
	}
	resolved, warnings := Resolve(doc, record)

	if err = checkpoint("layout"); err != nil {
		return nil, "", warnings, err
	}
	canvas := NewGGCanvas(doc)
	placed := Layout(doc, resolved, canvas)

	if err = checkpoint("composite"); err != nil {
		return nil, "", warnings, err
	}
	compositor := &Compositor{Assets: assets}
	if err = compositor.Compose(ctx, doc, placed, canvas); err != nil {
		return nil, "", warnings, err
	}

	if format == "" {
		format = doc.ExportFormat()
	}
	data, contentType, err = Encode(canvas.Image(), format)
	if err != nil {
		return nil, "", warnings, err
	}
	return data, contentType, warnings, nil
}
