package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"

	"cardforge/internal/template"
)

const jpegQuality = 90

// AssetFetcher 从对象存储取资产字节。取不到时 compositor 产出瞬态
// ResourceUnavailableError；取到但解码失败则是终态 RenderError。
type AssetFetcher interface {
	FetchObject(ctx context.Context, key string) ([]byte, error)
}

// Compositor 按 z 序将 Placed 元素光栅化到画布上。
type Compositor struct {
	Assets AssetFetcher
}

// Compose 将布局结果依序绘制到 canvas。输入列表已按
// (zIndex, 声明顺序) 排好，这里严格按序消费。
func (c *Compositor) Compose(ctx context.Context, doc *template.Document, placed []Placed, canvas Canvas) error {
	for i := range placed {
		if err := c.composeOne(ctx, doc, &placed[i], canvas); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compositor) composeOne(ctx context.Context, doc *template.Document, p *Placed, canvas Canvas) error {
	el := p.Res.Element
	paint := Paint{
		Opacity:  el.EffectiveOpacity(),
		Rotation: el.Rotation,
		PivotX:   p.Frame.X + p.Frame.W/2,
		PivotY:   p.Frame.Y + p.Frame.H/2,
	}

	switch el.Kind {
	case template.KindText:
		c.composeText(doc, p, canvas, paint)
		return nil
	case template.KindImage:
		return c.composeImage(ctx, doc, p, canvas, paint)
	case template.KindQR:
		return c.composeQR(ctx, doc, p, canvas, paint)
	case template.KindTable:
		return c.composeTable(ctx, doc, p, canvas, paint)
	default:
		return &RenderError{ElementID: el.ID, Err: fmt.Errorf("unknown element kind %q", el.Kind)}
	}
}

// composeText 逐词绘制样式分段，超出 MaxWidth 换行，超出 MaxLines 裁剪。
func (c *Compositor) composeText(doc *template.Document, p *Placed, canvas Canvas, paint Paint) {
	t := p.Res.Element.Text
	baseFont := FontSpec{Family: t.FontFamily, Size: p.FontSize, Bold: t.Bold, Italic: t.Italic}
	_, lineHeight := canvas.MeasureText("Ag", baseFont)
	if lineHeight <= 0 {
		return
	}

	x := p.Frame.X
	line := 0
	for _, span := range p.Spans {
		font := FontSpec{Family: t.FontFamily, Size: span.Size, Bold: span.Bold, Italic: t.Italic}
		wordW, _ := canvas.MeasureText(span.Text, font)
		spaceW, _ := canvas.MeasureText(" ", font)

		if t.MaxWidth > 0 && x > p.Frame.X && x+wordW > p.Frame.X+t.MaxWidth {
			line++
			x = p.Frame.X
			if t.MaxLines > 0 && line >= t.MaxLines {
				return // clipped, never shrunk further
			}
		}

		baseline := p.Frame.Y + float64(line)*lineHeight + lineHeight*0.8
		col := ResolveColor(doc, span.Color, colorBlack)
		canvas.DrawText(span.Text, x, baseline, font, col, paint)
		x += wordW + spaceW
	}
}

func (c *Compositor) fetchImage(ctx context.Context, ref string) (image.Image, error) {
	raw, err := c.Assets.FetchObject(ctx, ref)
	if err != nil {
		return nil, &ResourceUnavailableError{Ref: ref, Err: err}
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode asset %q: %w", ref, err)
	}
	return img, nil
}

func (c *Compositor) composeImage(ctx context.Context, _ *template.Document, p *Placed, canvas Canvas, paint Paint) error {
	el := p.Res.Element
	img, err := c.fetchImage(ctx, el.Image.AssetRef)
	if err != nil {
		if _, transient := err.(*ResourceUnavailableError); transient {
			return err
		}
		return &RenderError{ElementID: el.ID, Err: err}
	}
	canvas.DrawImage(img, p.Frame, el.Image.ScaleMode, paint)
	return nil
}

func (c *Compositor) composeQR(ctx context.Context, doc *template.Document, p *Placed, canvas Canvas, paint Paint) error {
	el := p.Res.Element
	q := el.QR

	var logo image.Image
	if q.Logo != nil {
		img, err := c.fetchImage(ctx, q.Logo.AssetRef)
		if err != nil {
			if _, transient := err.(*ResourceUnavailableError); transient {
				return err
			}
			return &RenderError{ElementID: el.ID, Err: err}
		}
		logo = img
	}

	qrImg, err := BuildQRImage(doc, q, p.Res.QRPayload, logo)
	if err != nil {
		return &RenderError{ElementID: el.ID, Err: err}
	}
	canvas.DrawImage(qrImg, p.Frame, template.ScaleStretch, paint)
	return nil
}

func (c *Compositor) composeTable(ctx context.Context, doc *template.Document, p *Placed, canvas Canvas, paint Paint) error {
	el := p.Res.Element
	tbl := el.Table

	if tbl.BackgroundColor != "" {
		canvas.DrawRect(p.Frame, ResolveColor(doc, tbl.BackgroundColor, colorWhite), nil, 0, paint)
	}
	for _, cell := range p.Table.Cells {
		if tbl.BorderWidth > 0 {
			canvas.DrawRect(cell.Frame, nil, ResolveColor(doc, tbl.BorderColor, colorBlack), tbl.BorderWidth, paint)
		}
		if cell.Content != nil {
			if err := c.composeOne(ctx, doc, cell.Content, canvas); err != nil {
				return err
			}
		}
	}
	return nil
}

// Encode 以模板导出格式编码光栅缓冲。
func Encode(img image.Image, format template.Format) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case template.FormatJPG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	case template.FormatPNG, "":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	default:
		return nil, "", fmt.Errorf("unknown export format %q", format)
	}
}
