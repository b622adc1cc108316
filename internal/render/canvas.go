package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"cardforge/internal/template"
)

// Paint 携带每个元素的合成参数。Rotation 为角度，绕 (PivotX, PivotY) 旋转。
type Paint struct {
	Opacity  float64
	Rotation float64
	PivotX   float64
	PivotY   float64
}

// Canvas 是 compositor 依赖的最小光栅后端。布局与绘制共用同一套
// 字体度量（MeasureText），保证几何一致。
type Canvas interface {
	Measurer
	DrawRect(r Rect, fill, stroke color.Color, strokeWidth float64, p Paint)
	DrawImage(img image.Image, r Rect, mode template.ScaleMode, p Paint)
	DrawText(s string, x, baseline float64, f FontSpec, c color.Color, p Paint)
	Image() image.Image
}

// 内嵌 Go 字体：光栅输出不依赖宿主机字体，相同输入产生相同像素。
var (
	fontOnce   sync.Once
	fontErr    error
	fontFiles  map[[2]bool]*opentype.Font
	faceMu     sync.Mutex
	faceCache  = make(map[FontSpec]font.Face)
)

func loadFonts() {
	fontFiles = make(map[[2]bool]*opentype.Font, 4)
	for _, entry := range []struct {
		bold, italic bool
		data         []byte
	}{
		{false, false, goregular.TTF},
		{true, false, gobold.TTF},
		{false, true, goitalic.TTF},
		{true, true, gobolditalic.TTF},
	} {
		f, err := opentype.Parse(entry.data)
		if err != nil {
			fontErr = fmt.Errorf("parse embedded font: %w", err)
			return
		}
		fontFiles[[2]bool{entry.bold, entry.italic}] = f
	}
}

func faceFor(spec FontSpec) (font.Face, error) {
	fontOnce.Do(loadFonts)
	if fontErr != nil {
		return nil, fontErr
	}

	faceMu.Lock()
	defer faceMu.Unlock()
	if face, ok := faceCache[spec]; ok {
		return face, nil
	}

	f := fontFiles[[2]bool{spec.Bold, spec.Italic}]
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    spec.Size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("build font face %.1fpt: %w", spec.Size, err)
	}
	faceCache[spec] = face
	return face, nil
}

// GGCanvas 基于 fogleman/gg 的画布实现。单个渲染任务内串行使用。
type GGCanvas struct {
	dc *gg.Context
}

// NewGGCanvas 按模板尺寸与导出 DPI 建立画布（白底），几何仍以模板
// 像素为单位，DPI 缩放通过全局变换完成。
func NewGGCanvas(doc *template.Document) *GGCanvas {
	scale := float64(doc.ExportDPI()) / 96.0
	w := int(float64(doc.Width)*scale + 0.5)
	h := int(float64(doc.Height)*scale + 0.5)
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.Scale(scale, scale)
	return &GGCanvas{dc: dc}
}

// MeasureText 返回文本的像素宽度与行高。
func (c *GGCanvas) MeasureText(s string, f FontSpec) (float64, float64) {
	face, err := faceFor(f)
	if err != nil {
		return 0, 0
	}
	c.dc.SetFontFace(face)
	return c.dc.MeasureString(s)
}

func (c *GGCanvas) withPaint(p Paint, draw func()) {
	c.dc.Push()
	if p.Rotation != 0 {
		c.dc.RotateAbout(gg.Radians(p.Rotation), p.PivotX, p.PivotY)
	}
	draw()
	c.dc.Pop()
}

// DrawRect 绘制填充与描边矩形。
func (c *GGCanvas) DrawRect(r Rect, fill, stroke color.Color, strokeWidth float64, p Paint) {
	c.withPaint(p, func() {
		if fill != nil {
			c.dc.SetColor(withOpacity(fill, p.Opacity))
			c.dc.DrawRectangle(r.X, r.Y, r.W, r.H)
			c.dc.Fill()
		}
		if stroke != nil && strokeWidth > 0 {
			c.dc.SetColor(withOpacity(stroke, p.Opacity))
			c.dc.SetLineWidth(strokeWidth)
			c.dc.DrawRectangle(r.X, r.Y, r.W, r.H)
			c.dc.Stroke()
		}
	})
}

// DrawImage 将图片按 ScaleMode 重采样进目标框后绘制。
func (c *GGCanvas) DrawImage(img image.Image, r Rect, mode template.ScaleMode, p Paint) {
	scaled, offX, offY := scaleToFrame(img, r, mode)
	if p.Opacity < 1 {
		scaled = fade(scaled, p.Opacity)
	}
	c.withPaint(p, func() {
		c.dc.DrawImage(scaled, int(r.X+offX+0.5), int(r.Y+offY+0.5))
	})
}

// DrawText 以 baseline 为纵坐标绘制一段文本。
func (c *GGCanvas) DrawText(s string, x, baseline float64, f FontSpec, col color.Color, p Paint) {
	face, err := faceFor(f)
	if err != nil {
		return
	}
	c.withPaint(p, func() {
		c.dc.SetFontFace(face)
		c.dc.SetColor(withOpacity(col, p.Opacity))
		c.dc.DrawString(s, x, baseline)
	})
}

// Image 返回最终的光栅缓冲。
func (c *GGCanvas) Image() image.Image {
	return c.dc.Image()
}

// scaleToFrame 按模式重采样；fit 模式返回居中偏移。
// 目标框未定尺寸时使用图片原始尺寸。
func scaleToFrame(img image.Image, r Rect, mode template.ScaleMode) (image.Image, float64, float64) {
	w := int(r.W + 0.5)
	h := int(r.H + 0.5)
	if w <= 0 || h <= 0 {
		return img, 0, 0
	}

	switch mode {
	case template.ScaleFill:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos), 0, 0
	case template.ScaleFit:
		fitted := imaging.Fit(img, w, h, imaging.Lanczos)
		b := fitted.Bounds()
		return fitted, (r.W - float64(b.Dx())) / 2, (r.H - float64(b.Dy())) / 2
	default: // stretch
		return imaging.Resize(img, w, h, imaging.Lanczos), 0, 0
	}
}

// fade 返回整体透明度衰减后的图片副本。
func fade(img image.Image, opacity float64) image.Image {
	if opacity >= 1 {
		return img
	}
	if opacity < 0 {
		opacity = 0
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(out, b, img, b.Min, mask, image.Point{}, draw.Over)
	return out
}

func withOpacity(c color.Color, opacity float64) color.Color {
	if opacity >= 1 {
		return c
	}
	if opacity < 0 {
		opacity = 0
	}
	n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	n.A = uint16(float64(n.A) * opacity)
	return n
}
