package render

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"

	"cardforge/internal/template"
)

// Logo 面积受纠错容错预算约束；无论模板怎么写，边长封顶为码边长的 30%。
const maxLogoRatio = 0.3

func recoveryLevel(level template.ECLevel) (qrcode.RecoveryLevel, error) {
	switch level {
	case template.ECLow:
		return qrcode.Low, nil
	case template.ECMedium:
		return qrcode.Medium, nil
	case template.ECQuartile:
		return qrcode.High, nil
	case template.ECHigh:
		return qrcode.Highest, nil
	default:
		return 0, fmt.Errorf("unknown error correction level %q", level)
	}
}

// BuildQRImage 编码载荷为模块矩阵并渲染：按元素尺寸与 margin 缩放、
// 应用深浅色，并在需要时居中叠加 Logo。
func BuildQRImage(doc *template.Document, q *template.QRElement, payload string, logo image.Image) (image.Image, error) {
	level, err := recoveryLevel(q.ErrorCorrection)
	if err != nil {
		return nil, err
	}

	code, err := qrcode.New(payload, level)
	if err != nil {
		return nil, fmt.Errorf("encode qr payload: %w", err)
	}

	dark := ResolveColor(doc, q.DarkColor, colorBlack)
	light := ResolveColor(doc, q.LightColor, colorWhite)
	code.ForegroundColor = dark
	code.BackgroundColor = light
	code.DisableBorder = true

	inner := q.Size - 2*q.Margin
	if inner <= 0 {
		return nil, fmt.Errorf("qr margin %d leaves no room at size %d", q.Margin, q.Size)
	}
	img := code.Image(inner)

	out := imaging.New(q.Size, q.Size, light)
	out = imaging.Paste(out, img, image.Pt(q.Margin, q.Margin))

	if logo != nil && q.Logo != nil {
		maxEdge := int(float64(q.Size) * maxLogoRatio)
		edge := q.Logo.Size
		if edge > maxEdge {
			edge = maxEdge
		}
		scaled := imaging.Fit(logo, edge, edge, imaging.Lanczos)
		b := scaled.Bounds()
		out = imaging.Overlay(out, scaled, image.Pt((q.Size-b.Dx())/2, (q.Size-b.Dy())/2), 1.0)
	}

	return out, nil
}
