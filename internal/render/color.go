package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"cardforge/internal/template"
)

var (
	colorBlack = color.NRGBA{A: 0xff}
	colorWhite = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// ResolveColor 将颜色引用转为具体颜色：先查品牌色 token，再按
// #rgb/#rrggbb/#rrggbbaa 解析；无法解析时返回 fallback。
func ResolveColor(doc *template.Document, ref string, fallback color.Color) color.Color {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fallback
	}
	if doc != nil {
		if hex, ok := doc.BrandColors[ref]; ok {
			ref = hex
		}
	}
	c, err := parseHexColor(ref)
	if err != nil {
		return fallback
	}
	return c
}

func parseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(s, "#")
	switch len(s) {
	case 3:
		var expanded strings.Builder
		for _, ch := range s {
			expanded.WriteRune(ch)
			expanded.WriteRune(ch)
		}
		s = expanded.String()
	case 6, 8:
	default:
		return color.NRGBA{}, fmt.Errorf("bad hex color length %d", len(s))
	}

	value, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("parse hex color: %w", err)
	}
	if len(s) == 6 {
		return color.NRGBA{
			R: uint8(value >> 16),
			G: uint8(value >> 8),
			B: uint8(value),
			A: 0xff,
		}, nil
	}
	return color.NRGBA{
		R: uint8(value >> 24),
		G: uint8(value >> 16),
		B: uint8(value >> 8),
		A: uint8(value),
	}, nil
}
