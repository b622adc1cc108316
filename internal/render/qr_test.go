package render

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"cardforge/internal/template"
)

func qrElement(size, margin int) *template.QRElement {
	return &template.QRElement{
		Payload:         template.PayloadURL,
		Field:           "homepage",
		Size:            size,
		Margin:          margin,
		ErrorCorrection: template.ECMedium,
	}
}

func TestBuildQRImage_Dimensions(t *testing.T) {
	doc := &template.Document{Width: 300, Height: 300}
	img, err := BuildQRImage(doc, qrElement(140, 8), "https://example.com", nil)
	if err != nil {
		t.Fatalf("build qr: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 140 || b.Dy() != 140 {
		t.Fatalf("qr image = %dx%d, want 140x140", b.Dx(), b.Dy())
	}
}

func TestBuildQRImage_MarginLeavesNoRoom(t *testing.T) {
	doc := &template.Document{Width: 300, Height: 300}
	_, err := BuildQRImage(doc, qrElement(40, 20), "x", nil)
	if err == nil || !strings.Contains(err.Error(), "no room") {
		t.Fatalf("expected margin error, got %v", err)
	}
}

func TestBuildQRImage_WithLogo(t *testing.T) {
	doc := &template.Document{Width: 300, Height: 300}
	q := qrElement(100, 4)
	// Logo asks for the full code edge; the compositor caps it at 30%.
	q.Logo = &template.QRLogo{AssetRef: "assets/logo.png", Size: 100}

	logo := image.NewRGBA(image.Rect(0, 0, 64, 64))
	img, err := BuildQRImage(doc, q, "https://example.com", logo)
	if err != nil {
		t.Fatalf("build qr with logo: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Fatalf("qr image = %dx%d, want 100x100", b.Dx(), b.Dy())
	}
}

func TestRecoveryLevel_Mapping(t *testing.T) {
	for _, level := range []template.ECLevel{template.ECLow, template.ECMedium, template.ECQuartile, template.ECHigh} {
		if _, err := recoveryLevel(level); err != nil {
			t.Errorf("recoveryLevel(%s): %v", level, err)
		}
	}
	if _, err := recoveryLevel("Z"); err == nil {
		t.Error("expected unknown level to fail")
	}
}

func TestResolveColor(t *testing.T) {
	doc := &template.Document{
		Width: 10, Height: 10,
		BrandColors: map[string]string{"primary": "#1f6feb"},
	}

	tests := []struct {
		ref  string
		want color.NRGBA
	}{
		{ref: "primary", want: color.NRGBA{R: 0x1f, G: 0x6f, B: 0xeb, A: 0xff}},
		{ref: "#ff0000", want: color.NRGBA{R: 0xff, A: 0xff}},
		{ref: "#0f8", want: color.NRGBA{G: 0xff, B: 0x88, A: 0xff}},
		{ref: "#11223344", want: color.NRGBA{R: 0x11, G: 0x22, B: 0x33, A: 0x44}},
	}
	for _, tc := range tests {
		if got := ResolveColor(doc, tc.ref, colorBlack); got != tc.want {
			t.Errorf("ResolveColor(%q) = %v, want %v", tc.ref, got, tc.want)
		}
	}

	// Unresolvable references fall back.
	if c := ResolveColor(doc, "missing-token", colorWhite); c != colorWhite {
		t.Errorf("expected fallback for unknown token, got %v", c)
	}
}
