package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"testing"

	"cardforge/internal/template"
)

func pipelineDoc(t *testing.T) *template.Document {
	t.Helper()
	doc, err := template.Parse([]byte(`{
		"width": 200, "height": 100,
		"elements": [
			{"id": "name", "kind": "text", "x": 10, "y": 20,
			 "text": {"field": "person.name", "font_size": 16}},
			{"id": "qr", "kind": "qr", "x": 120, "y": 10,
			 "qr": {"payload": "url", "field": "person.homepage",
			        "size": 80, "margin": 4, "error_correction": "M"}}
		]
	}`))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func TestRenderCard_ProducesDecodablePNG(t *testing.T) {
	record := map[string]any{
		"person": map[string]any{"name": "Ada", "homepage": "https://example.com"},
	}

	data, contentType, warnings, err := RenderCard(
		context.Background(), pipelineDoc(t), record, &fakeFetcher{}, "", nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if contentType != "image/png" {
		t.Fatalf("content type = %q", contentType)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Fatalf("output = %dx%d, want 200x100", b.Dx(), b.Dy())
	}
}

func TestRenderCard_FormatOverride(t *testing.T) {
	record := map[string]any{
		"person": map[string]any{"name": "Ada", "homepage": "https://example.com"},
	}
	_, contentType, _, err := RenderCard(
		context.Background(), pipelineDoc(t), record, &fakeFetcher{}, template.FormatJPG, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if contentType != "image/jpeg" {
		t.Fatalf("content type = %q, want image/jpeg", contentType)
	}
}

func TestRenderCard_MissingFieldsSucceedWithWarnings(t *testing.T) {
	// Every bound field missing: all elements skip, the canvas stays blank,
	// and the job still succeeds.
	data, _, warnings, err := RenderCard(
		context.Background(), pipelineDoc(t), map[string]any{}, &fakeFetcher{}, "", nil)
	if err != nil {
		t.Fatalf("render must not fail on skipped elements: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected an encoded image")
	}
	if len(warnings) != 2 {
		t.Fatalf("expected warning per skipped element, got %+v", warnings)
	}
}

func TestRenderCard_CheckpointStopsPipeline(t *testing.T) {
	record := map[string]any{
		"person": map[string]any{"name": "Ada", "homepage": "https://example.com"},
	}

	var stages []string
	checkpoint := func(stage string) error {
		stages = append(stages, stage)
		if stage == "layout" {
			return &CancelledError{Stage: stage}
		}
		return nil
	}

	_, _, _, err := RenderCard(
		context.Background(), pipelineDoc(t), record, &fakeFetcher{}, "", checkpoint)
	if !Cancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(stages) != 2 || stages[0] != "resolve" || stages[1] != "layout" {
		t.Fatalf("checkpoint trace = %v", stages)
	}
}

func TestRenderCard_DeterministicOutput(t *testing.T) {
	record := map[string]any{
		"person": map[string]any{"name": "Ada", "homepage": "https://example.com"},
	}
	doc := pipelineDoc(t)

	first, _, _, err := RenderCard(context.Background(), doc, record, &fakeFetcher{}, "", nil)
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	second, _, _, err := RenderCard(context.Background(), doc, record, &fakeFetcher{}, "", nil)
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("same template and record must produce identical bytes")
	}
}

func TestErrorClassifiers(t *testing.T) {
	wrapped := fmt.Errorf("stage: %w", &ResourceUnavailableError{Ref: "assets/x.png", Err: errors.New("dial")})
	if !Transient(wrapped) {
		t.Fatal("wrapped ResourceUnavailableError must stay transient")
	}
	if !Transient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded is transient")
	}
	if Transient(&RenderError{ElementID: "x", Err: errors.New("boom")}) {
		t.Fatal("raster failures are terminal")
	}

	if !Cancelled(fmt.Errorf("stage: %w", &CancelledError{Stage: "layout"})) {
		t.Fatal("cancellation classifier broken")
	}
	// 裸 context 错误是停机/超时，不是取消请求。
	if Cancelled(context.Canceled) || Cancelled(context.DeadlineExceeded) {
		t.Fatal("bare context errors must not classify as cancel requests")
	}

	if !Invalid(fmt.Errorf("load: %w", &template.InvalidError{Rule: "bad"})) {
		t.Fatal("wrapped InvalidError must classify as invalid")
	}
	if Invalid(errors.New("other")) {
		t.Fatal("generic errors are not template failures")
	}
}
