package template

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

const minimalDoc = `{"width": 100, "height": 100, "elements": []}`

func TestCache_SharesEntryPerVersion(t *testing.T) {
	loads := 0
	cache := NewCache(func(_ context.Context, templateID uint, version int) ([]byte, error) {
		loads++
		return []byte(minimalDoc), nil
	})

	ctx := context.Background()
	first, err := cache.Get(ctx, 1, 1)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := cache.Get(ctx, 1, 1)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected 1 load, got %d", loads)
	}
	if first != second {
		t.Fatal("expected both gets to share the same document")
	}
}

func TestCache_VersionBumpLoadsFresh(t *testing.T) {
	loads := 0
	cache := NewCache(func(_ context.Context, _ uint, version int) ([]byte, error) {
		loads++
		return []byte(fmt.Sprintf(`{"width": %d, "height": 100, "elements": []}`, 100+version)), nil
	})

	ctx := context.Background()
	v1, err := cache.Get(ctx, 7, 1)
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	v2, err := cache.Get(ctx, 7, 2)
	if err != nil {
		t.Fatalf("get v2: %v", err)
	}
	if loads != 2 {
		t.Fatalf("expected 2 loads, got %d", loads)
	}
	if v1.Width == v2.Width {
		t.Fatal("expected distinct documents per version")
	}
}

func TestCache_InvalidateForcesReload(t *testing.T) {
	loads := 0
	cache := NewCache(func(_ context.Context, _ uint, _ int) ([]byte, error) {
		loads++
		return []byte(minimalDoc), nil
	})

	ctx := context.Background()
	if _, err := cache.Get(ctx, 3, 1); err != nil {
		t.Fatalf("get: %v", err)
	}
	cache.Invalidate(3)
	if _, err := cache.Get(ctx, 3, 1); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if loads != 2 {
		t.Fatalf("expected reload after invalidate, got %d loads", loads)
	}
}

func TestCache_PropagatesErrors(t *testing.T) {
	loadErr := errors.New("template row gone")
	cache := NewCache(func(_ context.Context, _ uint, _ int) ([]byte, error) {
		return nil, loadErr
	})
	if _, err := cache.Get(context.Background(), 9, 1); !errors.Is(err, loadErr) {
		t.Fatalf("expected loader error, got %v", err)
	}

	invalid := NewCache(func(_ context.Context, _ uint, _ int) ([]byte, error) {
		return []byte(`{"width": 0, "height": 0, "elements": []}`), nil
	})
	_, err := invalid.Get(context.Background(), 9, 1)
	var invalidErr *InvalidError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected *InvalidError for bad document, got %v", err)
	}
}
