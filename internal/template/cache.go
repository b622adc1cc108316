package template

import (
	"context"
	"fmt"
	"sync"
)

// Loader 从元数据存储加载某个 (templateID, version) 的原始文档。
type Loader func(ctx context.Context, templateID uint, version int) ([]byte, error)

type cacheKey struct {
	templateID uint
	version    int
}

// Cache 在并发任务间以只读方式共享已解析校验过的模板。
// 键为 (templateID, version)：版本随每次模板更新递增，旧条目自然失效；
// Invalidate 额外清除同一模板的全部版本。
type Cache struct {
	loader Loader

	mu      sync.RWMutex
	entries map[cacheKey]*Document
}

// NewCache 构造模板缓存。
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader:  loader,
		entries: make(map[cacheKey]*Document),
	}
}

// Get 返回解析并校验后的模板文档。命中缓存时多个任务共享同一份
// 不可变文档；未命中时加载、解析、校验后写入。
func (c *Cache) Get(ctx context.Context, templateID uint, version int) (*Document, error) {
	key := cacheKey{templateID: templateID, version: version}

	c.mu.RLock()
	doc, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return doc, nil
	}

	raw, err := c.loader(ctx, templateID, version)
	if err != nil {
		return nil, fmt.Errorf("load template %d v%d: %w", templateID, version, err)
	}
	doc, err = Parse(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Another worker may have raced us; keep the first entry so all jobs
	// share one document.
	if existing, ok := c.entries[key]; ok {
		doc = existing
	} else {
		c.entries[key] = doc
	}
	c.mu.Unlock()

	return doc, nil
}

// Invalidate 清除某模板的全部缓存版本（模板更新时调用）。
func (c *Cache) Invalidate(templateID uint) {
	c.mu.Lock()
	for key := range c.entries {
		if key.templateID == templateID {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
