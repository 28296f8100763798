// Package catalog 维护可查询表的有序目录，并将检索命中解析为目录条目
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"finqa-api/internal/domain/entity"
)

// DictionarySource 数据字典与表结构的来源（port）
//
// Entries 的顺序决定条目的 position；Lookup 每次调用都应反映来源的最新内容。
type DictionarySource interface {
	Entries(ctx context.Context) ([]entity.CatalogEntry, error)
	Lookup(ctx context.Context, canonicalID string) (entity.CatalogEntry, bool, error)
}

// Catalog 构建后只读的目录，并发读安全
type Catalog struct {
	entries []entity.CatalogEntry
	byID    map[string]int
}

// New 以给定顺序创建目录；同一 canonical_id 重复出现时 ByID 指向首次出现的位置
func New(entries []entity.CatalogEntry) *Catalog {
	c := &Catalog{
		entries: make([]entity.CatalogEntry, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		e.CanonicalID = entity.CanonicalTableID(e.CanonicalID)
		c.entries[i] = e
		if _, ok := c.byID[e.CanonicalID]; !ok {
			c.byID[e.CanonicalID] = i
		}
	}
	return c
}

// Load 从来源读取全部条目创建目录
func Load(ctx context.Context, source DictionarySource) (*Catalog, error) {
	entries, err := source.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return New(entries), nil
}

// Size 条目数
func (c *Catalog) Size() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// At 按 position 取条目，O(1)
func (c *Catalog) At(position int) (entity.CatalogEntry, bool) {
	if c == nil || position < 0 || position >= len(c.entries) {
		return entity.CatalogEntry{}, false
	}
	return c.entries[position], true
}

// ByID 按 canonical_id 取条目，大小写不敏感
func (c *Catalog) ByID(canonicalID string) (entity.CatalogEntry, bool) {
	if c == nil {
		return entity.CatalogEntry{}, false
	}
	i, ok := c.byID[entity.CanonicalTableID(canonicalID)]
	if !ok {
		return entity.CatalogEntry{}, false
	}
	return c.entries[i], true
}

// Entries 返回条目副本，顺序即 position
func (c *Catalog) Entries() []entity.CatalogEntry {
	if c == nil {
		return nil
	}
	return append([]entity.CatalogEntry(nil), c.entries...)
}

// Fingerprint 按 position 顺序对 canonical_id 与表示文本取摘要
//
// 顺序、条目或表示文本任一变化都会改变指纹，持久化索引据此判断是否需要重建。
func (c *Catalog) Fingerprint() string {
	h := sha256.New()
	for _, e := range c.Entries() {
		h.Write([]byte(e.CanonicalID))
		h.Write([]byte{0x1f})
		h.Write([]byte(e.Representation()))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
