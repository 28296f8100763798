package catalogsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
)

// FileSource 基于本地文件的数据字典来源
//
// 每次读取前比较文件修改时间，变化时重新加载；Watch 可在文件变化时提前加载。
type FileSource struct {
	dictionaryPath string
	schemaPath     string

	mu        sync.RWMutex
	dictMod   time.Time
	schemaMod time.Time
	entries   []entity.CatalogEntry
	byID      map[string]int
	loaded    bool
}

// NewFileSource schemaPath 可为空，此时条目不带字段信息
func NewFileSource(dictionaryPath, schemaPath string) *FileSource {
	return &FileSource{
		dictionaryPath: dictionaryPath,
		schemaPath:     schemaPath,
	}
}

// Entries 按数据字典行顺序返回全部条目
func (s *FileSource) Entries(ctx context.Context) ([]entity.CatalogEntry, error) {
	if err := s.reloadIfChanged(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.CatalogEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Lookup 按 canonical_id 查找条目
func (s *FileSource) Lookup(ctx context.Context, canonicalID string) (entity.CatalogEntry, bool, error) {
	if err := s.reloadIfChanged(ctx); err != nil {
		return entity.CatalogEntry{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[entity.CanonicalTableID(canonicalID)]
	if !ok {
		return entity.CatalogEntry{}, false, nil
	}
	return s.entries[i], true, nil
}

// Reload 强制重新加载
func (s *FileSource) Reload(ctx context.Context) error {
	dictMod, schemaMod, err := s.modTimes()
	if err != nil {
		return err
	}
	return s.load(ctx, dictMod, schemaMod)
}

// Watch 监听文件所在目录，文件变化时重新加载，直到 ctx 结束
func (s *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := map[string]struct{}{}
	for _, p := range []string{s.dictionaryPath, s.schemaPath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if _, ok := watched[dir]; ok {
			continue
		}
		// 监听目录而非文件，编辑器以重命名方式保存时仍能收到事件
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		watched[dir] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !s.isSourceFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			if err := s.reloadIfChanged(ctx); err != nil {
				logger.Warn(ctx, "catalog source reload failed",
					"file", event.Name,
					"error", err.Error(),
				)
				continue
			}
			logger.Debug(ctx, "catalog source changed", "file", event.Name, "op", event.Op.String())
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "catalog watcher error", "error", err.Error())
		}
	}
}

func (s *FileSource) isSourceFile(name string) bool {
	clean := filepath.Clean(name)
	return clean == filepath.Clean(s.dictionaryPath) ||
		(s.schemaPath != "" && clean == filepath.Clean(s.schemaPath))
}

func (s *FileSource) reloadIfChanged(ctx context.Context) error {
	dictMod, schemaMod, err := s.modTimes()
	if err != nil {
		s.mu.RLock()
		loaded := s.loaded
		s.mu.RUnlock()
		if loaded {
			// 文件暂时不可读（如正在替换）时继续使用上一次的内容
			logger.Warn(ctx, "catalog source unavailable, serving previous content", "error", err.Error())
			return nil
		}
		return err
	}

	s.mu.RLock()
	fresh := s.loaded && dictMod.Equal(s.dictMod) && schemaMod.Equal(s.schemaMod)
	s.mu.RUnlock()
	if fresh {
		return nil
	}
	return s.load(ctx, dictMod, schemaMod)
}

func (s *FileSource) modTimes() (time.Time, time.Time, error) {
	fi, err := os.Stat(s.dictionaryPath)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Wrap(err, apperrors.CodeFileNotFound, "dictionary file not accessible")
	}
	var schemaMod time.Time
	if s.schemaPath != "" {
		si, err := os.Stat(s.schemaPath)
		if err != nil {
			return time.Time{}, time.Time{}, apperrors.Wrap(err, apperrors.CodeFileNotFound, "schema file not accessible")
		}
		schemaMod = si.ModTime()
	}
	return fi.ModTime(), schemaMod, nil
}

func (s *FileSource) load(ctx context.Context, dictMod, schemaMod time.Time) error {
	rows, err := readDictionary(s.dictionaryPath)
	if err != nil {
		return err
	}
	var schemas []TableSchema
	if s.schemaPath != "" {
		f, err := os.Open(s.schemaPath)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeFileNotFound, "open schema file")
		}
		schemas, err = ParseSchema(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("parse schema %s: %w", s.schemaPath, err)
		}
	}

	entries, byID := Merge(rows, schemas)

	s.mu.Lock()
	s.entries = entries
	s.byID = byID
	s.dictMod = dictMod
	s.schemaMod = schemaMod
	s.loaded = true
	s.mu.Unlock()

	logger.Info(ctx, "catalog source loaded",
		"dictionary", s.dictionaryPath,
		"entries", len(entries),
		"schemas", len(schemas),
	)
	return nil
}

func readDictionary(path string) ([]DictionaryRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeFileNotFound, "open dictionary file")
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseDictionaryJSON(f)
	case ".csv", ".txt":
		return ParseDictionaryCSV(f)
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidParam, "unsupported dictionary format: %s", filepath.Ext(path))
	}
}

// Merge 以数据字典行为主合并表结构字段，返回条目与 canonical_id 索引
func Merge(rows []DictionaryRow, schemas []TableSchema) ([]entity.CatalogEntry, map[string]int) {
	fields := make(map[string][]entity.Field, len(schemas))
	for _, ts := range schemas {
		key := entity.CanonicalTableID(ts.Name)
		if _, ok := fields[key]; !ok {
			fields[key] = ts.Fields
		}
	}

	entries := make([]entity.CatalogEntry, 0, len(rows))
	byID := make(map[string]int, len(rows))
	for _, row := range rows {
		external := row.ExternalName()
		id := entity.CanonicalTableID(external)
		entries = append(entries, entity.CatalogEntry{
			CanonicalID:         id,
			DisplayNameLocal:    row.LocalName(),
			DisplayNameExternal: external,
			Description:         row.TableDescription,
			Fields:              append([]entity.Field(nil), fields[id]...),
		})
		if _, ok := byID[id]; !ok {
			byID[id] = len(entries) - 1
		}
	}
	return entries, byID
}
