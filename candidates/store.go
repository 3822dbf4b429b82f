package candidates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/types"
)

// CandidateSet 一个逻辑元素的静态选择器候选（按作者优先级排序）与视觉描述
type CandidateSet struct {
	ID                types.ElementID `yaml:"-" json:"id"`
	Selectors         []string        `yaml:"selectors" json:"selectors"`
	VisualDescription string          `yaml:"visual_description,omitempty" json:"visual_description,omitempty"`
}

// clone 返回深拷贝，避免调用方修改内部切片
func (c CandidateSet) clone() CandidateSet {
	c.Selectors = append([]string(nil), c.Selectors...)
	return c
}

// fileDocument YAML 文件结构
type fileDocument struct {
	Elements map[string]CandidateSet `yaml:"elements"`
}

// Store 候选集存储。运行时只读，唯一的写入通道是 Promote。
type Store struct {
	mu     sync.RWMutex
	sets   map[types.ElementID]CandidateSet
	dirty  bool
	logger *zap.Logger
}

// NewStore 由内存中的候选集创建 Store；非法候选集会被跳过
func NewStore(sets ...CandidateSet) *Store {
	s := &Store{
		sets:   make(map[types.ElementID]CandidateSet, len(sets)),
		logger: zap.NewNop(),
	}
	for _, set := range sets {
		if normalized, err := normalize(set.ID, set); err == nil {
			s.sets[normalized.ID] = normalized
		}
	}
	return s
}

// LoadFile 从 YAML 文件加载候选集
func LoadFile(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sets, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		sets:   sets,
		logger: logger.With(zap.String("component", "candidates")),
	}
	s.logger.Info("candidate sets loaded", zap.String("path", path), zap.Int("elements", len(sets)))
	return s, nil
}

func readFile(path string) (map[types.ElementID]CandidateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "failed to parse candidates file").WithCause(err)
	}

	sets := make(map[types.ElementID]CandidateSet, len(doc.Elements))
	for key, set := range doc.Elements {
		normalized, err := normalize(types.ElementID(key), set)
		if err != nil {
			return nil, err
		}
		sets[normalized.ID] = normalized
	}
	return sets, nil
}

// normalize 去除空白选择器与重复项（大小写敏感，保留首次出现的位置）
func normalize(id types.ElementID, set CandidateSet) (CandidateSet, error) {
	id = types.ElementID(strings.TrimSpace(string(id)))
	if id == "" {
		return CandidateSet{}, types.NewError(types.ErrInvalidConfig, "candidate set has empty element id")
	}

	seen := make(map[string]struct{}, len(set.Selectors))
	selectors := make([]string, 0, len(set.Selectors))
	for _, sel := range set.Selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if _, dup := seen[sel]; dup {
			continue
		}
		seen[sel] = struct{}{}
		selectors = append(selectors, sel)
	}

	desc := strings.TrimSpace(set.VisualDescription)
	if len(selectors) == 0 && desc == "" {
		return CandidateSet{}, types.Errorf(types.ErrInvalidConfig, "element %q has neither selectors nor visual_description", id)
	}
	return CandidateSet{ID: id, Selectors: selectors, VisualDescription: desc}, nil
}

// Get 返回候选集副本；未知标识返回 UNKNOWN_ELEMENT（编程错误）
func (s *Store) Get(id types.ElementID) (CandidateSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[id]
	if !ok {
		return CandidateSet{}, types.Errorf(types.ErrUnknownElement, "unknown element identifier %q", id)
	}
	return set.clone(), nil
}

// IDs 返回排序后的全部元素标识
func (s *Store) IDs() []types.ElementID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]types.ElementID, 0, len(s.sets))
	for id := range s.sets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len 返回元素数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}

// Promote 将 selector 移动（或插入）到优先级 0。
// 返回 true 表示候选集发生了变化。
func (s *Store) Promote(id types.ElementID, selector string) (bool, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return false, types.NewError(types.ErrInvalidRequest, "cannot promote empty selector")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[id]
	if !ok {
		return false, types.Errorf(types.ErrUnknownElement, "unknown element identifier %q", id)
	}
	if len(set.Selectors) > 0 && set.Selectors[0] == selector {
		return false, nil
	}

	promoted := make([]string, 0, len(set.Selectors)+1)
	promoted = append(promoted, selector)
	for _, sel := range set.Selectors {
		if sel != selector {
			promoted = append(promoted, sel)
		}
	}
	set.Selectors = promoted
	s.sets[id] = set
	s.dirty = true

	s.logger.Info("selector promoted",
		zap.String("element_id", string(id)),
		zap.String("selector", selector))
	return true, nil
}

// Dirty 报告自上次加载/保存以来是否有提升
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Save 原子写入 YAML 文件（临时文件 + rename）
func (s *Store) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := fileDocument{Elements: make(map[string]CandidateSet, len(s.sets))}
	for id, set := range s.sets {
		doc.Elements[string(id)] = set
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create candidates directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write candidates file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace candidates file: %w", err)
	}
	s.dirty = false
	return nil
}

// Reload 从文件重新加载。解析失败时保留当前候选集。
func (s *Store) Reload(path string) error {
	sets, err := readFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sets = sets
	s.dirty = false
	s.mu.Unlock()

	s.logger.Info("candidate sets reloaded", zap.String("path", path), zap.Int("elements", len(sets)))
	return nil
}

// Watch 监听 YAML 文件并在变化时热加载。调用方负责 Stop 返回的 watcher。
func (s *Store) Watch(ctx context.Context, path string, opts ...config.WatcherOption) (*config.FileWatcher, error) {
	opts = append([]config.WatcherOption{config.WithWatcherLogger(s.logger)}, opts...)
	w := config.NewFileWatcher(path, opts...)
	w.OnChange(func(evt config.FileEvent) {
		if evt.Op == config.FileOpRemove {
			s.logger.Warn("candidates file removed, keeping last loaded sets")
			return
		}
		if err := s.Reload(path); err != nil {
			s.logger.Error("candidates reload failed", zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
