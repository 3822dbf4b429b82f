package baseline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/driftguard/types"
)

const (
	metadataFile  = "baselines.json"
	imagesDir     = "images"
	schemaVersion = 1
)

// document baselines.json 的结构
type document struct {
	Version     int                `json:"version"`
	Baselines   map[string]*Record `json:"baselines"`
	LastUpdated time.Time          `json:"lastUpdated"`
}

// Store 基线存储：一个元数据 JSON 文件 + 每个页面类型一张 PNG。
// 元数据常驻内存，每次变更整体落盘（临时文件 + rename）。
type Store struct {
	dir     string
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// StoreOption 存储选项
type StoreOption func(*Store)

// WithStoreClock 替换写入 lastUpdated 使用的时间源
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenStore 打开（必要时创建）基线目录并加载已有元数据
func OpenStore(dir string, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "baseline directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, imagesDir), 0o755); err != nil {
		return nil, types.NewError(types.ErrStore, "failed to create baseline directory").WithCause(err)
	}
	s := &Store{dir: dir, records: make(map[string]*Record), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir 返回基线目录
func (s *Store) Dir() string { return s.dir }

func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return types.NewError(types.ErrStore, "failed to read baseline metadata").WithCause(err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.NewError(types.ErrStore, "corrupt baseline metadata").WithCause(err)
	}
	for pageType, rec := range doc.Baselines {
		if rec == nil {
			continue
		}
		rec.PageType = pageType
		if rec.State == "" {
			rec.State = StateCaptured
		}
		s.records[pageType] = rec
	}
	return nil
}

// saveLocked 整体写出元数据；调用方持有写锁
func (s *Store) saveLocked() error {
	doc := document{
		Version:     schemaVersion,
		Baselines:   s.records,
		LastUpdated: s.now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return types.NewError(types.ErrStore, "failed to encode baseline metadata").WithCause(err)
	}
	return writeAtomic(filepath.Join(s.dir, metadataFile), data)
}

// Get 返回基线副本；不存在时返回 nil
func (s *Store) Get(pageType string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[pageType]; ok {
		return rec.clone()
	}
	return nil
}

// Records 返回全部基线，按页面类型排序
func (s *Store) Records() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageType < out[j].PageType })
	return out
}

// Put 写入图片与记录。StoredImagePath 由存储决定。
func (s *Store) Put(rec *Record, image []byte) error {
	if err := validPageType(rec.PageType); err != nil {
		return err
	}
	rel := filepath.Join(imagesDir, rec.PageType+".png")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(filepath.Join(s.dir, rel), image); err != nil {
		return err
	}
	stored := rec.clone()
	stored.StoredImagePath = filepath.ToSlash(rel)
	prev := s.records[rec.PageType]
	s.records[rec.PageType] = stored
	if err := s.saveLocked(); err != nil {
		if prev != nil {
			s.records[rec.PageType] = prev
		} else {
			delete(s.records, rec.PageType)
		}
		return err
	}
	rec.StoredImagePath = stored.StoredImagePath
	return nil
}

// Update 更新已有记录的对比状态
func (s *Store) Update(pageType string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[pageType]
	if !ok {
		return types.Errorf(types.ErrNoBaseline, "no baseline for page type %q", pageType)
	}
	fn(rec)
	return s.saveLocked()
}

// Image 读取基线图片
func (s *Store) Image(rec *Record) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(rec.StoredImagePath)))
	if err != nil {
		return nil, types.Errorf(types.ErrStore, "failed to read baseline image for %q", rec.PageType).WithCause(err)
	}
	return data, nil
}

func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return types.NewError(types.ErrStore, "failed to write "+filepath.Base(path)).WithCause(err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return types.NewError(types.ErrStore, "failed to replace "+filepath.Base(path)).WithCause(err)
	}
	return nil
}
