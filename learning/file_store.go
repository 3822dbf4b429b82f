package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BaSui01/driftguard/types"
)

// FileStore 单个 JSON 文件后端。写入采用临时文件 + rename，避免读到半写状态。
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore 创建文件后端，必要时创建父目录
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "learning file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create learning directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Name 返回后端名称
func (s *FileStore) Name() string { return "file" }

// Path 返回文件路径
func (s *FileStore) Path() string { return s.path }

// Load 读取文件；文件不存在时返回空文档
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "failed to read learning file").WithCause(err)
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, types.NewError(types.ErrStore, "failed to decode learning file").WithCause(err)
	}
	return doc.normalize(), nil
}

// Save 原子写入
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(doc.Clone().normalize(), "", "  ")
	if err != nil {
		return types.NewError(types.ErrStore, "failed to encode learning document").WithCause(err)
	}

	// 原子写: 写入临时文件后重命名
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return types.NewError(types.ErrStore, "failed to write learning file").WithCause(err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return types.NewError(types.ErrStore, "failed to replace learning file").WithCause(err)
	}
	return nil
}

// Close 无操作
func (s *FileStore) Close() error { return nil }
