package learning

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/driftguard/internal/database"
	"github.com/BaSui01/driftguard/types"
)

// successRow 选择器成功计数
type successRow struct {
	ElementID string `gorm:"primaryKey;size:255"`
	Selector  string `gorm:"primaryKey;size:1024"`
	Count     int    `gorm:"not null"`
}

func (successRow) TableName() string { return "learning_successes" }

// failureRow 失败选择器集合
type failureRow struct {
	ElementID string `gorm:"primaryKey;size:255"`
	Selector  string `gorm:"primaryKey;size:1024"`
}

func (failureRow) TableName() string { return "learning_failures" }

// recoveryRow 视觉恢复审计日志；Seq 保持插入顺序
type recoveryRow struct {
	Seq         int       `gorm:"primaryKey"`
	ElementID   string    `gorm:"size:255;not null"`
	Selector    string    `gorm:"size:1024;not null"`
	RecoveredAt time.Time `gorm:"not null"`
}

func (recoveryRow) TableName() string { return "learning_recoveries" }

// SQLStore 关系型数据库后端（postgres/mysql/sqlite）。
// Save 在单个事务内清空并重写三张表。
type SQLStore struct {
	pool *database.PoolManager
}

// NewSQLStore 创建 SQL 后端并自动迁移表结构
func NewSQLStore(pool *database.PoolManager) (*SQLStore, error) {
	if err := pool.DB().AutoMigrate(&successRow{}, &failureRow{}, &recoveryRow{}); err != nil {
		return nil, types.NewError(types.ErrStore, "failed to migrate learning tables").WithCause(err)
	}
	return &SQLStore{pool: pool}, nil
}

// Name 返回后端名称
func (s *SQLStore) Name() string { return "sql" }

// Load 读取三张表
func (s *SQLStore) Load(ctx context.Context) (*Document, error) {
	db := s.pool.DB().WithContext(ctx)
	doc := NewDocument()

	var successes []successRow
	if err := db.Find(&successes).Error; err != nil {
		return nil, types.NewError(types.ErrStore, "failed to load successes").WithCause(err)
	}
	for _, r := range successes {
		id := types.ElementID(r.ElementID)
		if doc.Successes[id] == nil {
			doc.Successes[id] = make(map[string]int)
		}
		doc.Successes[id][r.Selector] = r.Count
	}

	var failures []failureRow
	if err := db.Find(&failures).Error; err != nil {
		return nil, types.NewError(types.ErrStore, "failed to load failures").WithCause(err)
	}
	for _, r := range failures {
		id := types.ElementID(r.ElementID)
		doc.Failures[id] = append(doc.Failures[id], r.Selector)
	}

	var recoveries []recoveryRow
	if err := db.Order("seq").Find(&recoveries).Error; err != nil {
		return nil, types.NewError(types.ErrStore, "failed to load recoveries").WithCause(err)
	}
	for _, r := range recoveries {
		doc.VisualRecoveries = append(doc.VisualRecoveries, Recovery{
			ElementID:         types.ElementID(r.ElementID),
			SuggestedSelector: r.Selector,
			Timestamp:         r.RecoveredAt,
		})
	}
	return doc.normalize(), nil
}

// Save 在事务中整体替换
func (s *SQLStore) Save(ctx context.Context, doc *Document) error {
	doc = doc.Clone().normalize()

	successes := make([]successRow, 0)
	for id, counts := range doc.Successes {
		for sel, n := range counts {
			successes = append(successes, successRow{ElementID: string(id), Selector: sel, Count: n})
		}
	}
	sort.Slice(successes, func(i, j int) bool {
		if successes[i].ElementID != successes[j].ElementID {
			return successes[i].ElementID < successes[j].ElementID
		}
		return successes[i].Selector < successes[j].Selector
	})

	failures := make([]failureRow, 0)
	for id, sels := range doc.Failures {
		for _, sel := range sels {
			failures = append(failures, failureRow{ElementID: string(id), Selector: sel})
		}
	}

	recoveries := make([]recoveryRow, 0, len(doc.VisualRecoveries))
	for i, r := range doc.VisualRecoveries {
		recoveries = append(recoveries, recoveryRow{
			Seq:         i + 1,
			ElementID:   string(r.ElementID),
			Selector:    r.SuggestedSelector,
			RecoveredAt: r.Timestamp,
		})
	}

	err := s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		for _, model := range []any{&successRow{}, &failureRow{}, &recoveryRow{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		if len(successes) > 0 {
			if err := tx.CreateInBatches(successes, 200).Error; err != nil {
				return err
			}
		}
		if len(failures) > 0 {
			if err := tx.CreateInBatches(failures, 200).Error; err != nil {
				return err
			}
		}
		if len(recoveries) > 0 {
			if err := tx.CreateInBatches(recoveries, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.NewError(types.ErrStore, "failed to save ledger").WithCause(err)
	}
	return nil
}

// Close 关闭连接池
func (s *SQLStore) Close() error {
	return s.pool.Close()
}
