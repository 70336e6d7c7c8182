package repository

import (
	"context"
	"time"

	"SalesForecast/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BranchRepository 分店目录仓储接口
type BranchRepository interface {
	// List 获取全部分店
	List(ctx context.Context) ([]*model.Branch, error)
	// ListDepartments 获取可预测的分店（type=DEPARTMENT）
	ListDepartments(ctx context.Context) ([]*model.Branch, error)
	// GetByID 按分店ID获取
	GetByID(ctx context.Context, branchID string) (*model.Branch, error)
	// UpsertBatch 目录同步时批量落库（已存在则更新属性）
	UpsertBatch(ctx context.Context, branches []*model.Branch) error
}

type branchRepository struct {
	db *gorm.DB
}

// NewBranchRepository 创建 BranchRepository 实例
func NewBranchRepository(db *gorm.DB) BranchRepository {
	return &branchRepository{db: db}
}

// List 获取全部分店
func (r *branchRepository) List(ctx context.Context) ([]*model.Branch, error) {
	var branches []*model.Branch
	if err := r.db.WithContext(ctx).Order("code ASC").Find(&branches).Error; err != nil {
		return nil, err
	}
	return branches, nil
}

// ListDepartments 获取可预测的分店
func (r *branchRepository) ListDepartments(ctx context.Context) ([]*model.Branch, error) {
	var branches []*model.Branch
	if err := r.db.WithContext(ctx).
		Where("type = ?", "DEPARTMENT").
		Order("code ASC").
		Find(&branches).Error; err != nil {
		return nil, err
	}
	return branches, nil
}

// GetByID 按分店ID获取
func (r *branchRepository) GetByID(ctx context.Context, branchID string) (*model.Branch, error) {
	var b model.Branch
	if err := r.db.WithContext(ctx).
		Where("branch_id = ?", branchID).
		First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// UpsertBatch 目录同步时批量落库
func (r *branchRepository) UpsertBatch(ctx context.Context, branches []*model.Branch) error {
	if len(branches) == 0 {
		return nil
	}
	now := time.Now()
	for _, b := range branches {
		b.SyncedAt = &now
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "branch_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"parent_id", "code", "name", "type", "segment_type", "updated_at", "synced_at",
		}),
	}).CreateInBatches(branches, 200).Error
}
