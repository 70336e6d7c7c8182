package repository

import (
	"context"
	"time"

	"SalesForecast/internal/model"

	"gorm.io/gorm"
)

// ModelVersionRepository 模型版本元数据仓储接口
type ModelVersionRepository interface {
	// Create 登记新训练出的版本（status=trained）
	Create(ctx context.Context, mv *model.ModelVersion) error
	// GetActive 当前在役版本（is_active=true，至多一行）
	GetActive(ctx context.Context) (*model.ModelVersion, error)
	// GetByVersionID 按版本号获取
	GetByVersionID(ctx context.Context, versionID string) (*model.ModelVersion, error)
	// ListRecent 按创建时间倒序取最近n个版本
	ListRecent(ctx context.Context, limit int) ([]*model.ModelVersion, error)
	// Promote 单事务换版：旧在役版本转archived，新版本转deployed并激活。
	// 任一步失败则整体回滚，不会出现零个或两个在役版本。
	Promote(ctx context.Context, newVersionID, archivedPath string) error
	// MarkRejected 标记版本评估未通过并更新产物路径
	MarkRejected(ctx context.Context, versionID, rejectedPath string) error
}

type modelVersionRepository struct {
	db *gorm.DB
}

// NewModelVersionRepository 创建 ModelVersionRepository 实例
func NewModelVersionRepository(db *gorm.DB) ModelVersionRepository {
	return &modelVersionRepository{db: db}
}

// Create 登记新训练出的版本
func (r *modelVersionRepository) Create(ctx context.Context, mv *model.ModelVersion) error {
	return r.db.WithContext(ctx).Create(mv).Error
}

// GetActive 当前在役版本
func (r *modelVersionRepository) GetActive(ctx context.Context) (*model.ModelVersion, error) {
	var mv model.ModelVersion
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		First(&mv).Error; err != nil {
		return nil, err
	}
	return &mv, nil
}

// GetByVersionID 按版本号获取
func (r *modelVersionRepository) GetByVersionID(ctx context.Context, versionID string) (*model.ModelVersion, error) {
	var mv model.ModelVersion
	if err := r.db.WithContext(ctx).
		Where("version_id = ?", versionID).
		First(&mv).Error; err != nil {
		return nil, err
	}
	return &mv, nil
}

// ListRecent 按创建时间倒序取最近n个版本
func (r *modelVersionRepository) ListRecent(ctx context.Context, limit int) ([]*model.ModelVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	var versions []*model.ModelVersion
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

// Promote 单事务换版
func (r *modelVersionRepository) Promote(ctx context.Context, newVersionID, archivedPath string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 停用旧在役版本
		updates := map[string]interface{}{
			"is_active": false,
			"status":    string(model.ModelStatusArchived),
		}
		if archivedPath != "" {
			updates["model_path"] = archivedPath
		}
		if err := tx.Model(&model.ModelVersion{}).
			Where("is_active = ?", true).
			Updates(updates).Error; err != nil {
			return err
		}

		// 2. 激活新版本
		res := tx.Model(&model.ModelVersion{}).
			Where("version_id = ?", newVersionID).
			Updates(map[string]interface{}{
				"is_active":       true,
				"status":          string(model.ModelStatusDeployed),
				"deployment_date": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// MarkRejected 标记版本评估未通过
func (r *modelVersionRepository) MarkRejected(ctx context.Context, versionID, rejectedPath string) error {
	updates := map[string]interface{}{
		"status": string(model.ModelStatusRejected),
	}
	if rejectedPath != "" {
		updates["model_path"] = rejectedPath
	}
	return r.db.WithContext(ctx).Model(&model.ModelVersion{}).
		Where("version_id = ?", versionID).
		Updates(updates).Error
}
