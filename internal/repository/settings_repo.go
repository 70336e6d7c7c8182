package repository

import (
	"context"

	"SalesForecast/internal/model"

	"gorm.io/gorm"
)

// SettingsRepository 后处理参数仓储接口。
// 参数是版本化的：每次修改插入新行并停用旧行，历史行保留作审计。
type SettingsRepository interface {
	// GetActive 当前生效的参数行（可能不存在，调用方回退到配置默认值）
	GetActive(ctx context.Context) (*model.PostprocessSettings, error)
	// Rotate 单事务轮换：停用全部旧行并插入新行。并发修改时后提交者生效。
	Rotate(ctx context.Context, next *model.PostprocessSettings) error
}

type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository 创建 SettingsRepository 实例
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// GetActive 当前生效的参数行
func (r *settingsRepository) GetActive(ctx context.Context) (*model.PostprocessSettings, error) {
	var s model.PostprocessSettings
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// Rotate 单事务轮换参数
func (r *settingsRepository) Rotate(ctx context.Context, next *model.PostprocessSettings) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 停用全部旧行
		if err := tx.Model(&model.PostprocessSettings{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		// 2. 插入新行
		next.ID = 0
		next.IsActive = true
		return tx.Create(next).Error
	})
}
