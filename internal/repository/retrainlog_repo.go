package repository

import (
	"context"

	"SalesForecast/internal/model"

	"gorm.io/gorm"
)

// RetrainLogRepository 重训审计日志仓储接口（只追加）
type RetrainLogRepository interface {
	// Create 追加一条重训记录
	Create(ctx context.Context, entry *model.ModelRetrainingLog) error
	// ListRecent 按时间倒序取最近n条
	ListRecent(ctx context.Context, limit int) ([]*model.ModelRetrainingLog, error)
}

type retrainLogRepository struct {
	db *gorm.DB
}

// NewRetrainLogRepository 创建 RetrainLogRepository 实例
func NewRetrainLogRepository(db *gorm.DB) RetrainLogRepository {
	return &retrainLogRepository{db: db}
}

// Create 追加一条重训记录
func (r *retrainLogRepository) Create(ctx context.Context, entry *model.ModelRetrainingLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListRecent 按时间倒序取最近n条
func (r *retrainLogRepository) ListRecent(ctx context.Context, limit int) ([]*model.ModelRetrainingLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []*model.ModelRetrainingLog
	if err := r.db.WithContext(ctx).
		Order("retrain_date DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
