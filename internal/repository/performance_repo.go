package repository

import (
	"context"
	"time"

	"SalesForecast/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PerformanceRepository 每日模型表现指标仓储接口
type PerformanceRepository interface {
	// Upsert 写入某日指标（同一日期重算时整行覆盖，last write wins）
	Upsert(ctx context.Context, metric *model.ModelPerformanceMetric) error
	// GetByDate 按日期获取
	GetByDate(ctx context.Context, date time.Time) (*model.ModelPerformanceMetric, error)
	// ListRange 取 [since, until) 区间内的指标，按日期升序
	ListRange(ctx context.Context, since, until time.Time) ([]*model.ModelPerformanceMetric, error)
	// ListRecent 按日期倒序取最近n天
	ListRecent(ctx context.Context, limit int) ([]*model.ModelPerformanceMetric, error)
}

type performanceRepository struct {
	db *gorm.DB
}

// NewPerformanceRepository 创建 PerformanceRepository 实例
func NewPerformanceRepository(db *gorm.DB) PerformanceRepository {
	return &performanceRepository{db: db}
}

// Upsert 写入某日指标
func (r *performanceRepository) Upsert(ctx context.Context, metric *model.ModelPerformanceMetric) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"daily_mape", "daily_mae", "daily_rmse", "predictions_count",
			"prediction_bias", "mape_std", "best_branch_id", "best_branch_mape",
			"worst_branch_id", "worst_branch_mape", "mape_trend", "trend_percent",
			"alerts", "model_version", "updated_at",
		}),
	}).Create(metric).Error
}

// GetByDate 按日期获取
func (r *performanceRepository) GetByDate(ctx context.Context, date time.Time) (*model.ModelPerformanceMetric, error) {
	var m model.ModelPerformanceMetric
	if err := r.db.WithContext(ctx).
		Where("date = ?", date).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRange 取区间内的指标
func (r *performanceRepository) ListRange(ctx context.Context, since, until time.Time) ([]*model.ModelPerformanceMetric, error) {
	var rows []*model.ModelPerformanceMetric
	if err := r.db.WithContext(ctx).
		Where("date >= ? AND date < ?", since, until).
		Order("date ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListRecent 按日期倒序取最近n天
func (r *performanceRepository) ListRecent(ctx context.Context, limit int) ([]*model.ModelPerformanceMetric, error) {
	if limit <= 0 {
		limit = 30
	}
	var rows []*model.ModelPerformanceMetric
	if err := r.db.WithContext(ctx).
		Order("date DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
