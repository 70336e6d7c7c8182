package repository

import (
	"context"
	"time"

	"SalesForecast/internal/model"

	"gorm.io/gorm"
)

// ForecastRepository 预测产出仓储接口
type ForecastRepository interface {
	// SaveBatch 批量保存预测产出
	SaveBatch(ctx context.Context, rows []*model.Forecast) error
	// GetLatest 取分店+目标日期的最新一条预测
	GetLatest(ctx context.Context, branchID string, date time.Time) (*model.Forecast, error)
	// ListByDate 取某目标日期的全部预测（同一分店只取最新）
	ListByDate(ctx context.Context, date time.Time) ([]*model.Forecast, error)
	// CountSinceDeployment 统计某模型版本部署以来的累计预测量
	CountSinceDeployment(ctx context.Context, modelVersion string) (int64, error)
}

type forecastRepository struct {
	db *gorm.DB
}

// NewForecastRepository 创建 ForecastRepository 实例
func NewForecastRepository(db *gorm.DB) ForecastRepository {
	return &forecastRepository{db: db}
}

// SaveBatch 批量保存预测产出
func (r *forecastRepository) SaveBatch(ctx context.Context, rows []*model.Forecast) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

// GetLatest 取分店+目标日期的最新一条预测
func (r *forecastRepository) GetLatest(ctx context.Context, branchID string, date time.Time) (*model.Forecast, error) {
	var f model.Forecast
	if err := r.db.WithContext(ctx).
		Where("branch_id = ? AND forecast_date = ?", branchID, date).
		Order("created_at DESC").
		First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// ListByDate 取某目标日期的全部预测，同一分店只保留最新一条
func (r *forecastRepository) ListByDate(ctx context.Context, date time.Time) ([]*model.Forecast, error) {
	var rows []*model.Forecast
	if err := r.db.WithContext(ctx).
		Where("forecast_date = ?", date).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	latest := make(map[string]*model.Forecast, len(rows))
	for _, f := range rows {
		latest[f.BranchID] = f // 升序遍历，后写覆盖
	}
	out := make([]*model.Forecast, 0, len(latest))
	for _, f := range latest {
		out = append(out, f)
	}
	return out, nil
}

// CountSinceDeployment 统计某模型版本的累计预测量
func (r *forecastRepository) CountSinceDeployment(ctx context.Context, modelVersion string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Forecast{}).
		Where("model_version = ?", modelVersion).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
