package repository

import (
	"context"
	"time"

	"SalesForecast/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccuracyRepository 预测vs实际对账仓储接口
type AccuracyRepository interface {
	// UpsertBatch 回填对账记录（分店+日期冲突时覆盖，支持重算）
	UpsertBatch(ctx context.Context, rows []*model.ForecastAccuracyLog) error
	// ListMatched 取 [since, until) 区间内已回填实际值的记录
	ListMatched(ctx context.Context, since, until time.Time) ([]*model.ForecastAccuracyLog, error)
	// ListMatchedByBranch 按分店取已回填记录
	ListMatchedByBranch(ctx context.Context, branchID string, since, until time.Time) ([]*model.ForecastAccuracyLog, error)
	// ListByDate 取某目标日期的全部对账记录
	ListByDate(ctx context.Context, date time.Time) ([]*model.ForecastAccuracyLog, error)
}

type accuracyRepository struct {
	db *gorm.DB
}

// NewAccuracyRepository 创建 AccuracyRepository 实例
func NewAccuracyRepository(db *gorm.DB) AccuracyRepository {
	return &accuracyRepository{db: db}
}

// UpsertBatch 回填对账记录
func (r *accuracyRepository) UpsertBatch(ctx context.Context, rows []*model.ForecastAccuracyLog) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "branch_id"}, {Name: "forecast_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"predicted_amount", "actual_amount", "mae", "mape", "updated_at",
		}),
	}).CreateInBatches(rows, 500).Error
}

// ListMatched 取区间内已回填实际值的记录
func (r *accuracyRepository) ListMatched(ctx context.Context, since, until time.Time) ([]*model.ForecastAccuracyLog, error) {
	var rows []*model.ForecastAccuracyLog
	if err := r.db.WithContext(ctx).
		Where("forecast_date >= ? AND forecast_date < ? AND actual_amount IS NOT NULL", since, until).
		Order("forecast_date ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListMatchedByBranch 按分店取已回填记录
func (r *accuracyRepository) ListMatchedByBranch(ctx context.Context, branchID string, since, until time.Time) ([]*model.ForecastAccuracyLog, error) {
	var rows []*model.ForecastAccuracyLog
	if err := r.db.WithContext(ctx).
		Where("branch_id = ? AND forecast_date >= ? AND forecast_date < ? AND actual_amount IS NOT NULL",
			branchID, since, until).
		Order("forecast_date ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListByDate 取某目标日期的全部对账记录
func (r *accuracyRepository) ListByDate(ctx context.Context, date time.Time) ([]*model.ForecastAccuracyLog, error) {
	var rows []*model.ForecastAccuracyLog
	if err := r.db.WithContext(ctx).
		Where("forecast_date = ?", date).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
