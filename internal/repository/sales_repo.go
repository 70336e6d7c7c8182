package repository

import (
	"context"
	"time"

	"SalesForecast/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SalesRepository 每日销售事实仓储接口
type SalesRepository interface {
	// ListByBranch 按分店取 [since, until) 区间内的日销售，按日期升序
	ListByBranch(ctx context.Context, branchID string, since, until time.Time) ([]*model.SalesSummary, error)
	// ListSince 取全部分店 [since, until) 区间内的日销售
	ListSince(ctx context.Context, since, until time.Time) ([]*model.SalesSummary, error)
	// UpsertBatch 同步落库（分店+日期冲突时覆盖销售额）
	UpsertBatch(ctx context.Context, rows []*model.SalesSummary) error
	// LatestDate 最近一条销售数据的营业日期（数据新鲜度检查）
	LatestDate(ctx context.Context) (time.Time, error)
	// MissingDates 指定区间内没有任何销售记录的日期（缺口回补用）
	MissingDates(ctx context.Context, since, until time.Time) ([]time.Time, error)
}

type salesRepository struct {
	db *gorm.DB
}

// NewSalesRepository 创建 SalesRepository 实例
func NewSalesRepository(db *gorm.DB) SalesRepository {
	return &salesRepository{db: db}
}

// ListByBranch 按分店取区间内的日销售
func (r *salesRepository) ListByBranch(ctx context.Context, branchID string, since, until time.Time) ([]*model.SalesSummary, error) {
	var rows []*model.SalesSummary
	if err := r.db.WithContext(ctx).
		Where("branch_id = ? AND date >= ? AND date < ?", branchID, since, until).
		Order("date ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListSince 取全部分店区间内的日销售
func (r *salesRepository) ListSince(ctx context.Context, since, until time.Time) ([]*model.SalesSummary, error) {
	var rows []*model.SalesSummary
	if err := r.db.WithContext(ctx).
		Where("date >= ? AND date < ?", since, until).
		Order("branch_id ASC, date ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertBatch 同步落库，分店+日期冲突时覆盖
func (r *salesRepository) UpsertBatch(ctx context.Context, rows []*model.SalesSummary) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now()
	for _, row := range rows {
		row.SyncedAt = now
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "branch_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_sales", "updated_at", "synced_at",
		}),
	}).CreateInBatches(rows, 500).Error
}

// LatestDate 最近一条销售数据的营业日期
func (r *salesRepository) LatestDate(ctx context.Context) (time.Time, error) {
	var row model.SalesSummary
	if err := r.db.WithContext(ctx).
		Order("date DESC").
		First(&row).Error; err != nil {
		return time.Time{}, err
	}
	return row.Date, nil
}

// MissingDates 区间内没有任何销售记录的日期
func (r *salesRepository) MissingDates(ctx context.Context, since, until time.Time) ([]time.Time, error) {
	var present []time.Time
	if err := r.db.WithContext(ctx).Model(&model.SalesSummary{}).
		Where("date >= ? AND date < ?", since, until).
		Distinct("date").
		Pluck("date", &present).Error; err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(present))
	for _, d := range present {
		seen[d.Format("2006-01-02")] = true
	}
	var missing []time.Time
	for d := since; d.Before(until); d = d.AddDate(0, 0, 1) {
		if !seen[d.Format("2006-01-02")] {
			missing = append(missing, d)
		}
	}
	return missing, nil
}
