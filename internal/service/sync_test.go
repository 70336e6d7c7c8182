package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"SalesForecast/internal/interfaces"
	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"
)

// fakeSource 内存版POS数据源
type fakeSource struct {
	branches []interfaces.SourceBranch
	sales    []interfaces.SourceDailySales
	err      error
}

func (f *fakeSource) ListBranches(ctx context.Context) ([]interfaces.SourceBranch, error) {
	return f.branches, f.err
}

func (f *fakeSource) ListDailySales(ctx context.Context, since, until time.Time) ([]interfaces.SourceDailySales, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []interfaces.SourceDailySales
	for _, s := range f.sales {
		if !s.Date.Before(since) && s.Date.Before(until) {
			out = append(out, s)
		}
	}
	return out, nil
}

func newSync(t *testing.T, source *fakeSource) (*SyncService, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	svc := NewSyncService(source,
		repository.NewBranchRepository(db),
		repository.NewSalesRepository(db),
		quietLogger())
	return svc, db
}

func TestSyncBranchesClassifiesSegments(t *testing.T) {
	source := &fakeSource{branches: []interfaces.SourceBranch{
		{ID: "b1", Code: "001", Name: "Coffee Boom Almaty", Type: "DEPARTMENT"},
		{ID: "b2", Code: "002", Name: "Кофейня на Абая", Type: "DEPARTMENT"},
		{ID: "b3", Code: "003", Name: "Central Cafe", Type: "DEPARTMENT", ParentID: "org1"},
		{ID: "b4", Code: "004", Name: "Ресторан Алтын", Type: "DEPARTMENT"},
		{ID: "b5", Code: "005", Name: "Склад", Type: "DEPARTMENT"},
	}}
	svc, db := newSync(t, source)

	count, err := svc.SyncBranches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	segments := map[string]string{}
	var branches []model.Branch
	require.NoError(t, db.Find(&branches).Error)
	for _, b := range branches {
		segments[b.BranchID] = b.SegmentType
	}
	assert.Equal(t, "coffeehouse", segments["b1"])
	assert.Equal(t, "coffeehouse", segments["b2"])
	assert.Equal(t, "cafe", segments["b3"])
	assert.Equal(t, "restaurant", segments["b4"])
	assert.Equal(t, "other", segments["b5"])

	var withParent model.Branch
	require.NoError(t, db.Where("branch_id = ?", "b3").First(&withParent).Error)
	require.NotNil(t, withParent.ParentID)
	assert.Equal(t, "org1", *withParent.ParentID)
}

func TestSyncBranchesUpsertIsIdempotent(t *testing.T) {
	source := &fakeSource{branches: []interfaces.SourceBranch{
		{ID: "b1", Code: "001", Name: "Coffee One", Type: "DEPARTMENT"},
	}}
	svc, db := newSync(t, source)
	ctx := context.Background()

	_, err := svc.SyncBranches(ctx)
	require.NoError(t, err)

	// 改名后重同步应覆盖而不是新增
	source.branches[0].Name = "Cafe One"
	_, err = svc.SyncBranches(ctx)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Table("branches").Count(&count).Error)
	assert.Equal(t, int64(1), count)
	var b model.Branch
	require.NoError(t, db.First(&b).Error)
	assert.Equal(t, "Cafe One", b.Name)
	assert.Equal(t, "cafe", b.SegmentType)
}

func TestSyncSalesRange(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{sales: []interfaces.SourceDailySales{
		{BranchID: "b1", Date: day, TotalSales: 100000},
		{BranchID: "b1", Date: day.AddDate(0, 0, 1), TotalSales: 120000},
		{BranchID: "b1", Date: day.AddDate(0, 0, 5), TotalSales: 90000}, // 区间外
	}}
	svc, db := newSync(t, source)

	count, err := svc.SyncSales(context.Background(), day, day.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var rows []model.SalesSummary
	require.NoError(t, db.Order("date ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.InDelta(t, 100000, rows[0].TotalSales, 1e-6)
	assert.InDelta(t, 120000, rows[1].TotalSales, 1e-6)
}

func TestSyncSalesSourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("pos接口超时")}
	svc, _ := newSync(t, source)
	_, err := svc.SyncSales(context.Background(), time.Now().AddDate(0, 0, -1), time.Now())
	assert.Error(t, err)
}

func TestFillGapsBackfillsMissingDays(t *testing.T) {
	today := time.Now().Truncate(24 * time.Hour)
	source := &fakeSource{}
	// 数据源有近10天完整数据
	for i := 1; i <= 10; i++ {
		source.sales = append(source.sales, interfaces.SourceDailySales{
			BranchID: "b1", Date: today.AddDate(0, 0, -i), TotalSales: 100000,
		})
	}
	svc, db := newSync(t, source)
	ctx := context.Background()

	// 库里只有部分日期：第3天和第6天缺失
	for i := 1; i <= 10; i++ {
		if i == 3 || i == 6 {
			continue
		}
		require.NoError(t, db.Create(&model.SalesSummary{
			BranchID: "b1", Date: today.AddDate(0, 0, -i), TotalSales: 100000,
		}).Error)
	}

	report, err := svc.FillGaps(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.GapDays)
	assert.Equal(t, 2, report.Sales)

	missing, err := repository.NewSalesRepository(db).MissingDates(ctx, today.AddDate(0, 0, -10), today)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
