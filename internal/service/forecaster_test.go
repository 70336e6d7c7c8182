package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"SalesForecast/internal/artifact"
	"SalesForecast/internal/gbrt"
	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"
)

// loadFixedModel 注册一个无树的常数输出模型，Predict恒返回base
func loadFixedModel(f *forecastFixture, base float64) {
	f.registry.Swap(&artifact.LoadedModel{
		VersionID: "v_fixed",
		Model:     &gbrt.Model{Params: gbrt.DefaultParams(), BaseScore: base},
		LoadedAt:  time.Now(),
	})
}

type forecastFixture struct {
	db       *gorm.DB
	svc      *ForecastService
	registry *artifact.Registry
}

func newForecastFixture(t *testing.T) *forecastFixture {
	t.Helper()
	db := setupDB(t)
	cal := newTestCalendar(t)
	registry := artifact.NewRegistry()
	postprocess := NewPostprocessService(
		repository.NewSettingsRepository(db), cal, defaultPostprocessConfig(), quietLogger())
	svc := NewForecastService(
		repository.NewBranchRepository(db),
		repository.NewSalesRepository(db),
		repository.NewForecastRepository(db),
		repository.NewAccuracyRepository(db),
		registry,
		postprocess,
		cal,
		defaultForecastConfig(),
		quietLogger(),
	)
	return &forecastFixture{db: db, svc: svc, registry: registry}
}

func TestForecastHeuristicUsesSameWeekdayMean(t *testing.T) {
	f := newForecastFixture(t)
	cal := newTestCalendar(t)
	ctx := context.Background()
	seedBranch(t, f.db, "b1", "Cafe Almaty Center", "cafe")

	// 近90天：平日100000，周末140000，预测紧接历史的下一天
	today := time.Now().Truncate(24 * time.Hour)
	seedSales(t, f.db, cal, "b1", today.AddDate(0, 0, -90), 90, 100000, 140000)

	result, err := f.svc.Forecast(ctx, "b1", today)
	require.NoError(t, err)
	assert.Equal(t, MethodHeuristic, result.Method)
	assert.Empty(t, result.ModelVersion)

	// 同星期均值应落在该星期的历史值附近（后处理可能再做加成）
	expected := 100000.0
	if cal.IsWeekend(today) {
		expected = 140000.0
	}
	assert.InDelta(t, expected, result.Forecast.RawAmount, expected*0.05)
	assert.GreaterOrEqual(t, result.Forecast.FinalAmount, 0.0)
	assert.Less(t, result.Forecast.LowerBound, result.Forecast.FinalAmount)
	assert.Greater(t, result.Forecast.UpperBound, result.Forecast.FinalAmount)
}

func TestForecastModelPathAppliesWeekendMultiplier(t *testing.T) {
	f := newForecastFixture(t)
	cal := newTestCalendar(t)
	ctx := context.Background()
	seedBranch(t, f.db, "b1", "Restaurant Center", "restaurant")

	// 平日100000、周末140000，模型恒输出100000
	today := time.Now().Truncate(24 * time.Hour)
	seedSales(t, f.db, cal, "b1", today.AddDate(0, 0, -90), 90, 100000, 140000)
	loadFixedModel(f, 100000)

	weekend := today
	for !cal.IsWeekend(weekend) {
		weekend = weekend.AddDate(0, 0, 1)
	}
	result, err := f.svc.Forecast(ctx, "b1", weekend)
	require.NoError(t, err)
	assert.Equal(t, MethodModel, result.Method)
	assert.Equal(t, "v_fixed", result.ModelVersion)
	// 周末乘数1.4后与近几周周末水平一致，平滑不截断
	assert.InDelta(t, 140000, result.Forecast.RawAmount, 1e-6)
}

func TestForecastModelPathSmoothingClamp(t *testing.T) {
	f := newForecastFixture(t)
	cal := newTestCalendar(t)
	ctx := context.Background()
	seedBranch(t, f.db, "b1", "Restaurant Center", "restaurant")

	// 历史恒为100000，模型输出300000，应被同星期平滑截断到+50%
	today := time.Now().Truncate(24 * time.Hour)
	seedSales(t, f.db, cal, "b1", today.AddDate(0, 0, -90), 90, 100000, 0)
	loadFixedModel(f, 300000)

	weekday := today
	for cal.IsWeekend(weekday) {
		weekday = weekday.AddDate(0, 0, 1)
	}
	result, err := f.svc.Forecast(ctx, "b1", weekday)
	require.NoError(t, err)
	assert.Equal(t, MethodModel, result.Method)
	assert.InDelta(t, 150000, result.Forecast.RawAmount, 1e-6)
}

func TestForecastLaggedDataUsesExtendedWindow(t *testing.T) {
	f := newForecastFixture(t)
	cal := newTestCalendar(t)
	ctx := context.Background()
	seedBranch(t, f.db, "b1", "Cafe", "cafe")

	// 数据滞后的分店：最近一条观测在21天前，30天窗口内只有10天历史，
	// 应按距最近观测的天数切到45天窗口并放宽历史要求
	today := time.Now().Truncate(24 * time.Hour)
	seedSales(t, f.db, cal, "b1", today.AddDate(0, 0, -45), 25, 100000, 0)

	result, err := f.svc.Forecast(ctx, "b1", today)
	require.NoError(t, err)
	assert.Equal(t, MethodHeuristic, result.Method)
	assert.InDelta(t, 100000, result.Forecast.RawAmount, 100000*0.05)
}

func TestForecastFailsWithoutHistory(t *testing.T) {
	f := newForecastFixture(t)
	seedBranch(t, f.db, "b1", "Cafe", "cafe")
	_, err := f.svc.Forecast(context.Background(), "b1", time.Now().Truncate(24*time.Hour))
	assert.Error(t, err)
}

func TestForecastUnknownBranch(t *testing.T) {
	f := newForecastFixture(t)
	_, err := f.svc.Forecast(context.Background(), "missing", time.Now())
	assert.Error(t, err)
}

func TestBatchForecastPartialFailure(t *testing.T) {
	f := newForecastFixture(t)
	cal := newTestCalendar(t)
	ctx := context.Background()
	today := time.Now().Truncate(24 * time.Hour)

	seedBranch(t, f.db, "ok", "Cafe", "cafe")
	seedSales(t, f.db, cal, "ok", today.AddDate(0, 0, -60), 60, 100000, 0)
	seedBranch(t, f.db, "nodata", "Empty Cafe", "cafe")

	items, err := f.svc.BatchForecast(ctx, []string{"ok", "nodata", "missing"}, today)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.NotNil(t, items[0].Result)
	assert.Empty(t, items[0].Error)
	assert.Nil(t, items[1].Result)
	assert.NotEmpty(t, items[1].Error)
	assert.NotEmpty(t, items[2].Error)
}

func TestProcessAllSavesForecastsAndPendingAccuracy(t *testing.T) {
	f := newForecastFixture(t)
	cal := newTestCalendar(t)
	ctx := context.Background()
	today := time.Now().Truncate(24 * time.Hour)

	seedBranch(t, f.db, "b1", "Cafe", "cafe")
	seedSales(t, f.db, cal, "b1", today.AddDate(0, 0, -60), 60, 100000, 0)

	report, err := f.svc.ProcessAll(ctx, today, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Branches)
	assert.Equal(t, 3, report.Generated)
	assert.Equal(t, 0, report.Failed)

	var forecastCount, pendingCount int64
	require.NoError(t, f.db.Table("forecasts").Count(&forecastCount).Error)
	require.NoError(t, f.db.Table("forecast_accuracy_log").
		Where("actual_amount IS NULL").Count(&pendingCount).Error)
	assert.Equal(t, int64(3), forecastCount)
	assert.Equal(t, int64(3), pendingCount)
}

func TestBackfillActualsComputesErrors(t *testing.T) {
	f := newForecastFixture(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.db.Create(&model.Forecast{
		BranchID: "b1", ForecastDate: date, PredictedAmount: 110000,
	}).Error)
	require.NoError(t, f.db.Create(&model.SalesSummary{
		BranchID: "b1", Date: date, TotalSales: 100000,
	}).Error)

	count, err := f.svc.BackfillActuals(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var entry model.ForecastAccuracyLog
	require.NoError(t, f.db.Where("branch_id = ?", "b1").First(&entry).Error)
	require.NotNil(t, entry.ActualAmount)
	assert.InDelta(t, 100000, *entry.ActualAmount, 1e-6)
	require.NotNil(t, entry.MAE)
	assert.InDelta(t, 10000, *entry.MAE, 1e-6)
	require.NotNil(t, entry.MAPE)
	assert.InDelta(t, 10, *entry.MAPE, 1e-6)
}

func TestBackfillSkipsZeroActualMAPE(t *testing.T) {
	f := newForecastFixture(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.db.Create(&model.Forecast{
		BranchID: "b1", ForecastDate: date, PredictedAmount: 50000,
	}).Error)
	require.NoError(t, f.db.Create(&model.SalesSummary{
		BranchID: "b1", Date: date, TotalSales: 0,
	}).Error)

	count, err := f.svc.BackfillActuals(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var entry model.ForecastAccuracyLog
	require.NoError(t, f.db.Where("branch_id = ?", "b1").First(&entry).Error)
	require.NotNil(t, entry.MAE)
	assert.Nil(t, entry.MAPE, "实际值为0时不计算MAPE")
}
