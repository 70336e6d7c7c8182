package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SalesForecast/internal/config"
	"SalesForecast/internal/model"
)

func testCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := NewCalendar(config.CalendarConfig{
		WeekendDays:     []int{5, 6},
		PreHolidayDays:  3,
		PostHolidayDays: 1,
		Holidays:        []string{"01-01", "03-08", "05-09"},
	})
	require.NoError(t, err)
	return cal
}

func makeObs(start time.Time, sales []float64) []Observation {
	obs := make([]Observation, len(sales))
	for i, s := range sales {
		obs[i] = Observation{Date: start.AddDate(0, 0, i), TotalSales: s, OrderCount: 10}
	}
	return obs
}

func constSales(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestCalendarWeekdayEncoding(t *testing.T) {
	cal := testCalendar(t)
	// 2024-01-01 是周一
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, cal.Weekday(monday))
	assert.Equal(t, 5, cal.Weekday(monday.AddDate(0, 0, 5))) // 周六
	assert.Equal(t, 6, cal.Weekday(monday.AddDate(0, 0, 6))) // 周日
	assert.True(t, cal.IsWeekend(monday.AddDate(0, 0, 5)))
	assert.False(t, cal.IsWeekend(monday))
}

func TestCalendarHolidayWindows(t *testing.T) {
	cal := testCalendar(t)
	womensDay := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	assert.True(t, cal.IsHoliday(womensDay))
	assert.True(t, cal.IsPreHoliday(womensDay.AddDate(0, 0, -2)))
	assert.False(t, cal.IsPreHoliday(womensDay.AddDate(0, 0, -4)))
	assert.True(t, cal.IsPostHoliday(womensDay.AddDate(0, 0, 1)))
	assert.False(t, cal.IsPostHoliday(womensDay.AddDate(0, 0, 2)))
}

func TestCalendarRejectsBadConfig(t *testing.T) {
	_, err := NewCalendar(config.CalendarConfig{Holidays: []string{"13-01"}})
	assert.Error(t, err)
	_, err = NewCalendar(config.CalendarConfig{WeekendDays: []int{7}})
	assert.Error(t, err)
}

// 滚动特征只能依赖严格早于当日的观测：改动未来的销售额不得影响此前任何一行。
func TestBuildSeriesRowsNoLeakage(t *testing.T) {
	cal := testCalendar(t)
	branch := BranchInfo{BranchID: "b1", SegmentType: "cafe"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sales := constSales(60, 100000)
	base := BuildSeriesRows(branch, makeObs(start, sales), cal, false)

	// 把最后一天改成十倍
	mutated := constSales(60, 100000)
	mutated[59] = 1000000
	changed := BuildSeriesRows(branch, makeObs(start, mutated), cal, false)

	require.Len(t, changed, 60)
	for i := 0; i < 59; i++ {
		assert.Equal(t, base[i].Values, changed[i].Values, "第%d行特征不应受未来观测影响", i)
		assert.Equal(t, base[i].Label, changed[i].Label)
	}
	// 最后一行只有标签变化，特征仍来自此前59天
	assert.Equal(t, base[59].Values, changed[59].Values)
	assert.NotEqual(t, base[59].Label, changed[59].Label)
}

func TestBuildSeriesRowsValidity(t *testing.T) {
	cal := testCalendar(t)
	branch := BranchInfo{BranchID: "b1"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := BuildSeriesRows(branch, makeObs(start, constSales(40, 50000)), cal, false)

	require.Len(t, rows, 40)
	for i, r := range rows {
		assert.Equal(t, i >= minFullHistory, r.Valid, "第%d行", i)
		assert.Len(t, r.Values, NumColumns())
	}
}

func TestBuildSeriesRowsConstantSeries(t *testing.T) {
	cal := testCalendar(t)
	branch := BranchInfo{BranchID: "b1", SegmentType: "coffeehouse", Name: "Coffee Almaty"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := BuildSeriesRows(branch, makeObs(start, constSales(45, 80000)), cal, false)

	last := rows[44]
	require.True(t, last.Valid)
	cols := Columns()
	get := func(name string) float64 {
		for i, c := range cols {
			if c == name {
				return last.Values[i]
			}
		}
		t.Fatalf("未找到特征列 %s", name)
		return 0
	}
	assert.InDelta(t, 80000, get("sales_mean_7"), 1e-9)
	assert.InDelta(t, 80000, get("sales_mean_30"), 1e-9)
	assert.InDelta(t, 0, get("sales_std_7"), 1e-9)
	assert.InDelta(t, 80000, get("sales_lag_1"), 1e-9)
	assert.InDelta(t, 560000, get("sales_sum_7"), 1e-9)
	assert.InDelta(t, 0, get("sales_pct_change_7"), 1e-9)
	assert.InDelta(t, 0, get("sales_momentum_14"), 1e-9)
	assert.Equal(t, 1.0, get("seg_coffeehouse"))
	assert.Equal(t, 0.0, get("seg_cafe"))
	assert.Equal(t, 1.0, get("loc_almaty"))
}

func TestBuildInferenceVectorStrictlyPrior(t *testing.T) {
	cal := testCalendar(t)
	branch := BranchInfo{BranchID: "b1"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := makeObs(start, constSales(40, 60000))
	target := start.AddDate(0, 0, 45)

	row, err := BuildInferenceVector(branch, obs, target, cal, false)
	require.NoError(t, err)
	assert.True(t, row.Valid)
	assert.Equal(t, target, row.Date)

	// 目标日当天若混入观测也不得参与特征计算
	withTargetDay := append(append([]Observation{}, obs...),
		Observation{Date: target, TotalSales: 9999999})
	row2, err := BuildInferenceVector(branch, withTargetDay, target, cal, false)
	require.NoError(t, err)
	assert.Equal(t, row.Values, row2.Values)
}

func TestBuildInferenceVectorInsufficientHistory(t *testing.T) {
	cal := testCalendar(t)
	branch := BranchInfo{BranchID: "b1"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := makeObs(start, constSales(5, 60000))
	target := start.AddDate(0, 0, 10)

	_, err := BuildInferenceVector(branch, obs, target, cal, false)
	assert.Error(t, err)

	row, err := BuildInferenceVector(branch, obs, target, cal, true)
	require.NoError(t, err)
	assert.False(t, row.Valid)
	assert.Len(t, row.Values, NumColumns())
}

func TestChronoSplitOrdering(t *testing.T) {
	cal := testCalendar(t)
	branch := BranchInfo{BranchID: "b1"}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := BuildSeriesRows(branch, makeObs(start, constSales(100, 70000)), cal, false)

	split, err := ChronoSplit(rows, 0.15, 0.15)
	require.NoError(t, err)
	assert.Equal(t, 100, len(split.Train)+len(split.Val)+len(split.Test))

	// 训练集每一行都早于验证集，验证集每一行都早于测试集
	lastTrain := split.Train[len(split.Train)-1].Date
	firstVal := split.Val[0].Date
	lastVal := split.Val[len(split.Val)-1].Date
	firstTest := split.Test[0].Date
	assert.True(t, lastTrain.Before(firstVal))
	assert.True(t, lastVal.Before(firstTest))
}

func TestChronoSplitRejectsBadFractions(t *testing.T) {
	rows := make([]Row, 10)
	_, err := ChronoSplit(rows, 0.6, 0.5)
	assert.Error(t, err)
	_, err = ChronoSplit(rows[:2], 0.15, 0.15)
	assert.Error(t, err)
}

func TestMatrixFiltersInvalidRows(t *testing.T) {
	rows := []Row{
		{Valid: true, Values: []float64{1}, Label: 10},
		{Valid: false, Values: []float64{2}, Label: 20},
		{Valid: true, Values: []float64{3}, Label: 30},
	}
	x, y := Matrix(rows)
	require.Len(t, x, 2)
	assert.Equal(t, []float64{10, 30}, y)
}

func TestWinsorizeIdempotent(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sales := append(constSales(30, 100000), 1000000) // 一个极端离群值
	obs := makeObs(start, sales)

	once := ApplyOutlierPolicy(obs, model.OutlierWinsorize)
	twice := ApplyOutlierPolicy(once, model.OutlierWinsorize)
	require.Len(t, once, len(obs))
	assert.Equal(t, once, twice)
	// 离群值被截断到上边界以下
	assert.Less(t, once[30].TotalSales, 1000000.0)
}

func TestOutlierRemoveDropsRows(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sales := append(constSales(30, 100000), 1000000)
	obs := makeObs(start, sales)

	out := ApplyOutlierPolicy(obs, model.OutlierRemove)
	assert.Len(t, out, 30)
}

func TestOutlierNoneAndSmallSamples(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := makeObs(start, []float64{1, 2, 1000})
	assert.Equal(t, obs, ApplyOutlierPolicy(obs, model.OutlierWinsorize))
	assert.Equal(t, obs, ApplyOutlierPolicy(obs, model.OutlierNone))
}
