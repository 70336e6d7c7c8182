package feature

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Observation 单分店单日销售观测（特征构建的唯一输入口径）
type Observation struct {
	Date       time.Time
	TotalSales float64
	OrderCount int
}

// BranchInfo 分店静态属性（用于分店维度特征）
type BranchInfo struct {
	BranchID    string
	Code        string
	Name        string
	Type        string
	SegmentType string
}

// Row 单条特征行。Values 与 Columns() 一一对应。
// Valid=false 表示历史不足，完整窗口无法计算（训练时剔除，推理时由调用方降级）。
type Row struct {
	BranchID string
	Date     time.Time
	Label    float64
	Values   []float64
	Valid    bool
}

// minFullHistory 完整窗口所需的最少历史天数（最长回看窗口为30天）
const minFullHistory = 30

var featureColumns = []string{
	// 日历特征
	"day_of_week",
	"is_weekend",
	"is_holiday",
	"is_pre_holiday",
	"is_post_holiday",
	"day_of_month",
	"month",
	"quarter",
	"season",
	"week_of_year",
	"day_of_year",
	"days_to_year_end",
	"is_month_start",
	"is_month_end",
	// 滚动/滞后特征（全部基于严格早于当日的观测）
	"sales_mean_3",
	"sales_mean_7",
	"sales_mean_14",
	"sales_mean_30",
	"sales_std_3",
	"sales_std_7",
	"sales_std_14",
	"sales_sum_7",
	"sales_sum_14",
	"sales_lag_1",
	"sales_lag_2",
	"sales_lag_7",
	"sales_lag_14",
	"sales_pct_change_1",
	"sales_pct_change_7",
	"sales_pct_change_14",
	"sales_min_7",
	"sales_max_7",
	"sales_momentum_7",
	"sales_momentum_14",
	// 分店特征
	"branch_avg_sales",
	"branch_std_sales",
	"branch_active_days",
	"seg_coffeehouse",
	"seg_cafe",
	"seg_restaurant",
	"loc_almaty",
	"loc_astana",
	"loc_shymkent",
}

// Columns 返回特征列名（顺序即向量顺序，训练与推理共用）
func Columns() []string {
	out := make([]string, len(featureColumns))
	copy(out, featureColumns)
	return out
}

// NumColumns 特征维度
func NumColumns() int {
	return len(featureColumns)
}

// BuildSeriesRows 为单分店构建特征行序列。
// 每一行的滚动/滞后特征只使用严格早于该行日期的观测，训练与推理走同一条路径，
// 从根上杜绝取数口径不一致。
// allowPartial=true 时，历史不足的行按可用窗口降级计算（Valid 仍为 false，
// 由调用方决定是否接受降级结果）。
func BuildSeriesRows(branch BranchInfo, obs []Observation, cal *Calendar, allowPartial bool) []Row {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	rows := make([]Row, 0, len(sorted))
	for i, o := range sorted {
		prior := sorted[:i]
		row := buildRow(branch, o.Date, prior, cal, allowPartial)
		row.Label = o.TotalSales
		rows = append(rows, row)
	}
	return rows
}

// BuildInferenceVector 为目标日期构建一条推理用特征行（无标签）。
// 只使用严格早于目标日期的观测；历史不足且 allowPartial=false 时返回错误。
func BuildInferenceVector(branch BranchInfo, obs []Observation, target time.Time, cal *Calendar, allowPartial bool) (Row, error) {
	prior := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if o.Date.Before(target) {
			prior = append(prior, o)
		}
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].Date.Before(prior[j].Date) })

	row := buildRow(branch, target, prior, cal, allowPartial)
	if !row.Valid && !allowPartial {
		return Row{}, fmt.Errorf("分店 %s 在 %s 之前的历史不足（%d天 < %d天）",
			branch.BranchID, target.Format("2006-01-02"), len(prior), minFullHistory)
	}
	return row, nil
}

// buildRow 构建单条特征行。prior 必须已按日期升序，且全部严格早于 date。
func buildRow(branch BranchInfo, date time.Time, prior []Observation, cal *Calendar, allowPartial bool) Row {
	valid := len(prior) >= minFullHistory
	row := Row{
		BranchID: branch.BranchID,
		Date:     date,
		Valid:    valid,
	}
	if !valid && !allowPartial {
		row.Values = make([]float64, len(featureColumns))
		return row
	}

	sales := make([]float64, len(prior))
	for i, o := range prior {
		sales[i] = o.TotalSales
	}

	values := make([]float64, 0, len(featureColumns))
	values = append(values, calendarValues(date, cal)...)
	values = append(values, rollingValues(sales)...)
	values = append(values, branchValues(branch, sales)...)
	row.Values = values
	return row
}

// calendarValues 日历特征（14列）
func calendarValues(date time.Time, cal *Calendar) []float64 {
	_, week := date.ISOWeek()
	return []float64{
		float64(cal.Weekday(date)),
		boolVal(cal.IsWeekend(date)),
		boolVal(cal.IsHoliday(date)),
		boolVal(cal.IsPreHoliday(date)),
		boolVal(cal.IsPostHoliday(date)),
		float64(date.Day()),
		float64(date.Month()),
		float64((int(date.Month())-1)/3 + 1),
		float64(cal.Season(date)),
		float64(week),
		float64(cal.DaysFromYearStart(date)),
		float64(cal.DaysToYearEnd(date)),
		boolVal(date.Day() == 1),
		boolVal(date.AddDate(0, 0, 1).Day() == 1),
	}
}

// rollingValues 滚动/滞后特征（20列），历史不足时按可用窗口降级
func rollingValues(sales []float64) []float64 {
	return []float64{
		tailMean(sales, 3),
		tailMean(sales, 7),
		tailMean(sales, 14),
		tailMean(sales, 30),
		tailStd(sales, 3),
		tailStd(sales, 7),
		tailStd(sales, 14),
		tailSum(sales, 7),
		tailSum(sales, 14),
		lag(sales, 1),
		lag(sales, 2),
		lag(sales, 7),
		lag(sales, 14),
		pctChange(sales, 1),
		pctChange(sales, 7),
		pctChange(sales, 14),
		tailMin(sales, 7),
		tailMax(sales, 7),
		momentum(sales, 7),
		momentum(sales, 14),
	}
}

// branchValues 分店特征（9列）
func branchValues(branch BranchInfo, sales []float64) []float64 {
	avg, std := 0.0, 0.0
	if len(sales) > 0 {
		avg = stat.Mean(sales, nil)
	}
	if len(sales) > 1 {
		std = stat.StdDev(sales, nil)
	}
	seg := strings.ToLower(branch.SegmentType)
	loc := strings.ToLower(branch.Name + " " + branch.Code)
	return []float64{
		avg,
		std,
		float64(len(sales)),
		boolVal(seg == "coffeehouse"),
		boolVal(seg == "cafe"),
		boolVal(seg == "restaurant"),
		boolVal(strings.Contains(loc, "almaty") || strings.Contains(loc, "алматы")),
		boolVal(strings.Contains(loc, "astana") || strings.Contains(loc, "астана")),
		boolVal(strings.Contains(loc, "shymkent") || strings.Contains(loc, "шымкент")),
	}
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// tail 取末尾至多n个元素
func tail(sales []float64, n int) []float64 {
	if len(sales) > n {
		return sales[len(sales)-n:]
	}
	return sales
}

func tailMean(sales []float64, n int) float64 {
	w := tail(sales, n)
	if len(w) == 0 {
		return 0
	}
	return stat.Mean(w, nil)
}

func tailStd(sales []float64, n int) float64 {
	w := tail(sales, n)
	if len(w) < 2 {
		return 0
	}
	return stat.StdDev(w, nil)
}

func tailSum(sales []float64, n int) float64 {
	w := tail(sales, n)
	if len(w) == 0 {
		return 0
	}
	return floats.Sum(w)
}

func tailMin(sales []float64, n int) float64 {
	w := tail(sales, n)
	if len(w) == 0 {
		return 0
	}
	return floats.Min(w)
}

func tailMax(sales []float64, n int) float64 {
	w := tail(sales, n)
	if len(w) == 0 {
		return 0
	}
	return floats.Max(w)
}

// lag 倒数第n个观测，历史不足时退化为最早一个观测
func lag(sales []float64, n int) float64 {
	if len(sales) == 0 {
		return 0
	}
	if len(sales) < n {
		return sales[0]
	}
	return sales[len(sales)-n]
}

// pctChange 最近观测相对n天前观测的变化率
func pctChange(sales []float64, n int) float64 {
	if len(sales) < n+1 {
		return 0
	}
	base := sales[len(sales)-1-n]
	if base == 0 {
		return 0
	}
	return (sales[len(sales)-1] - base) / base
}

// momentum 最近n天均值减去再往前n天均值（趋势动量）
func momentum(sales []float64, n int) float64 {
	if len(sales) < 2*n {
		return 0
	}
	recent := sales[len(sales)-n:]
	previous := sales[len(sales)-2*n : len(sales)-n]
	return stat.Mean(recent, nil) - stat.Mean(previous, nil)
}
