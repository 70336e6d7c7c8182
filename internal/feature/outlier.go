package feature

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"SalesForecast/internal/model"
)

// Bounds 离群值截断边界
type Bounds struct {
	Lower float64
	Upper float64
}

// IQRBounds 按四分位距计算边界：Q1-1.5·IQR ~ Q3+1.5·IQR
func IQRBounds(values []float64) Bounds {
	sorted := sortedCopy(values)
	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	iqr := q3 - q1
	return Bounds{Lower: q1 - 1.5*iqr, Upper: q3 + 1.5*iqr}
}

// PercentileBounds 按5/95分位计算截断边界
func PercentileBounds(values []float64) Bounds {
	sorted := sortedCopy(values)
	return Bounds{
		Lower: stat.Quantile(0.05, stat.Empirical, sorted, nil),
		Upper: stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}

// Clamp 按边界截断单个值
func (b Bounds) Clamp(v float64) float64 {
	if v < b.Lower {
		return b.Lower
	}
	if v > b.Upper {
		return b.Upper
	}
	return v
}

// ApplyOutlierPolicy 按策略处理单个分店的观测序列（各分店独立计算边界）。
// winsorize/percentile_cap 截断到边界，remove 直接剔除越界行，none 原样返回。
// 样本少于4条时分位数没有意义，直接跳过处理。
func ApplyOutlierPolicy(obs []Observation, policy model.OutlierPolicy) []Observation {
	if policy == model.OutlierNone || len(obs) < 4 {
		return obs
	}
	values := make([]float64, len(obs))
	for i, o := range obs {
		values[i] = o.TotalSales
	}

	var bounds Bounds
	switch policy {
	case model.OutlierWinsorize, model.OutlierRemove:
		bounds = IQRBounds(values)
	case model.OutlierPercentileCap:
		bounds = PercentileBounds(values)
	default:
		return obs
	}

	out := make([]Observation, 0, len(obs))
	for _, o := range obs {
		switch policy {
		case model.OutlierRemove:
			if o.TotalSales < bounds.Lower || o.TotalSales > bounds.Upper {
				continue
			}
			out = append(out, o)
		default:
			o.TotalSales = bounds.Clamp(o.TotalSales)
			out = append(out, o)
		}
	}
	return out
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}
