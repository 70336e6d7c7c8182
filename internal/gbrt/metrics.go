package gbrt

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MAE 平均绝对误差
func MAE(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	sum := 0.0
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual))
}

// RMSE 均方根误差
func RMSE(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	sum := 0.0
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(actual)))
}

// MAPE 平均绝对百分比误差（%）。实际值为0的点不参与计算；
// 全部为0时返回0（无法评估，不视为完美）。
func MAPE(actual, predicted []float64) float64 {
	sum := 0.0
	count := 0
	for i := range actual {
		if actual[i] == 0 {
			continue
		}
		sum += math.Abs(actual[i]-predicted[i]) / math.Abs(actual[i])
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count) * 100
}

// Bias 平均有符号误差（预测-实际），正值代表系统性高估
func Bias(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	sum := 0.0
	for i := range actual {
		sum += predicted[i] - actual[i]
	}
	return sum / float64(len(actual))
}

// R2 决定系数。实际值方差为0时返回0。
func R2(actual, predicted []float64) float64 {
	if len(actual) < 2 {
		return 0
	}
	mean := stat.Mean(actual, nil)
	ssTot, ssRes := 0.0, 0.0
	for i := range actual {
		d := actual[i] - mean
		ssTot += d * d
		r := actual[i] - predicted[i]
		ssRes += r * r
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}
