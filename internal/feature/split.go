package feature

import "fmt"

// Split 按时间顺序切分的训练/验证/测试集（行已按日期升序）
type Split struct {
	Train []Row
	Val   []Row
	Test  []Row
}

// ChronoSplit 按比例做严格时间切分：最早的进训练集，最晚的进测试集。
// rows 必须已按日期升序（BuildSeriesRows 的输出天然有序）。
func ChronoSplit(rows []Row, valFraction, testFraction float64) (*Split, error) {
	if valFraction < 0 || testFraction < 0 || valFraction+testFraction >= 1 {
		return nil, fmt.Errorf("非法的切分比例: val=%.2f test=%.2f", valFraction, testFraction)
	}
	n := len(rows)
	testStart := n - int(float64(n)*testFraction)
	valStart := testStart - int(float64(n)*valFraction)
	if valStart < 1 || testStart <= valStart || testStart >= n {
		return nil, fmt.Errorf("样本量不足以切分: 共%d行", n)
	}
	return &Split{
		Train: rows[:valStart],
		Val:   rows[valStart:testStart],
		Test:  rows[testStart:],
	}, nil
}

// Matrix 把特征行展开为设计矩阵与标签向量（只保留 Valid 行）
func Matrix(rows []Row) (x [][]float64, y []float64) {
	for _, r := range rows {
		if !r.Valid {
			continue
		}
		x = append(x, r.Values)
		y = append(y, r.Label)
	}
	return x, y
}
