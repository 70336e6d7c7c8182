package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"SalesForecast/internal/feature"
	"SalesForecast/internal/repository"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// SegmentStats 单个维度取值（业态/星期类型）的误差统计
type SegmentStats struct {
	Segment     string  `json:"segment"`
	Count       int     `json:"count"`
	AvgMAPE     float64 `json:"avg_mape"`
	AvgMAE      float64 `json:"avg_mae"`
	AvgBias     float64 `json:"avg_bias"` // >0 为高估
	WorstBranch string  `json:"worst_branch,omitempty"`
}

// BranchErrorStats 单分店误差统计
type BranchErrorStats struct {
	BranchID   string  `json:"branch_id"`
	BranchName string  `json:"branch_name"`
	Segment    string  `json:"segment"`
	Count      int     `json:"count"`
	AvgMAPE    float64 `json:"avg_mape"`
	AvgMAE     float64 `json:"avg_mae"`
}

// ErrorAnalysisReport 误差分析报告
type ErrorAnalysisReport struct {
	Days             int                `json:"days"`
	TotalPredictions int                `json:"total_predictions"`
	OverallMAPE      float64            `json:"overall_mape"`
	BySegment        []SegmentStats     `json:"by_segment"`
	ByDayType        []SegmentStats     `json:"by_day_type"`  // weekday / weekend
	ByLocation       []SegmentStats     `json:"by_location"`  // almaty / astana / shymkent / other
	ByMonth          []SegmentStats     `json:"by_month"`     // YYYY-MM
	MAPEDistribution map[string]int     `json:"mape_distribution"`
	WorstBranches    []BranchErrorStats `json:"worst_branches"`
}

// ErrorAnalysisService 误差分析服务：按业态、星期类型、分店切片定位误差来源
type ErrorAnalysisService struct {
	accuracyRepo repository.AccuracyRepository
	branchRepo   repository.BranchRepository
	cal          *feature.Calendar
	logger       *logrus.Logger
}

// NewErrorAnalysisService 创建 ErrorAnalysisService 实例
func NewErrorAnalysisService(
	accuracyRepo repository.AccuracyRepository,
	branchRepo repository.BranchRepository,
	cal *feature.Calendar,
	logger *logrus.Logger,
) *ErrorAnalysisService {
	return &ErrorAnalysisService{
		accuracyRepo: accuracyRepo,
		branchRepo:   branchRepo,
		cal:          cal,
		logger:       logger,
	}
}

type errorSample struct {
	branchID string
	date     time.Time
	mape     float64
	mae      float64
	bias     float64
	weekend  bool
	location string
}

// Analyze 分析近days天的预测误差
func (s *ErrorAnalysisService) Analyze(ctx context.Context, days, topN int) (*ErrorAnalysisReport, error) {
	if days <= 0 {
		days = 30
	}
	if topN <= 0 {
		topN = 10
	}
	now := time.Now().Truncate(24 * time.Hour)
	matched, err := s.accuracyRepo.ListMatched(ctx, now.AddDate(0, 0, -days), now.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("拉取对账记录失败: %w", err)
	}

	branches, err := s.branchRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("拉取分店列表失败: %w", err)
	}
	segmentOf := make(map[string]string, len(branches))
	nameOf := make(map[string]string, len(branches))
	for _, b := range branches {
		seg := b.SegmentType
		if seg == "" {
			seg = "unknown"
		}
		segmentOf[b.BranchID] = seg
		nameOf[b.BranchID] = b.Name
	}

	// 1. 展开样本
	var samples []errorSample
	for _, r := range matched {
		if r.MAPE == nil || r.MAE == nil || r.ActualAmount == nil {
			continue
		}
		samples = append(samples, errorSample{
			branchID: r.BranchID,
			date:     r.ForecastDate,
			mape:     *r.MAPE,
			mae:      *r.MAE,
			bias:     r.PredictedAmount - *r.ActualAmount,
			weekend:  s.cal.IsWeekend(r.ForecastDate),
			location: locationOf(nameOf[r.BranchID]),
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("近%d天无已对账的预测记录", days)
	}

	report := &ErrorAnalysisReport{
		Days:             days,
		TotalPredictions: len(samples),
		MAPEDistribution: map[string]int{},
	}

	// 2. 整体MAPE与分布
	all := make([]float64, len(samples))
	for i, sm := range samples {
		all[i] = sm.mape
		report.MAPEDistribution[mapeBucket(sm.mape)]++
	}
	report.OverallMAPE = stat.Mean(all, nil)

	// 3. 按业态切片
	bySegment := groupSamples(samples, func(sm errorSample) string { return segmentOf[sm.branchID] })
	report.BySegment = summarizeGroups(bySegment)

	// 4. 工作日 vs 周末
	byDayType := groupSamples(samples, func(sm errorSample) string {
		if sm.weekend {
			return "weekend"
		}
		return "weekday"
	})
	report.ByDayType = summarizeGroups(byDayType)

	// 5. 按城市与月份切片
	byLocation := groupSamples(samples, func(sm errorSample) string { return sm.location })
	report.ByLocation = summarizeGroups(byLocation)
	byMonth := groupSamples(samples, func(sm errorSample) string { return sm.date.Format("2006-01") })
	report.ByMonth = summarizeGroups(byMonth)

	// 6. 最差分店
	byBranch := groupSamples(samples, func(sm errorSample) string { return sm.branchID })
	for id, group := range byBranch {
		mapes, maes := make([]float64, len(group)), make([]float64, len(group))
		for i, sm := range group {
			mapes[i] = sm.mape
			maes[i] = sm.mae
		}
		report.WorstBranches = append(report.WorstBranches, BranchErrorStats{
			BranchID:   id,
			BranchName: nameOf[id],
			Segment:    segmentOf[id],
			Count:      len(group),
			AvgMAPE:    stat.Mean(mapes, nil),
			AvgMAE:     stat.Mean(maes, nil),
		})
	}
	sort.Slice(report.WorstBranches, func(i, j int) bool {
		return report.WorstBranches[i].AvgMAPE > report.WorstBranches[j].AvgMAPE
	})
	if len(report.WorstBranches) > topN {
		report.WorstBranches = report.WorstBranches[:topN]
	}
	return report, nil
}

func groupSamples(samples []errorSample, key func(errorSample) string) map[string][]errorSample {
	groups := make(map[string][]errorSample)
	for _, sm := range samples {
		k := key(sm)
		groups[k] = append(groups[k], sm)
	}
	return groups
}

func summarizeGroups(groups map[string][]errorSample) []SegmentStats {
	out := make([]SegmentStats, 0, len(groups))
	for name, group := range groups {
		mapes := make([]float64, len(group))
		maes := make([]float64, len(group))
		biases := make([]float64, len(group))
		branchMAPE := make(map[string][]float64)
		for i, sm := range group {
			mapes[i] = sm.mape
			maes[i] = sm.mae
			biases[i] = sm.bias
			branchMAPE[sm.branchID] = append(branchMAPE[sm.branchID], sm.mape)
		}
		stats := SegmentStats{
			Segment: name,
			Count:   len(group),
			AvgMAPE: stat.Mean(mapes, nil),
			AvgMAE:  stat.Mean(maes, nil),
			AvgBias: stat.Mean(biases, nil),
		}
		worst := -1.0
		for id, m := range branchMAPE {
			if avg := stat.Mean(m, nil); avg > worst {
				worst = avg
				stats.WorstBranch = id
			}
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AvgMAPE > out[j].AvgMAPE })
	return out
}

// locationOf 按分店名称关键词推断城市
func locationOf(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "almaty") || strings.Contains(lower, "алматы"):
		return "almaty"
	case strings.Contains(lower, "astana") || strings.Contains(lower, "астана"):
		return "astana"
	case strings.Contains(lower, "shymkent") || strings.Contains(lower, "шымкент"):
		return "shymkent"
	default:
		return "other"
	}
}

func mapeBucket(mape float64) string {
	switch {
	case mape < 5:
		return "<5%"
	case mape < 10:
		return "5-10%"
	case mape < 20:
		return "10-20%"
	case mape < 30:
		return "20-30%"
	default:
		return ">30%"
	}
}
