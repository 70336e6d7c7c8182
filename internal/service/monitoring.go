package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"SalesForecast/internal/config"
	"SalesForecast/internal/gbrt"
	"SalesForecast/internal/metrics"
	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm"
)

// Alert 监控告警
type Alert struct {
	Type     string `json:"type"`     // high_mape / degradation / branch_outliers / systematic_bias
	Severity string `json:"severity"` // warning / critical
	Message  string `json:"message"`
}

// HealthCheck 单项健康检查结果
type HealthCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // healthy / warning / critical
	Detail string `json:"detail"`
}

// HealthReport 模型健康报告（总状态取各检查项中最差）
type HealthReport struct {
	Status       string        `json:"status"`
	ModelVersion string        `json:"model_version,omitempty"`
	Checks       []HealthCheck `json:"checks"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// PerformanceSummary 一段时间的表现汇总
type PerformanceSummary struct {
	Days             int     `json:"days"`
	AvgMAPE          float64 `json:"avg_mape"`
	AvgMAE           float64 `json:"avg_mae"`
	AvgBias          float64 `json:"avg_bias"`
	TrendSlope       float64 `json:"trend_slope"` // 每日MAPE的线性趋势斜率（正值=在恶化）
	BestDate         string  `json:"best_date"`
	BestMAPE         float64 `json:"best_mape"`
	WorstDate        string  `json:"worst_date"`
	WorstMAPE        float64 `json:"worst_mape"`
	TotalPredictions int     `json:"total_predictions"`
}

// MonitoringService 模型监控服务：每日指标、告警、健康检查
type MonitoringService struct {
	accuracyRepo repository.AccuracyRepository
	perfRepo     repository.PerformanceRepository
	versionRepo  repository.ModelVersionRepository
	salesRepo    repository.SalesRepository
	cfg          config.MonitoringConfig
	logger       *logrus.Logger
}

// NewMonitoringService 创建 MonitoringService 实例
func NewMonitoringService(
	accuracyRepo repository.AccuracyRepository,
	perfRepo repository.PerformanceRepository,
	versionRepo repository.ModelVersionRepository,
	salesRepo repository.SalesRepository,
	cfg config.MonitoringConfig,
	logger *logrus.Logger,
) *MonitoringService {
	return &MonitoringService{
		accuracyRepo: accuracyRepo,
		perfRepo:     perfRepo,
		versionRepo:  versionRepo,
		salesRepo:    salesRepo,
		cfg:          cfg,
		logger:       logger,
	}
}

// ComputeDailyMetrics 计算并落库某日的模型表现指标（可重算，整行覆盖）
func (s *MonitoringService) ComputeDailyMetrics(ctx context.Context, date time.Time) (*model.ModelPerformanceMetric, error) {
	rows, err := s.accuracyRepo.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("拉取对账记录失败: %w", err)
	}

	// 1. 只取已回填实际值的记录，按分店汇总
	var actuals, predictions, mapes []float64
	branchMAPE := make(map[string]float64)
	for _, r := range rows {
		if r.ActualAmount == nil || r.MAPE == nil {
			continue
		}
		actuals = append(actuals, *r.ActualAmount)
		predictions = append(predictions, r.PredictedAmount)
		mapes = append(mapes, *r.MAPE)
		branchMAPE[r.BranchID] = *r.MAPE
	}
	if len(mapes) == 0 {
		return nil, fmt.Errorf("日期 %s 无已对账的预测记录", date.Format("2006-01-02"))
	}

	metric := &model.ModelPerformanceMetric{
		Date:             date,
		DailyMAPE:        stat.Mean(mapes, nil),
		DailyMAE:         gbrt.MAE(actuals, predictions),
		DailyRMSE:        gbrt.RMSE(actuals, predictions),
		PredictionsCount: len(mapes),
		PredictionBias:   gbrt.Bias(actuals, predictions),
	}
	if len(mapes) > 1 {
		metric.MAPEStd = stat.StdDev(mapes, nil)
	}
	for id, m := range branchMAPE {
		if metric.BestBranchID == "" || m < metric.BestBranchMAPE {
			metric.BestBranchID, metric.BestBranchMAPE = id, m
		}
		if metric.WorstBranchID == "" || m > metric.WorstBranchMAPE {
			metric.WorstBranchID, metric.WorstBranchMAPE = id, m
		}
	}

	// 2. 相对前7天均值的趋势
	prev, err := s.perfRepo.ListRange(ctx, date.AddDate(0, 0, -7), date)
	if err == nil && len(prev) > 0 {
		prevMAPEs := make([]float64, len(prev))
		for i, p := range prev {
			prevMAPEs[i] = p.DailyMAPE
		}
		prevMean := stat.Mean(prevMAPEs, nil)
		metric.MAPETrend = metric.DailyMAPE - prevMean
		if prevMean > 0 {
			metric.TrendPercent = metric.MAPETrend / prevMean * 100
		}
	}

	// 3. 告警判定
	alerts := s.buildAlerts(metric, branchMAPE)
	if data, err := json.Marshal(alerts); err == nil {
		metric.Alerts = data
	}

	// 4. 标记当日服务的模型版本
	if active, err := s.versionRepo.GetActive(ctx); err == nil {
		metric.ModelVersion = active.VersionID
	}

	if err := s.perfRepo.Upsert(ctx, metric); err != nil {
		return nil, fmt.Errorf("保存每日指标失败: %w", err)
	}
	metrics.DailyMAPE.Set(metric.DailyMAPE)
	s.logger.WithFields(logrus.Fields{
		"date": date.Format("2006-01-02"), "mape": metric.DailyMAPE,
		"count": metric.PredictionsCount, "alerts": len(alerts),
	}).Info("每日指标计算完成")
	return metric, nil
}

// buildAlerts 根据阈值生成当日告警
func (s *MonitoringService) buildAlerts(metric *model.ModelPerformanceMetric, branchMAPE map[string]float64) []Alert {
	var alerts []Alert

	switch {
	case metric.DailyMAPE > s.cfg.MAPECritical:
		alerts = append(alerts, Alert{
			Type: "high_mape", Severity: "critical",
			Message: fmt.Sprintf("当日MAPE %.1f%%超过严重阈值%.1f%%", metric.DailyMAPE, s.cfg.MAPECritical),
		})
	case metric.DailyMAPE > s.cfg.MAPEWarning:
		alerts = append(alerts, Alert{
			Type: "high_mape", Severity: "warning",
			Message: fmt.Sprintf("当日MAPE %.1f%%超过警告阈值%.1f%%", metric.DailyMAPE, s.cfg.MAPEWarning),
		})
	}

	if metric.TrendPercent > s.cfg.DegradationPct {
		alerts = append(alerts, Alert{
			Type: "degradation", Severity: "warning",
			Message: fmt.Sprintf("MAPE较前7天均值恶化%.1f%%", metric.TrendPercent),
		})
	}

	over := 0
	for _, m := range branchMAPE {
		if m > s.cfg.BranchMAPEThreshold {
			over++
		}
	}
	if over > s.cfg.BranchAlertCount {
		alerts = append(alerts, Alert{
			Type: "branch_outliers", Severity: "warning",
			Message: fmt.Sprintf("%d个分店MAPE超过%.0f%%", over, s.cfg.BranchMAPEThreshold),
		})
	}

	if math.Abs(metric.PredictionBias) > s.cfg.BiasAlertThreshold {
		direction := "高估"
		if metric.PredictionBias < 0 {
			direction = "低估"
		}
		alerts = append(alerts, Alert{
			Type: "systematic_bias", Severity: "warning",
			Message: fmt.Sprintf("系统性%s: 平均偏差%.0f", direction, metric.PredictionBias),
		})
	}
	return alerts
}

// CheckModelHealth 综合健康检查，总状态取各项最差
func (s *MonitoringService) CheckModelHealth(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{Status: string(model.HealthHealthy), CheckedAt: time.Now()}
	overall := model.HealthHealthy

	// 1. 近7天整体表现
	recent, err := s.perfRepo.ListRecent(ctx, 7)
	if err != nil {
		return nil, fmt.Errorf("拉取近期指标失败: %w", err)
	}
	check := HealthCheck{Name: "recent_performance", Status: string(model.HealthHealthy)}
	if len(recent) == 0 {
		check.Status = string(model.HealthWarning)
		check.Detail = "无近期指标数据"
	} else {
		mapes := make([]float64, len(recent))
		for i, r := range recent {
			mapes[i] = r.DailyMAPE
		}
		avg := stat.Mean(mapes, nil)
		check.Detail = fmt.Sprintf("近%d天平均MAPE %.1f%%", len(recent), avg)
		if avg > s.cfg.MAPECritical {
			check.Status = string(model.HealthCritical)
		} else if avg > s.cfg.MAPEWarning {
			check.Status = string(model.HealthWarning)
		}
	}
	overall = overall.Worse(model.HealthStatus(check.Status))
	report.Checks = append(report.Checks, check)

	// 2. MAPE趋势斜率（ListRecent返回倒序，回正序后做线性回归）
	check = HealthCheck{Name: "mape_trend", Status: string(model.HealthHealthy), Detail: "数据不足"}
	if len(recent) >= 3 {
		xs := make([]float64, len(recent))
		ys := make([]float64, len(recent))
		for i := range recent {
			r := recent[len(recent)-1-i]
			xs[i] = float64(i)
			ys[i] = r.DailyMAPE
		}
		_, slope := stat.LinearRegression(xs, ys, nil, false)
		check.Detail = fmt.Sprintf("每日MAPE趋势斜率%.2f", slope)
		if slope > 1.0 {
			check.Status = string(model.HealthWarning)
		}
	}
	overall = overall.Worse(model.HealthStatus(check.Status))
	report.Checks = append(report.Checks, check)

	// 3. 模型年龄
	check = HealthCheck{Name: "model_age", Status: string(model.HealthHealthy)}
	active, err := s.versionRepo.GetActive(ctx)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("查询在役模型失败: %w", err)
		}
		check.Status = string(model.HealthCritical)
		check.Detail = "无在役模型"
	} else {
		report.ModelVersion = active.VersionID
		ageDays := int(time.Since(active.TrainingDate).Hours() / 24)
		check.Detail = fmt.Sprintf("模型年龄%d天", ageDays)
		if ageDays > s.cfg.ModelAgeWarningDays {
			check.Status = string(model.HealthWarning)
		}
	}
	overall = overall.Worse(model.HealthStatus(check.Status))
	report.Checks = append(report.Checks, check)

	// 4. 问题分店数量（近7天分店级MAPE）
	check = HealthCheck{Name: "problematic_branches", Status: string(model.HealthHealthy)}
	now := time.Now().Truncate(24 * time.Hour)
	matched, err := s.accuracyRepo.ListMatched(ctx, now.AddDate(0, 0, -7), now.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("拉取对账记录失败: %w", err)
	}
	byBranch := make(map[string][]float64)
	for _, r := range matched {
		if r.MAPE != nil {
			byBranch[r.BranchID] = append(byBranch[r.BranchID], *r.MAPE)
		}
	}
	problematic := 0
	for _, mapes := range byBranch {
		if stat.Mean(mapes, nil) > s.cfg.ProblematicMAPE {
			problematic++
		}
	}
	check.Detail = fmt.Sprintf("%d个分店近7天MAPE超过%.0f%%", problematic, s.cfg.ProblematicMAPE)
	if problematic > s.cfg.ProblematicCount {
		check.Status = string(model.HealthWarning)
	}
	overall = overall.Worse(model.HealthStatus(check.Status))
	report.Checks = append(report.Checks, check)

	// 5. 数据新鲜度
	check = HealthCheck{Name: "data_freshness", Status: string(model.HealthHealthy)}
	latest, err := s.salesRepo.LatestDate(ctx)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("查询数据新鲜度失败: %w", err)
		}
		check.Status = string(model.HealthCritical)
		check.Detail = "无销售数据"
	} else {
		lagDays := int(time.Since(latest).Hours() / 24)
		check.Detail = fmt.Sprintf("销售数据滞后%d天", lagDays)
		if lagDays > s.cfg.FreshnessWarningDays {
			check.Status = string(model.HealthWarning)
		}
	}
	overall = overall.Worse(model.HealthStatus(check.Status))
	report.Checks = append(report.Checks, check)

	report.Status = string(overall)
	return report, nil
}

// Summary 近days天的表现汇总
func (s *MonitoringService) Summary(ctx context.Context, days int) (*PerformanceSummary, error) {
	if days <= 0 {
		days = 30
	}
	now := time.Now().Truncate(24 * time.Hour)
	rows, err := s.perfRepo.ListRange(ctx, now.AddDate(0, 0, -days), now.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("拉取指标区间失败: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("近%d天无指标数据", days)
	}

	summary := &PerformanceSummary{Days: days}
	xs := make([]float64, len(rows))
	mapes := make([]float64, len(rows))
	var maes, biases []float64
	for i, r := range rows {
		xs[i] = float64(i)
		mapes[i] = r.DailyMAPE
		maes = append(maes, r.DailyMAE)
		biases = append(biases, r.PredictionBias)
		summary.TotalPredictions += r.PredictionsCount
		if summary.BestDate == "" || r.DailyMAPE < summary.BestMAPE {
			summary.BestDate, summary.BestMAPE = r.Date.Format("2006-01-02"), r.DailyMAPE
		}
		if summary.WorstDate == "" || r.DailyMAPE > summary.WorstMAPE {
			summary.WorstDate, summary.WorstMAPE = r.Date.Format("2006-01-02"), r.DailyMAPE
		}
	}
	summary.AvgMAPE = stat.Mean(mapes, nil)
	summary.AvgMAE = stat.Mean(maes, nil)
	summary.AvgBias = stat.Mean(biases, nil)
	if len(rows) >= 2 {
		_, summary.TrendSlope = stat.LinearRegression(xs, mapes, nil, false)
	}
	return summary, nil
}
