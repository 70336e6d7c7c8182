package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"SalesForecast/internal/artifact"
	"SalesForecast/internal/config"
	"SalesForecast/internal/feature"
	"SalesForecast/internal/metrics"
	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

const (
	// MethodModel 模型推理产出
	MethodModel = "model"
	// MethodHeuristic 启发式规则产出（模型不可用或历史不足时降级）
	MethodHeuristic = "heuristic"
)

// ForecastResult 单分店单日预测结果
type ForecastResult struct {
	BranchID     string             `json:"branch_id"`
	BranchName   string             `json:"branch_name"`
	SegmentType  string             `json:"segment_type"`
	Date         time.Time          `json:"date"`
	Method       string             `json:"method"`
	ModelVersion string             `json:"model_version,omitempty"`
	Forecast     *ProcessedForecast `json:"forecast"`
}

// BatchForecastItem 批量预测的单项结果（失败项不阻断整批）
type BatchForecastItem struct {
	BranchID string          `json:"branch_id"`
	Result   *ForecastResult `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ProcessReport 全量预测任务报告
type ProcessReport struct {
	StartDate   time.Time `json:"start_date"`
	HorizonDays int       `json:"horizon_days"`
	Branches    int       `json:"branches"`
	Generated   int       `json:"generated"`
	Failed      int       `json:"failed"`
	Backfilled  int       `json:"backfilled"`
}

// ForecastService 预测服务：模型推理 + 启发式降级 + 后处理
type ForecastService struct {
	branchRepo   repository.BranchRepository
	salesRepo    repository.SalesRepository
	forecastRepo repository.ForecastRepository
	accuracyRepo repository.AccuracyRepository
	registry     *artifact.Registry
	postprocess  *PostprocessService
	cal          *feature.Calendar
	cfg          config.ForecastConfig
	logger       *logrus.Logger
}

// NewForecastService 创建 ForecastService 实例
func NewForecastService(
	branchRepo repository.BranchRepository,
	salesRepo repository.SalesRepository,
	forecastRepo repository.ForecastRepository,
	accuracyRepo repository.AccuracyRepository,
	registry *artifact.Registry,
	postprocess *PostprocessService,
	cal *feature.Calendar,
	cfg config.ForecastConfig,
	logger *logrus.Logger,
) *ForecastService {
	return &ForecastService{
		branchRepo:   branchRepo,
		salesRepo:    salesRepo,
		forecastRepo: forecastRepo,
		accuracyRepo: accuracyRepo,
		registry:     registry,
		postprocess:  postprocess,
		cal:          cal,
		cfg:          cfg,
		logger:       logger,
	}
}

// Forecast 单分店单日预测
func (s *ForecastService) Forecast(ctx context.Context, branchID string, date time.Time) (*ForecastResult, error) {
	branch, err := s.branchRepo.GetByID(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("分店不存在 %s: %w", branchID, err)
	}
	settings, err := s.postprocess.EffectiveSettings(ctx)
	if err != nil {
		return nil, err
	}
	return s.forecastWith(ctx, branch, date, settings)
}

// BatchForecast 批量预测，单个分店失败不阻断整批
func (s *ForecastService) BatchForecast(ctx context.Context, branchIDs []string, date time.Time) ([]BatchForecastItem, error) {
	settings, err := s.postprocess.EffectiveSettings(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]BatchForecastItem, 0, len(branchIDs))
	for _, id := range branchIDs {
		item := BatchForecastItem{BranchID: id}
		branch, err := s.branchRepo.GetByID(ctx, id)
		if err != nil {
			item.Error = fmt.Sprintf("分店不存在: %v", err)
			items = append(items, item)
			continue
		}
		result, err := s.forecastWith(ctx, branch, date, settings)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Result = result
		}
		items = append(items, item)
	}
	return items, nil
}

// ProcessAll 为全部分店生成未来horizon天的预测并落库，同时回填昨日实际值。
// 单分店失败只记数，不阻断整体。
func (s *ForecastService) ProcessAll(ctx context.Context, start time.Time, horizonDays int) (*ProcessReport, error) {
	if horizonDays <= 0 {
		horizonDays = s.cfg.HorizonDays
	}
	branches, err := s.branchRepo.ListDepartments(ctx)
	if err != nil {
		return nil, fmt.Errorf("拉取分店列表失败: %w", err)
	}
	settings, err := s.postprocess.EffectiveSettings(ctx)
	if err != nil {
		return nil, err
	}

	report := &ProcessReport{StartDate: start, HorizonDays: horizonDays, Branches: len(branches)}
	var forecasts []*model.Forecast
	var pending []*model.ForecastAccuracyLog

	for _, b := range branches {
		for d := 0; d < horizonDays; d++ {
			date := start.AddDate(0, 0, d)
			result, err := s.forecastWith(ctx, b, date, settings)
			if err != nil {
				report.Failed++
				metrics.ForecastFailures.Inc()
				s.logger.WithError(err).WithFields(logrus.Fields{
					"branch_id": b.BranchID, "date": date.Format("2006-01-02"),
				}).Warn("生成预测失败")
				continue
			}
			metrics.ForecastsGenerated.WithLabelValues(result.Method).Inc()
			forecasts = append(forecasts, &model.Forecast{
				BranchID:        b.BranchID,
				ForecastDate:    date,
				PredictedAmount: result.Forecast.FinalAmount,
				ModelVersion:    result.ModelVersion,
			})
			pending = append(pending, &model.ForecastAccuracyLog{
				BranchID:        b.BranchID,
				ForecastDate:    date,
				PredictedAmount: result.Forecast.FinalAmount,
			})
			report.Generated++
		}
	}
	if err := s.forecastRepo.SaveBatch(ctx, forecasts); err != nil {
		return nil, fmt.Errorf("保存预测失败: %w", err)
	}
	if err := s.accuracyRepo.UpsertBatch(ctx, pending); err != nil {
		return nil, fmt.Errorf("登记对账记录失败: %w", err)
	}

	// 回填昨日实际值
	backfilled, err := s.BackfillActuals(ctx, start.AddDate(0, 0, -1))
	if err != nil {
		s.logger.WithError(err).Warn("回填昨日实际值失败")
	} else {
		report.Backfilled = backfilled
	}

	s.logger.WithFields(logrus.Fields{
		"branches": report.Branches, "generated": report.Generated, "failed": report.Failed,
	}).Info("全量预测任务完成")
	return report, nil
}

// BackfillActuals 用已到位的实际销售回填对账记录，返回回填条数
func (s *ForecastService) BackfillActuals(ctx context.Context, date time.Time) (int, error) {
	forecasts, err := s.forecastRepo.ListByDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("拉取预测记录失败: %w", err)
	}
	if len(forecasts) == 0 {
		return 0, nil
	}
	sales, err := s.salesRepo.ListSince(ctx, date, date.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("拉取实际销售失败: %w", err)
	}
	actualByBranch := make(map[string]float64, len(sales))
	for _, row := range sales {
		actualByBranch[row.BranchID] = row.TotalSales
	}

	var rows []*model.ForecastAccuracyLog
	for _, f := range forecasts {
		actual, ok := actualByBranch[f.BranchID]
		if !ok {
			continue // 实际值尚未到位，留待下次回填
		}
		entry := &model.ForecastAccuracyLog{
			BranchID:        f.BranchID,
			ForecastDate:    f.ForecastDate,
			PredictedAmount: f.PredictedAmount,
			ActualAmount:    floatPtr(actual),
			MAE:             floatPtr(math.Abs(actual - f.PredictedAmount)),
		}
		if actual != 0 {
			entry.MAPE = floatPtr(math.Abs(actual-f.PredictedAmount) / math.Abs(actual) * 100)
		}
		rows = append(rows, entry)
	}
	if err := s.accuracyRepo.UpsertBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("回填对账记录失败: %w", err)
	}
	return len(rows), nil
}

// forecastWith 单分店单日预测主流程
func (s *ForecastService) forecastWith(ctx context.Context, branch *model.Branch, date time.Time, settings *PostprocessSettings) (*ForecastResult, error) {
	// 1. 取目标日期前的历史（按长窗口一次取够）
	since := date.AddDate(0, 0, -s.cfg.ExtendedWindowDays)
	sales, err := s.salesRepo.ListByBranch(ctx, branch.BranchID, since, date)
	if err != nil {
		return nil, fmt.Errorf("拉取历史销售失败: %w", err)
	}
	obs := observationsFromSales(sales)

	// 2. 先走模型，模型不可用或历史不足时降级为启发式
	raw, method, version := s.rawForecast(branch, obs, date)
	if method == "" {
		return nil, fmt.Errorf("分店 %s 历史数据不足，无法预测 %s",
			branch.BranchID, date.Format("2006-01-02"))
	}

	// 3. 后处理
	history := make([]float64, len(obs))
	for i, o := range obs {
		history[i] = o.TotalSales
	}
	processed := s.postprocess.ApplyWithSettings(PostprocessInput{
		BranchID:    branch.BranchID,
		SegmentType: branch.SegmentType,
		Date:        date,
		RawAmount:   raw,
		History:     history,
	}, settings)

	return &ForecastResult{
		BranchID:     branch.BranchID,
		BranchName:   branch.Name,
		SegmentType:  branch.SegmentType,
		Date:         date,
		Method:       method,
		ModelVersion: version,
		Forecast:     processed,
	}, nil
}

// shortHorizonDays 目标日超过最近观测该天数即视为长周期预测
const shortHorizonDays = 7

// rawForecast 产出原始预测值。模型输出与启发式基准共用周末乘数与同星期平滑，
// 再做非负截断。返回method为空表示无法预测。
func (s *ForecastService) rawForecast(branch *model.Branch, obs []feature.Observation, date time.Time) (amount float64, method, version string) {
	if loaded, ok := s.registry.Get(); ok {
		row, err := feature.BuildInferenceVector(branchInfo(branch), obs, date, s.cal, false)
		if err == nil {
			pred, err := loaded.Model.Predict(row.Values)
			if err == nil {
				if s.cal.IsWeekend(date) {
					pred *= s.cfg.WeekendMultiplier
				}
				pred = s.smoothSameWeekday(pred, obs, date)
				return math.Max(pred, 0), MethodModel, loaded.VersionID
			}
			s.logger.WithError(err).WithField("branch_id", branch.BranchID).Warn("模型推理失败，降级为启发式")
		}
	}
	amount, err := s.heuristicForecast(obs, date)
	if err != nil {
		return 0, "", ""
	}
	return amount, MethodHeuristic, ""
}

// heuristicForecast 启发式预测：同星期均值 + 周末乘数 + 同星期平滑。
// 目标日在最近观测7天内用30天窗口，更远（含数据滞后的分店）用45天窗口并放宽历史要求。
func (s *ForecastService) heuristicForecast(obs []feature.Observation, date time.Time) (float64, error) {
	windowDays, minHistory := s.cfg.ShortWindowDays, s.cfg.ShortMinHistory
	if daysPastLatest(obs, date) > shortHorizonDays {
		windowDays, minHistory = s.cfg.ExtendedWindowDays, s.cfg.LongMinHistory
	}

	windowStart := date.AddDate(0, 0, -windowDays)
	var window []float64
	var sameWeekday []float64
	targetWeekday := s.cal.Weekday(date)
	for _, o := range obs {
		if o.Date.Before(windowStart) || !o.Date.Before(date) {
			continue
		}
		window = append(window, o.TotalSales)
		if s.cal.Weekday(o.Date) == targetWeekday {
			sameWeekday = append(sameWeekday, o.TotalSales)
		}
	}
	if len(window) < minHistory {
		return 0, fmt.Errorf("窗口内历史不足: %d < %d", len(window), minHistory)
	}

	// 基准：优先同星期均值，样本不足时退化为窗口均值（周末另乘系数）
	var base float64
	if len(sameWeekday) >= 2 {
		base = stat.Mean(sameWeekday, nil)
	} else {
		base = stat.Mean(window, nil)
		if s.cal.IsWeekend(date) {
			base *= s.cfg.WeekendMultiplier
		}
	}
	return math.Max(s.smoothSameWeekday(base, obs, date), 0), nil
}

// smoothSameWeekday 同星期平滑：相对近几周同星期均值的偏离按比例截断
func (s *ForecastService) smoothSameWeekday(pred float64, obs []feature.Observation, date time.Time) float64 {
	weeks := s.cfg.WeekdaySmoothWeeks
	if weeks <= 0 {
		return pred
	}
	start := date.AddDate(0, 0, -7*weeks)
	targetWeekday := s.cal.Weekday(date)
	var recent []float64
	for _, o := range obs {
		if o.Date.Before(start) || !o.Date.Before(date) {
			continue
		}
		if s.cal.Weekday(o.Date) == targetWeekday {
			recent = append(recent, o.TotalSales)
		}
	}
	if len(recent) == 0 {
		return pred
	}
	ref := stat.Mean(recent, nil)
	if ref <= 0 {
		return pred
	}
	maxDelta := ref * s.cfg.WeekdaySmoothMaxPct / 100
	if diff := pred - ref; math.Abs(diff) > maxDelta {
		return ref + math.Copysign(maxDelta, diff)
	}
	return pred
}

// daysPastLatest 目标日期距最近一条观测的整天数，无观测时返回0
func daysPastLatest(obs []feature.Observation, date time.Time) int {
	var latest time.Time
	for _, o := range obs {
		if o.Date.After(latest) {
			latest = o.Date
		}
	}
	if latest.IsZero() {
		return 0
	}
	return int(date.Sub(latest).Hours() / 24)
}
