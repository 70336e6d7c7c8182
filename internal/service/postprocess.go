package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"SalesForecast/internal/config"
	"SalesForecast/internal/feature"
	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gorm.io/gorm"
)

// minAnomalyHistory 异常判定所需的最少历史点数
const minAnomalyHistory = 7

// minIntervalHistory 置信区间计算所需的最少历史点数
const minIntervalHistory = 3

// maxCV 置信区间使用的变异系数上限
const maxCV = 0.5

// fallbackIntervalPct 历史不足时的置信区间退化比例
const fallbackIntervalPct = 0.2

// PostprocessSettings 当前生效的后处理参数（数据库活动行或配置默认值）
type PostprocessSettings struct {
	MaxChangePct         float64  `json:"max_change_pct"`
	ZThreshold           float64  `json:"z_threshold"`
	ConfidenceLevel      float64  `json:"confidence_level"`
	FloorFactor          float64  `json:"floor_factor"`
	CeilingFactor        float64  `json:"ceiling_factor"`
	WeekendBoost         float64  `json:"weekend_boost"`
	HolidayBoost         float64  `json:"holiday_boost"`
	HolidayWindowDays    int      `json:"holiday_window_days"`
	WeekendBoostSegments []string `json:"weekend_boost_segments"`
	Source               string   `json:"source"` // database / config_default
}

// Adjustment 后处理单步调整记录
type Adjustment struct {
	Type   string  `json:"type"`   // smoothing / floor / ceiling / weekend_boost / holiday_boost
	Before float64 `json:"before"` // 调整前金额
	After  float64 `json:"after"`  // 调整后金额
	Detail string  `json:"detail"` // 调整说明
}

// AnomalyInfo 异常判定结果
type AnomalyInfo struct {
	IsAnomaly bool    `json:"is_anomaly"`
	ZScore    float64 `json:"z_score"`
	Direction string  `json:"direction"` // high / low / normal / unknown
}

// BusinessFlags 目标日期的业务标记
type BusinessFlags struct {
	IsWeekend            bool `json:"is_weekend"`
	IsFriday             bool `json:"is_friday"`
	IsMonday             bool `json:"is_monday"`
	IsMonthStart         bool `json:"is_month_start"`
	IsMonthEnd           bool `json:"is_month_end"`
	IsHoliday            bool `json:"is_holiday"`
	IsNearHoliday        bool `json:"is_near_holiday"`
	LimitedRecentData    bool `json:"limited_recent_data"`    // 近期历史少于7天
	HighRecentVolatility bool `json:"high_recent_volatility"` // 近期变异系数超过0.3
}

// ProcessedForecast 后处理结果
type ProcessedForecast struct {
	RawAmount   float64       `json:"raw_amount"`
	FinalAmount float64       `json:"final_amount"`
	LowerBound  float64       `json:"lower_bound"`
	UpperBound  float64       `json:"upper_bound"`
	Adjustments []Adjustment  `json:"adjustments"`
	Anomaly     AnomalyInfo   `json:"anomaly"`
	Flags       BusinessFlags `json:"flags"`
}

// PostprocessInput 后处理输入
type PostprocessInput struct {
	BranchID    string
	SegmentType string
	Date        time.Time
	RawAmount   float64
	History     []float64 // 目标日期之前的近期日销售（升序）
}

// PostprocessService 预测后处理服务：业务约束、异常标记、置信区间
type PostprocessService struct {
	settingsRepo repository.SettingsRepository
	cal          *feature.Calendar
	cfg          config.PostprocessConfig
	logger       *logrus.Logger
}

// NewPostprocessService 创建 PostprocessService 实例
func NewPostprocessService(
	settingsRepo repository.SettingsRepository,
	cal *feature.Calendar,
	cfg config.PostprocessConfig,
	logger *logrus.Logger,
) *PostprocessService {
	return &PostprocessService{settingsRepo: settingsRepo, cal: cal, cfg: cfg, logger: logger}
}

// EffectiveSettings 当前生效的后处理参数。数据库无活动行时回退到配置默认值。
func (s *PostprocessService) EffectiveSettings(ctx context.Context) (*PostprocessSettings, error) {
	row, err := s.settingsRepo.GetActive(ctx)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.defaultSettings(), nil
		}
		return nil, fmt.Errorf("读取后处理参数失败: %w", err)
	}
	settings := &PostprocessSettings{
		MaxChangePct:      row.MaxChangePct,
		ZThreshold:        row.ZThreshold,
		ConfidenceLevel:   row.ConfidenceLevel,
		FloorFactor:       row.FloorFactor,
		CeilingFactor:     row.CeilingFactor,
		WeekendBoost:      row.WeekendBoost,
		HolidayBoost:      row.HolidayBoost,
		HolidayWindowDays: row.HolidayWindowDays,
		Source:            "database",
	}
	if len(row.WeekendBoostSegments) > 0 {
		if err := json.Unmarshal(row.WeekendBoostSegments, &settings.WeekendBoostSegments); err != nil {
			s.logger.WithError(err).Warn("解析周末加成业态列表失败，使用配置默认值")
			settings.WeekendBoostSegments = s.cfg.WeekendBoostSegments
		}
	}
	return settings, nil
}

func (s *PostprocessService) defaultSettings() *PostprocessSettings {
	return &PostprocessSettings{
		MaxChangePct:         s.cfg.MaxChangePct,
		ZThreshold:           s.cfg.ZThreshold,
		ConfidenceLevel:      s.cfg.ConfidenceLevel,
		FloorFactor:          s.cfg.FloorFactor,
		CeilingFactor:        s.cfg.CeilingFactor,
		WeekendBoost:         s.cfg.WeekendBoost,
		HolidayBoost:         s.cfg.HolidayBoost,
		HolidayWindowDays:    s.cfg.HolidayWindowDays,
		WeekendBoostSegments: s.cfg.WeekendBoostSegments,
		Source:               "config_default",
	}
}

// UpdateSettings 更新后处理参数（版本化：停用旧行并插入新行，单事务）
func (s *PostprocessService) UpdateSettings(ctx context.Context, next *PostprocessSettings, createdBy string) error {
	if err := validateSettings(next); err != nil {
		return err
	}
	segJSON, err := json.Marshal(next.WeekendBoostSegments)
	if err != nil {
		return fmt.Errorf("序列化周末加成业态列表失败: %w", err)
	}
	row := &model.PostprocessSettings{
		MaxChangePct:         next.MaxChangePct,
		ZThreshold:           next.ZThreshold,
		ConfidenceLevel:      next.ConfidenceLevel,
		FloorFactor:          next.FloorFactor,
		CeilingFactor:        next.CeilingFactor,
		WeekendBoost:         next.WeekendBoost,
		HolidayBoost:         next.HolidayBoost,
		HolidayWindowDays:    next.HolidayWindowDays,
		WeekendBoostSegments: segJSON,
		CreatedBy:            createdBy,
	}
	if err := s.settingsRepo.Rotate(ctx, row); err != nil {
		return fmt.Errorf("轮换后处理参数失败: %w", err)
	}
	s.logger.WithField("created_by", createdBy).Info("后处理参数已更新")
	return nil
}

func validateSettings(s *PostprocessSettings) error {
	if s.MaxChangePct <= 0 || s.MaxChangePct > 100 {
		return fmt.Errorf("max_change_pct 必须在(0,100]内: %f", s.MaxChangePct)
	}
	if s.ZThreshold <= 0 {
		return fmt.Errorf("z_threshold 必须为正: %f", s.ZThreshold)
	}
	if s.ConfidenceLevel <= 0 || s.ConfidenceLevel >= 1 {
		return fmt.Errorf("confidence_level 必须在(0,1)内: %f", s.ConfidenceLevel)
	}
	if s.FloorFactor < 0 || s.CeilingFactor <= s.FloorFactor {
		return fmt.Errorf("非法的上下限系数: floor=%f ceiling=%f", s.FloorFactor, s.CeilingFactor)
	}
	if s.WeekendBoost <= 0 || s.HolidayBoost <= 0 {
		return fmt.Errorf("加成系数必须为正")
	}
	return nil
}

// Apply 对单条原始预测执行完整后处理流程
func (s *PostprocessService) Apply(ctx context.Context, input PostprocessInput) (*ProcessedForecast, error) {
	settings, err := s.EffectiveSettings(ctx)
	if err != nil {
		return nil, err
	}
	return s.applyWith(input, settings), nil
}

// ApplyWithSettings 用给定参数执行后处理（批处理时复用同一份参数快照）
func (s *PostprocessService) ApplyWithSettings(input PostprocessInput, settings *PostprocessSettings) *ProcessedForecast {
	return s.applyWith(input, settings)
}

func (s *PostprocessService) applyWith(input PostprocessInput, settings *PostprocessSettings) *ProcessedForecast {
	out := &ProcessedForecast{
		RawAmount:   input.RawAmount,
		FinalAmount: math.Max(input.RawAmount, 0),
		Flags:       s.businessFlags(input.Date, input.History, settings),
	}
	hist := input.History

	// 1. 平滑：相对近7天均值的变化超过阈值时截断
	if mean7 := tailMean(hist, 7); mean7 > 0 {
		maxDelta := mean7 * settings.MaxChangePct / 100
		if diff := out.FinalAmount - mean7; math.Abs(diff) > maxDelta {
			capped := mean7 + math.Copysign(maxDelta, diff)
			out.Adjustments = append(out.Adjustments, Adjustment{
				Type: "smoothing", Before: out.FinalAmount, After: capped,
				Detail: fmt.Sprintf("相对7天均值%.0f变化超过%.0f%%", mean7, settings.MaxChangePct),
			})
			out.FinalAmount = capped
		}
	}

	// 2. 历史下限/上限约束
	if len(hist) > 0 {
		histMin, histMax := minMax(hist)
		if floor := histMin * settings.FloorFactor; out.FinalAmount < floor {
			out.Adjustments = append(out.Adjustments, Adjustment{
				Type: "floor", Before: out.FinalAmount, After: floor,
				Detail: fmt.Sprintf("低于历史最小值%.0f的%.0f%%", histMin, settings.FloorFactor*100),
			})
			out.FinalAmount = floor
		}
		if ceiling := histMax * settings.CeilingFactor; ceiling > 0 && out.FinalAmount > ceiling {
			out.Adjustments = append(out.Adjustments, Adjustment{
				Type: "ceiling", Before: out.FinalAmount, After: ceiling,
				Detail: fmt.Sprintf("高于历史最大值%.0f的%.0f%%", histMax, settings.CeilingFactor*100),
			})
			out.FinalAmount = ceiling
		}
	}

	// 3. 周末加成（仅限指定业态）
	if out.Flags.IsWeekend && containsString(settings.WeekendBoostSegments, input.SegmentType) {
		boosted := out.FinalAmount * settings.WeekendBoost
		out.Adjustments = append(out.Adjustments, Adjustment{
			Type: "weekend_boost", Before: out.FinalAmount, After: boosted,
			Detail: fmt.Sprintf("业态%s周末加成%.2f", input.SegmentType, settings.WeekendBoost),
		})
		out.FinalAmount = boosted
	}

	// 4. 节假日临近加成
	if out.Flags.IsHoliday || out.Flags.IsNearHoliday {
		boosted := out.FinalAmount * settings.HolidayBoost
		out.Adjustments = append(out.Adjustments, Adjustment{
			Type: "holiday_boost", Before: out.FinalAmount, After: boosted,
			Detail: fmt.Sprintf("节假日临近加成%.2f", settings.HolidayBoost),
		})
		out.FinalAmount = boosted
	}

	// 5. 异常标记（不修改金额，只标记）
	out.Anomaly = s.detectAnomaly(out.FinalAmount, hist, settings.ZThreshold)

	// 6. 置信区间
	out.LowerBound, out.UpperBound = s.confidenceInterval(out.FinalAmount, hist, settings.ConfidenceLevel)
	return out
}

// detectAnomaly 基于历史分布的z分数异常判定。历史不足时返回中性结果。
func (s *PostprocessService) detectAnomaly(amount float64, hist []float64, zThreshold float64) AnomalyInfo {
	if len(hist) < minAnomalyHistory {
		return AnomalyInfo{Direction: "unknown"}
	}
	mean := stat.Mean(hist, nil)
	std := stat.StdDev(hist, nil)
	if std == 0 {
		if amount == mean {
			return AnomalyInfo{Direction: "normal"}
		}
		return AnomalyInfo{IsAnomaly: true, ZScore: math.Inf(1), Direction: direction(amount, mean)}
	}
	z := (amount - mean) / std
	if math.Abs(z) > zThreshold {
		return AnomalyInfo{IsAnomaly: true, ZScore: z, Direction: direction(amount, mean)}
	}
	return AnomalyInfo{ZScore: z, Direction: "normal"}
}

// confidenceInterval 基于历史变异系数的置信区间。历史不足时退化为±20%。
func (s *PostprocessService) confidenceInterval(amount float64, hist []float64, level float64) (float64, float64) {
	if len(hist) < minIntervalHistory {
		return math.Max(amount*(1-fallbackIntervalPct), 0), amount * (1 + fallbackIntervalPct)
	}
	mean := stat.Mean(hist, nil)
	if mean <= 0 {
		return math.Max(amount*(1-fallbackIntervalPct), 0), amount * (1 + fallbackIntervalPct)
	}
	cv := stat.StdDev(hist, nil) / mean
	if cv > maxCV {
		cv = maxCV
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	zq := norm.Quantile(0.5 + level/2)
	margin := zq * cv * amount
	return math.Max(amount-margin, 0), amount + margin
}

// maxRecentCV 近期波动标记的变异系数阈值
const maxRecentCV = 0.3

// businessFlags 目标日期与近期历史的业务标记
func (s *PostprocessService) businessFlags(date time.Time, hist []float64, settings *PostprocessSettings) BusinessFlags {
	flags := BusinessFlags{
		IsWeekend:         s.cal.IsWeekend(date),
		IsFriday:          s.cal.Weekday(date) == 4,
		IsMonday:          s.cal.Weekday(date) == 0,
		IsMonthStart:      date.Day() == 1,
		IsMonthEnd:        date.AddDate(0, 0, 1).Day() == 1,
		IsHoliday:         s.cal.IsHoliday(date),
		IsNearHoliday:     s.nearHoliday(date, settings.HolidayWindowDays),
		LimitedRecentData: len(hist) < minAnomalyHistory,
	}
	if len(hist) >= minAnomalyHistory {
		if mean := stat.Mean(hist, nil); mean > 0 {
			flags.HighRecentVolatility = stat.StdDev(hist, nil)/mean > maxRecentCV
		}
	}
	return flags
}

func (s *PostprocessService) nearHoliday(t time.Time, windowDays int) bool {
	for i := 1; i <= windowDays; i++ {
		if s.cal.IsHoliday(t.AddDate(0, 0, i)) {
			return true
		}
	}
	return false
}

func direction(amount, mean float64) string {
	if amount > mean {
		return "high"
	}
	return "low"
}

func tailMean(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) > n {
		values = values[len(values)-n:]
	}
	return stat.Mean(values, nil)
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
