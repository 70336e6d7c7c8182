package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SalesForecast/internal/artifact"
	"SalesForecast/internal/config"
	"SalesForecast/internal/metrics"
	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm"
)

// RetrainOutcome 一次重训流程的结果
type RetrainOutcome struct {
	Decision          model.Decision `json:"decision"`
	Reason            string         `json:"reason"`
	TriggerType       model.TriggerType `json:"trigger_type"`
	PreviousVersionID string         `json:"previous_version_id,omitempty"`
	PreviousMAPE      *float64       `json:"previous_mape,omitempty"`
	NewVersionID      string         `json:"new_version_id,omitempty"`
	NewMAPE           *float64       `json:"new_mape,omitempty"`
	ImprovementPct    *float64       `json:"improvement_pct,omitempty"`
	ElapsedSeconds    int            `json:"elapsed_seconds"`
}

// RetrainOptions 重训选项
type RetrainOptions struct {
	Days          int                 // 取数窗口（0=配置默认）
	OutlierPolicy model.OutlierPolicy // 离群值策略（空=配置默认）
	Tune          bool                // 训练前先做超参搜索
}

// RetrainingService 重训编排服务：触发判定、训练、部署决策、审计。
// 同一时刻全局只允许一次重训在途，并发触发共享同一次执行结果。
type RetrainingService struct {
	training     *TrainingService
	tuning       *TuningService
	versionRepo  repository.ModelVersionRepository
	retrainRepo  repository.RetrainLogRepository
	accuracyRepo repository.AccuracyRepository
	forecastRepo repository.ForecastRepository
	store        *artifact.Store
	registry     *artifact.Registry
	cfg          config.RetrainConfig
	logger       *logrus.Logger
	inflight     singleflight.Group
}

// NewRetrainingService 创建 RetrainingService 实例
func NewRetrainingService(
	training *TrainingService,
	tuning *TuningService,
	versionRepo repository.ModelVersionRepository,
	retrainRepo repository.RetrainLogRepository,
	accuracyRepo repository.AccuracyRepository,
	forecastRepo repository.ForecastRepository,
	store *artifact.Store,
	registry *artifact.Registry,
	cfg config.RetrainConfig,
	logger *logrus.Logger,
) *RetrainingService {
	return &RetrainingService{
		training:     training,
		tuning:       tuning,
		versionRepo:  versionRepo,
		retrainRepo:  retrainRepo,
		accuracyRepo: accuracyRepo,
		forecastRepo: forecastRepo,
		store:        store,
		registry:     registry,
		cfg:          cfg,
		logger:       logger,
	}
}

// RestoreActive 启动时把在役模型从产物目录加载进内存注册表
func (s *RetrainingService) RestoreActive(ctx context.Context) error {
	active, err := s.versionRepo.GetActive(ctx)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Info("无在役模型，预测将使用启发式降级")
			return nil
		}
		return fmt.Errorf("查询在役模型失败: %w", err)
	}
	m, err := s.store.LoadPath(active.ModelPath)
	if err != nil {
		return fmt.Errorf("加载在役模型产物失败: %w", err)
	}
	s.registry.Swap(&artifact.LoadedModel{
		VersionID: active.VersionID,
		Model:     m,
		LoadedAt:  time.Now(),
	})
	s.logger.WithField("version_id", active.VersionID).Info("在役模型已加载")
	return nil
}

// ShouldRetrain 触发判定。返回是否重训、原因和量化细节。
//   - manual：无条件重训
//   - performance_degradation：近期实盘MAPE超过恶化阈值
//   - scheduled：无在役模型 / 模型年龄超限 / 近期MAPE超限 / 累计预测量超限
func (s *RetrainingService) ShouldRetrain(ctx context.Context, trigger model.TriggerType) (bool, string, map[string]interface{}) {
	details := map[string]interface{}{"trigger": string(trigger)}

	if trigger == model.TriggerManual {
		return true, "手动触发", details
	}

	active, err := s.versionRepo.GetActive(ctx)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, "无在役模型", details
		}
		s.logger.WithError(err).Warn("查询在役模型失败，跳过本次重训判定")
		return false, "查询在役模型失败", details
	}
	details["active_version"] = active.VersionID

	recentMAPE, ok := s.recentMAPE(ctx, 7)
	if ok {
		details["recent_mape"] = recentMAPE
	}

	if trigger == model.TriggerDegradation {
		if ok && recentMAPE > s.cfg.DegradationMAPEThreshold {
			return true, fmt.Sprintf("近期MAPE %.1f%%超过恶化阈值%.1f%%",
				recentMAPE, s.cfg.DegradationMAPEThreshold), details
		}
		return false, "近期表现未达恶化阈值", details
	}

	// scheduled
	ageDays := int(time.Since(active.TrainingDate).Hours() / 24)
	details["model_age_days"] = ageDays
	if ageDays > s.cfg.ScheduledMaxAgeDays {
		return true, fmt.Sprintf("模型年龄%d天超过上限%d天", ageDays, s.cfg.ScheduledMaxAgeDays), details
	}
	if ok && recentMAPE > s.cfg.ScheduledMAPEThreshold {
		return true, fmt.Sprintf("近期MAPE %.1f%%超过阈值%.1f%%",
			recentMAPE, s.cfg.ScheduledMAPEThreshold), details
	}
	volume, err := s.forecastRepo.CountSinceDeployment(ctx, active.VersionID)
	if err == nil {
		details["prediction_volume"] = volume
		if volume > int64(s.cfg.MinPredictionVolume) {
			return true, fmt.Sprintf("累计预测量%d超过阈值%d", volume, s.cfg.MinPredictionVolume), details
		}
	}
	return false, "未达到任何重训条件", details
}

// recentMAPE 近days天实盘平均MAPE
func (s *RetrainingService) recentMAPE(ctx context.Context, days int) (float64, bool) {
	now := time.Now().Truncate(24 * time.Hour)
	matched, err := s.accuracyRepo.ListMatched(ctx, now.AddDate(0, 0, -days), now.AddDate(0, 0, 1))
	if err != nil || len(matched) == 0 {
		return 0, false
	}
	var mapes []float64
	for _, r := range matched {
		if r.MAPE != nil {
			mapes = append(mapes, *r.MAPE)
		}
	}
	if len(mapes) == 0 {
		return 0, false
	}
	return stat.Mean(mapes, nil), true
}

// Retrain 执行一次完整重训流程。并发触发时共享同一次在途执行。
func (s *RetrainingService) Retrain(ctx context.Context, trigger model.TriggerType, opts RetrainOptions) (*RetrainOutcome, error) {
	result, err, _ := s.inflight.Do("retrain", func() (interface{}, error) {
		return s.retrainOnce(ctx, trigger, opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*RetrainOutcome), nil
}

func (s *RetrainingService) retrainOnce(ctx context.Context, trigger model.TriggerType, opts RetrainOptions) (*RetrainOutcome, error) {
	start := time.Now()
	outcome := &RetrainOutcome{TriggerType: trigger}

	// 1. 触发判定
	should, reason, details := s.ShouldRetrain(ctx, trigger)
	if !should {
		outcome.Decision = model.DecisionSkipped
		outcome.Reason = reason
		outcome.ElapsedSeconds = int(time.Since(start).Seconds())
		s.appendLog(ctx, start, trigger, details, outcome, model.RetrainCompleted, "")
		return outcome, nil
	}
	s.logger.WithFields(logrus.Fields{"trigger": trigger, "reason": reason}).Info("开始重训")

	// 2. 记录在位模型的基线
	var previous *model.ModelVersion
	if active, err := s.versionRepo.GetActive(ctx); err == nil {
		previous = active
		outcome.PreviousVersionID = active.VersionID
	}
	if prevMAPE, ok := s.recentMAPE(ctx, 7); ok {
		outcome.PreviousMAPE = floatPtr(prevMAPE)
	} else if previous != nil && previous.TestMAPE != nil {
		// 实盘数据不足时用在位模型的测试集MAPE做基线
		outcome.PreviousMAPE = previous.TestMAPE
	}

	// 3. 可选超参搜索 + 训练
	trainOpts := TrainOptions{
		Days:          opts.Days,
		OutlierPolicy: opts.OutlierPolicy,
		CreatedBy:     string(trigger),
	}
	if opts.Tune && s.tuning != nil {
		best, err := s.tuning.Search(ctx, trainOpts.Days, trainOpts.OutlierPolicy)
		if err != nil {
			s.logger.WithError(err).Warn("超参搜索失败，使用默认超参数")
		} else {
			trainOpts.Params = best
		}
	}
	candidate, err := s.training.TrainModel(ctx, trainOpts)
	if err != nil {
		outcome.ElapsedSeconds = int(time.Since(start).Seconds())
		s.appendLog(ctx, start, trigger, details, outcome, model.RetrainFailed, err.Error())
		return nil, fmt.Errorf("重训失败: %w", err)
	}
	outcome.NewVersionID = candidate.VersionID
	outcome.NewMAPE = floatPtr(candidate.TestMAPE)

	// 4. 部署决策
	deploy, decisionReason, improvementPct := s.decide(outcome.PreviousMAPE, candidate.TestMAPE)
	outcome.Reason = decisionReason
	outcome.ImprovementPct = improvementPct

	// 5. 执行决策
	if deploy {
		if err := s.deploy(ctx, previous, candidate); err != nil {
			outcome.ElapsedSeconds = int(time.Since(start).Seconds())
			s.appendLog(ctx, start, trigger, details, outcome, model.RetrainFailed, err.Error())
			return nil, err
		}
		outcome.Decision = model.DecisionDeployed
	} else {
		if err := s.reject(ctx, candidate); err != nil {
			s.logger.WithError(err).Warn("归档被拒绝版本失败")
		}
		outcome.Decision = model.DecisionRejected
	}

	outcome.ElapsedSeconds = int(time.Since(start).Seconds())
	s.appendLog(ctx, start, trigger, details, outcome, model.RetrainCompleted, "")
	metrics.RetrainRuns.WithLabelValues(string(outcome.Decision)).Inc()
	s.logger.WithFields(logrus.Fields{
		"decision": outcome.Decision, "reason": outcome.Reason,
		"new_version": outcome.NewVersionID, "elapsed_s": outcome.ElapsedSeconds,
	}).Info("重训流程结束")
	return outcome, nil
}

// decide 部署决策表。基线缺失（首个模型）时直接部署。
// 改善>=显著阈值或>=轻微阈值都部署；改善不足轻微阈值拒绝；变差拒绝并量化退化幅度。
func (s *RetrainingService) decide(previousMAPE *float64, newMAPE float64) (bool, string, *float64) {
	if previousMAPE == nil || *previousMAPE <= 0 {
		return true, "无在位基线，直接部署首个模型", nil
	}
	improvementPct := (*previousMAPE - newMAPE) / *previousMAPE * 100
	pct := floatPtr(improvementPct)
	switch {
	case improvementPct >= s.cfg.SignificantImprovementPct:
		return true, fmt.Sprintf("显著改善%.1f%%（MAPE %.2f%% -> %.2f%%）",
			improvementPct, *previousMAPE, newMAPE), pct
	case improvementPct >= s.cfg.MinorImprovementPct:
		return true, fmt.Sprintf("轻微改善%.1f%%（MAPE %.2f%% -> %.2f%%）",
			improvementPct, *previousMAPE, newMAPE), pct
	case improvementPct >= 0:
		return false, fmt.Sprintf("改善%.1f%%不足阈值%.1f%%，不值得换版",
			improvementPct, s.cfg.MinorImprovementPct), pct
	default:
		return false, fmt.Sprintf("表现退化%.1f%%（MAPE %.2f%% -> %.2f%%）",
			-improvementPct, *previousMAPE, newMAPE), pct
	}
}

// deploy 换版：归档旧产物、单事务切换版本记录、原子替换内存模型
func (s *RetrainingService) deploy(ctx context.Context, previous *model.ModelVersion, candidate *TrainedCandidate) error {
	archivedPath := ""
	if previous != nil {
		path, err := s.store.Archive(previous.VersionID)
		if err != nil {
			// 产物可能已被人工移动，不阻断换版
			s.logger.WithError(err).WithField("version_id", previous.VersionID).Warn("归档旧产物失败")
		} else {
			archivedPath = path
		}
	}
	if err := s.versionRepo.Promote(ctx, candidate.VersionID, archivedPath); err != nil {
		return fmt.Errorf("切换版本记录失败: %w", err)
	}
	s.registry.Swap(&artifact.LoadedModel{
		VersionID: candidate.VersionID,
		Model:     candidate.Model,
		LoadedAt:  time.Now(),
	})
	return nil
}

// reject 把被拒绝的候选移入rejected目录并标记状态
func (s *RetrainingService) reject(ctx context.Context, candidate *TrainedCandidate) error {
	path, err := s.store.Reject(candidate.VersionID)
	if err != nil {
		path = ""
	}
	return s.versionRepo.MarkRejected(ctx, candidate.VersionID, path)
}

// appendLog 追加审计日志（审计失败只告警，不影响主流程）
func (s *RetrainingService) appendLog(ctx context.Context, start time.Time, trigger model.TriggerType,
	details map[string]interface{}, outcome *RetrainOutcome, status model.RetrainStatus, errMsg string) {
	detailsJSON, _ := json.Marshal(details)
	entry := &model.ModelRetrainingLog{
		RetrainDate:          start,
		TriggerType:          string(trigger),
		TriggerDetails:       detailsJSON,
		PreviousVersionID:    outcome.PreviousVersionID,
		PreviousMAPE:         outcome.PreviousMAPE,
		NewVersionID:         outcome.NewVersionID,
		NewMAPE:              outcome.NewMAPE,
		Decision:             string(outcome.Decision),
		DecisionReason:       outcome.Reason,
		ExecutionTimeSeconds: outcome.ElapsedSeconds,
		Status:               string(status),
		ErrorMessage:         errMsg,
	}
	if outcome.PreviousMAPE != nil && outcome.NewMAPE != nil {
		entry.MAPEImprovement = floatPtr(*outcome.PreviousMAPE - *outcome.NewMAPE)
	}
	if err := s.retrainRepo.Create(ctx, entry); err != nil {
		s.logger.WithError(err).Warn("写入重训审计日志失败")
	}
}
