package scheduler

import (
	"context"
	"fmt"
	"time"

	"SalesForecast/internal/config"
	"SalesForecast/internal/metrics"
	"SalesForecast/internal/model"
	"SalesForecast/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler 定时任务编排：每日同步+预测、每日指标、每周重训、缺口回补。
// 任务本身幂等（落库均为upsert/单飞），cron错过或重复触发不产生脏数据。
type Scheduler struct {
	cron       *cron.Cron
	cfg        config.ScheduleConfig
	sync       *service.SyncService
	forecast   *service.ForecastService
	monitoring *service.MonitoringService
	retraining *service.RetrainingService
	horizon    int
	logger     *logrus.Logger
}

// NewScheduler 创建 Scheduler 实例
func NewScheduler(
	cfg config.ScheduleConfig,
	syncSvc *service.SyncService,
	forecastSvc *service.ForecastService,
	monitoringSvc *service.MonitoringService,
	retrainingSvc *service.RetrainingService,
	horizonDays int,
	logger *logrus.Logger,
) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		cfg:        cfg,
		sync:       syncSvc,
		forecast:   forecastSvc,
		monitoring: monitoringSvc,
		retraining: retrainingSvc,
		horizon:    horizonDays,
		logger:     logger,
	}
}

// Start 注册启用的任务并启动cron
func (s *Scheduler) Start() error {
	specs := map[model.JobType]string{
		model.JobDailySync:     s.cfg.DailySyncCron,
		model.JobDailyMetrics:  s.cfg.DailyMetricsCron,
		model.JobWeeklyRetrain: s.cfg.WeeklyRetrainCron,
		model.JobGapFill:       s.cfg.GapFillCron,
	}
	for _, name := range s.cfg.EnabledJobs {
		job := model.JobType(name)
		spec, ok := specs[job]
		if !ok {
			return fmt.Errorf("未知的定时任务: %s", name)
		}
		j := job
		if _, err := s.cron.AddFunc(spec, func() { s.runJob(j) }); err != nil {
			return fmt.Errorf("注册定时任务 %s 失败: %w", name, err)
		}
		s.logger.WithFields(logrus.Fields{"job": name, "cron": spec}).Info("定时任务已注册")
	}
	s.cron.Start()
	return nil
}

// Stop 停止cron并等待在途任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce 立即执行一次指定任务（运维手动触发）
func (s *Scheduler) RunOnce(job model.JobType) error {
	return s.execute(context.Background(), job)
}

func (s *Scheduler) runJob(job model.JobType) {
	start := time.Now()
	err := s.execute(context.Background(), job)
	result := "ok"
	if err != nil {
		result = "error"
		s.logger.WithError(err).WithField("job", job).Error("定时任务执行失败")
	}
	metrics.ScheduledJobRuns.WithLabelValues(string(job), result).Inc()
	s.logger.WithFields(logrus.Fields{
		"job": job, "elapsed": time.Since(start).Round(time.Second).String(), "result": result,
	}).Info("定时任务执行结束")
}

func (s *Scheduler) execute(ctx context.Context, job model.JobType) error {
	today := time.Now().Truncate(24 * time.Hour)
	switch job {
	case model.JobDailySync:
		// 先同步前一天销售，再生成未来horizon天的预测
		if _, err := s.sync.SyncDaily(ctx); err != nil {
			return err
		}
		_, err := s.forecast.ProcessAll(ctx, today, s.horizon)
		return err
	case model.JobDailyMetrics:
		_, err := s.monitoring.ComputeDailyMetrics(ctx, today.AddDate(0, 0, -1))
		return err
	case model.JobWeeklyRetrain:
		_, err := s.retraining.Retrain(ctx, model.TriggerScheduled, service.RetrainOptions{})
		return err
	case model.JobGapFill:
		_, err := s.sync.FillGaps(ctx, 30)
		return err
	default:
		return fmt.Errorf("未知的定时任务: %s", job)
	}
}
