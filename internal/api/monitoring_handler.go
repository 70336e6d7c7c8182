package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"
	"SalesForecast/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MonitoringHandler 监控与模型生命周期接口
type MonitoringHandler struct {
	monitoring    *service.MonitoringService
	errorAnalysis *service.ErrorAnalysisService
	postprocess   *service.PostprocessService
	tasks         *service.TaskManager
	retrainRepo   repository.RetrainLogRepository
	logger        *logrus.Logger
}

// NewMonitoringHandler 创建 MonitoringHandler
func NewMonitoringHandler(
	monitoring *service.MonitoringService,
	errorAnalysis *service.ErrorAnalysisService,
	postprocess *service.PostprocessService,
	tasks *service.TaskManager,
	retrainRepo repository.RetrainLogRepository,
	logger *logrus.Logger,
) *MonitoringHandler {
	return &MonitoringHandler{
		monitoring:    monitoring,
		errorAnalysis: errorAnalysis,
		postprocess:   postprocess,
		tasks:         tasks,
		retrainRepo:   retrainRepo,
		logger:        logger,
	}
}

// Health 模型健康检查
// GET /api/monitoring/health
func (h *MonitoringHandler) Health(c *gin.Context) {
	report, err := h.monitoring.CheckModelHealth(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("健康检查失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// DailyMetrics 查询某日指标
// GET /api/monitoring/metrics/daily?date=2025-08-28
func (h *MonitoringHandler) DailyMetrics(c *gin.Context) {
	dateStr := c.DefaultQuery("date", time.Now().AddDate(0, 0, -1).Format("2006-01-02"))
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "非法的日期格式，应为YYYY-MM-DD"})
		return
	}
	metric, err := h.monitoring.ComputeDailyMetrics(c.Request.Context(), date)
	if err != nil {
		h.logger.WithError(err).WithField("date", dateStr).Error("计算每日指标失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, metric)
}

// Summary 近期表现汇总
// GET /api/monitoring/summary?days=30
func (h *MonitoringHandler) Summary(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	summary, err := h.monitoring.Summary(c.Request.Context(), days)
	if err != nil {
		h.logger.WithError(err).Error("查询表现汇总失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ErrorAnalysis 误差切片分析
// GET /api/monitoring/errors?days=30&top=10
func (h *MonitoringHandler) ErrorAnalysis(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	topN, _ := strconv.Atoi(c.DefaultQuery("top", "10"))
	report, err := h.errorAnalysis.Analyze(c.Request.Context(), days, topN)
	if err != nil {
		h.logger.WithError(err).Error("误差分析失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

type retrainRequest struct {
	Days          int    `json:"days"`
	OutlierPolicy string `json:"outlier_policy"`
	Tune          bool   `json:"tune"`
}

// TriggerRetrain 手动触发异步重训，立即返回task_id
// POST /api/monitoring/retrain
func (h *MonitoringHandler) TriggerRetrain(c *gin.Context) {
	var req retrainRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task := h.tasks.StartRetrain(model.TriggerManual, service.RetrainOptions{
		Days:          req.Days,
		OutlierPolicy: model.OutlierPolicy(req.OutlierPolicy),
		Tune:          req.Tune,
	})
	c.JSON(http.StatusAccepted, task)
}

// RetrainStatus 查询异步重训任务状态
// GET /api/monitoring/retrain/status/:task_id
func (h *MonitoringHandler) RetrainStatus(c *gin.Context) {
	task, ok := h.tasks.Get(c.Param("task_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在（进程重启后任务记录丢失，历史以重训日志为准）"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// RetrainHistory 重训历史（审计日志）
// GET /api/monitoring/retrain/history?limit=20
func (h *MonitoringHandler) RetrainHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	entries, err := h.retrainRepo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("查询重训历史失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// GetSettings 当前生效的后处理参数
// GET /api/settings/postprocess
func (h *MonitoringHandler) GetSettings(c *gin.Context) {
	settings, err := h.postprocess.EffectiveSettings(c.Request.Context())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "无后处理参数"})
			return
		}
		h.logger.WithError(err).Error("查询后处理参数失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

type updateSettingsRequest struct {
	service.PostprocessSettings
	UpdatedBy string `json:"updated_by"`
}

// UpdateSettings 更新后处理参数（版本化轮换）
// PUT /api/settings/postprocess
func (h *MonitoringHandler) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UpdatedBy == "" {
		req.UpdatedBy = "api"
	}
	if err := h.postprocess.UpdateSettings(c.Request.Context(), &req.PostprocessSettings, req.UpdatedBy); err != nil {
		h.logger.WithError(err).Error("更新后处理参数失败")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settings, err := h.postprocess.EffectiveSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"updated": true})
		return
	}
	c.JSON(http.StatusOK, settings)
}
