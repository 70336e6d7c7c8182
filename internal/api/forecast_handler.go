package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"SalesForecast/internal/artifact"
	"SalesForecast/internal/repository"
	"SalesForecast/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ForecastHandler 预测相关接口
type ForecastHandler struct {
	forecastService *service.ForecastService
	versionRepo     repository.ModelVersionRepository
	registry        *artifact.Registry
	logger          *logrus.Logger
}

// NewForecastHandler 创建 ForecastHandler
func NewForecastHandler(
	forecastService *service.ForecastService,
	versionRepo repository.ModelVersionRepository,
	registry *artifact.Registry,
	logger *logrus.Logger,
) *ForecastHandler {
	return &ForecastHandler{
		forecastService: forecastService,
		versionRepo:     versionRepo,
		registry:        registry,
		logger:          logger,
	}
}

// GetForecast 单分店单日预测
// GET /api/forecast/:date/:branch_id
func (h *ForecastHandler) GetForecast(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "非法的日期格式，应为YYYY-MM-DD"})
		return
	}
	branchID := c.Param("branch_id")

	result, err := h.forecastService.Forecast(c.Request.Context(), branchID, date)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "分店不存在"})
			return
		}
		h.logger.WithError(err).WithField("branch_id", branchID).Error("生成预测失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type batchForecastRequest struct {
	Date      string   `json:"date" binding:"required"`
	BranchIDs []string `json:"branch_ids" binding:"required,min=1"`
}

// BatchForecast 批量预测
// POST /api/forecast/batch
func (h *ForecastHandler) BatchForecast(c *gin.Context) {
	var req batchForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "非法的日期格式，应为YYYY-MM-DD"})
		return
	}
	items, err := h.forecastService.BatchForecast(c.Request.Context(), req.BranchIDs, date)
	if err != nil {
		h.logger.WithError(err).Error("批量预测失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": req.Date, "items": items})
}

type processRequest struct {
	StartDate   string `json:"start_date"`   // 默认今天
	HorizonDays int    `json:"horizon_days"` // 默认配置值
}

// Process 为全部分店生成未来预测并落库
// POST /api/forecast/process
func (h *ForecastHandler) Process(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now().Truncate(24 * time.Hour)
	if req.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "非法的日期格式，应为YYYY-MM-DD"})
			return
		}
		start = parsed
	}
	report, err := h.forecastService.ProcessAll(c.Request.Context(), start, req.HorizonDays)
	if err != nil {
		h.logger.WithError(err).Error("全量预测任务失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ModelInfo 在役模型信息
// GET /api/model/info
func (h *ForecastHandler) ModelInfo(c *gin.Context) {
	active, err := h.versionRepo.GetActive(c.Request.Context())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{"active": false, "message": "无在役模型，预测使用启发式降级"})
			return
		}
		h.logger.WithError(err).Error("查询在役模型失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	info := gin.H{
		"active":         true,
		"version_id":     active.VersionID,
		"model_type":     active.ModelType,
		"status":         active.Status,
		"training_date":  active.TrainingDate,
		"n_features":     active.NFeatures,
		"n_samples":      active.NSamples,
		"training_days":  active.TrainingDays,
		"outlier_policy": active.OutlierPolicy,
		"test_mape":      active.TestMAPE,
		"test_r2":        active.TestR2,
		"test_mae":       active.TestMAE,
		"test_rmse":      active.TestRMSE,
		"model_size_mb":  active.ModelSizeMB,
	}
	if len(active.TopFeatures) > 0 {
		var top interface{}
		if err := json.Unmarshal(active.TopFeatures, &top); err == nil {
			info["top_features"] = top
		}
	}
	if loaded, ok := h.registry.Get(); ok {
		info["loaded_version"] = loaded.VersionID
		info["loaded_at"] = loaded.LoadedAt
	}
	c.JSON(http.StatusOK, info)
}

// ListVersions 模型版本历史
// GET /api/model/versions?limit=20
func (h *ForecastHandler) ListVersions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	versions, err := h.versionRepo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("查询版本历史失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}
