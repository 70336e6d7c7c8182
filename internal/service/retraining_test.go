package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"SalesForecast/internal/artifact"
	"SalesForecast/internal/config"
	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"
)

type retrainFixture struct {
	db       *gorm.DB
	svc      *RetrainingService
	registry *artifact.Registry
}

func newRetrainFixture(t *testing.T) *retrainFixture {
	t.Helper()
	db := setupDB(t)
	cal := newTestCalendar(t)
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	registry := artifact.NewRegistry()

	// 小规模训练参数，让端到端用例跑得快
	trainingCfg := config.TrainingConfig{
		DefaultDays:         180,
		ValFraction:         0.15,
		TestFraction:        0.15,
		MinSamples:          50,
		OutlierPolicy:       "winsorize",
		NumRounds:           30,
		LearningRate:        0.1,
		MaxDepth:            4,
		MinLeafSamples:      5,
		EarlyStoppingRounds: 10,
	}
	versionRepo := repository.NewModelVersionRepository(db)
	training := NewTrainingService(
		repository.NewBranchRepository(db),
		repository.NewSalesRepository(db),
		versionRepo, store, cal, trainingCfg, quietLogger())
	svc := NewRetrainingService(
		training, nil, versionRepo,
		repository.NewRetrainLogRepository(db),
		repository.NewAccuracyRepository(db),
		repository.NewForecastRepository(db),
		store, registry, defaultRetrainConfig(), quietLogger())
	return &retrainFixture{db: db, svc: svc, registry: registry}
}

func (f *retrainFixture) seedActiveModel(t *testing.T, trainedDaysAgo int, testMAPE float64) {
	t.Helper()
	require.NoError(t, f.db.Create(&model.ModelVersion{
		VersionID:    "v_20250101_000000_deadbeef",
		ModelType:    "gradient_boosting",
		IsActive:     true,
		Status:       string(model.ModelStatusDeployed),
		TrainingDate: time.Now().AddDate(0, 0, -trainedDaysAgo),
		TestMAPE:     floatPtr(testMAPE),
	}).Error)
}

// seedAccuracy 在最近几天写入已回填的对账记录，平均MAPE=mape
func (f *retrainFixture) seedAccuracy(t *testing.T, mape float64) {
	t.Helper()
	now := time.Now().Truncate(24 * time.Hour)
	for i := 1; i <= 3; i++ {
		require.NoError(t, f.db.Create(&model.ForecastAccuracyLog{
			BranchID:        "b1",
			ForecastDate:    now.AddDate(0, 0, -i),
			PredictedAmount: 100000,
			ActualAmount:    floatPtr(100000),
			MAE:             floatPtr(0),
			MAPE:            floatPtr(mape),
		}).Error)
	}
}

func TestDecideDecisionTable(t *testing.T) {
	f := newRetrainFixture(t)

	cases := []struct {
		name     string
		previous *float64
		newMAPE  float64
		deploy   bool
	}{
		{"无基线直接部署", nil, 12.0, true},
		{"基线非法视为无基线", floatPtr(0), 12.0, true},
		{"显著改善", floatPtr(10.0), 9.0, true},   // 改善10%
		{"轻微改善", floatPtr(10.0), 9.8, true},   // 改善2%
		{"改善可忽略", floatPtr(10.0), 9.95, false}, // 改善0.5%
		{"表现退化", floatPtr(10.0), 12.0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deploy, reason, _ := f.svc.decide(tc.previous, tc.newMAPE)
			assert.Equal(t, tc.deploy, deploy)
			assert.NotEmpty(t, reason)
		})
	}

	// 决策原因须带量化幅度
	_, reason, pct := f.svc.decide(floatPtr(10.0), 9.0)
	require.NotNil(t, pct)
	assert.InDelta(t, 10, *pct, 1e-9)
	assert.Contains(t, reason, "显著改善")

	_, reason, _ = f.svc.decide(floatPtr(10.0), 12.0)
	assert.Contains(t, reason, "退化")
}

func TestShouldRetrainManualAlways(t *testing.T) {
	f := newRetrainFixture(t)
	should, reason, _ := f.svc.ShouldRetrain(context.Background(), model.TriggerManual)
	assert.True(t, should)
	assert.Equal(t, "手动触发", reason)
}

func TestShouldRetrainNoActiveModel(t *testing.T) {
	f := newRetrainFixture(t)
	should, reason, _ := f.svc.ShouldRetrain(context.Background(), model.TriggerScheduled)
	assert.True(t, should)
	assert.Equal(t, "无在役模型", reason)
}

func TestShouldRetrainFreshModelSkips(t *testing.T) {
	f := newRetrainFixture(t)
	f.seedActiveModel(t, 5, 8.0)
	should, reason, details := f.svc.ShouldRetrain(context.Background(), model.TriggerScheduled)
	assert.False(t, should)
	assert.Equal(t, "未达到任何重训条件", reason)
	assert.Equal(t, 5, details["model_age_days"])
}

func TestShouldRetrainAgedModel(t *testing.T) {
	f := newRetrainFixture(t)
	f.seedActiveModel(t, 40, 8.0)
	should, reason, _ := f.svc.ShouldRetrain(context.Background(), model.TriggerScheduled)
	assert.True(t, should)
	assert.Contains(t, reason, "模型年龄40天")
}

func TestShouldRetrainHighRecentMAPE(t *testing.T) {
	f := newRetrainFixture(t)
	f.seedActiveModel(t, 5, 8.0)
	f.seedAccuracy(t, 12.0) // 超过scheduled阈值10%
	should, reason, details := f.svc.ShouldRetrain(context.Background(), model.TriggerScheduled)
	assert.True(t, should)
	assert.Contains(t, reason, "MAPE")
	assert.InDelta(t, 12.0, details["recent_mape"].(float64), 1e-9)
}

func TestShouldRetrainDegradationTrigger(t *testing.T) {
	f := newRetrainFixture(t)
	f.seedActiveModel(t, 5, 8.0)

	// 未达恶化阈值（15%）不触发
	f.seedAccuracy(t, 12.0)
	should, _, _ := f.svc.ShouldRetrain(context.Background(), model.TriggerDegradation)
	assert.False(t, should)

	// 拉高近期MAPE后触发
	require.NoError(t, f.db.Exec("UPDATE forecast_accuracy_log SET mape = ?", 20.0).Error)
	should, reason, _ := f.svc.ShouldRetrain(context.Background(), model.TriggerDegradation)
	assert.True(t, should)
	assert.Contains(t, reason, "恶化")
}

func TestRetrainSkippedWritesAuditLog(t *testing.T) {
	f := newRetrainFixture(t)
	f.seedActiveModel(t, 5, 8.0)

	outcome, err := f.svc.Retrain(context.Background(), model.TriggerScheduled, RetrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionSkipped, outcome.Decision)

	var entry model.ModelRetrainingLog
	require.NoError(t, f.db.Order("id DESC").First(&entry).Error)
	assert.Equal(t, string(model.DecisionSkipped), entry.Decision)
	assert.Equal(t, string(model.RetrainCompleted), entry.Status)
	assert.Equal(t, string(model.TriggerScheduled), entry.TriggerType)
}

func TestRetrainFirstModelDeploysEndToEnd(t *testing.T) {
	f := newRetrainFixture(t)
	cal := newTestCalendar(t)
	ctx := context.Background()

	seedBranch(t, f.db, "b1", "Coffee Almaty", "coffeehouse")
	today := time.Now().Truncate(24 * time.Hour)
	seedSales(t, f.db, cal, "b1", today.AddDate(0, 0, -130), 130, 100000, 140000)

	outcome, err := f.svc.Retrain(ctx, model.TriggerManual, RetrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionDeployed, outcome.Decision)
	assert.NotEmpty(t, outcome.NewVersionID)
	assert.Nil(t, outcome.ImprovementPct, "首个模型无改善幅度")

	// 版本记录已激活，内存注册表指向新版本
	var active model.ModelVersion
	require.NoError(t, f.db.Where("is_active = ?", true).First(&active).Error)
	assert.Equal(t, outcome.NewVersionID, active.VersionID)
	assert.Equal(t, string(model.ModelStatusDeployed), active.Status)
	assert.NotNil(t, active.DeploymentDate)

	loaded, ok := f.registry.Get()
	require.True(t, ok)
	assert.Equal(t, outcome.NewVersionID, loaded.VersionID)

	// 审计日志落档
	var logCount int64
	require.NoError(t, f.db.Table("model_retraining_log").
		Where("decision = ?", string(model.DecisionDeployed)).Count(&logCount).Error)
	assert.Equal(t, int64(1), logCount)
}

func TestRetrainRejectsDegradedCandidate(t *testing.T) {
	f := newRetrainFixture(t)
	cal := newTestCalendar(t)
	ctx := context.Background()

	seedBranch(t, f.db, "b1", "Coffee Almaty", "coffeehouse")
	today := time.Now().Truncate(24 * time.Hour)
	seedSales(t, f.db, cal, "b1", today.AddDate(0, 0, -130), 130, 100000, 140000)

	// 在位模型近期实盘MAPE极低，新候选不可能打败它
	f.seedActiveModel(t, 5, 0.001)
	f.seedAccuracy(t, 0.001)

	outcome, err := f.svc.Retrain(ctx, model.TriggerManual, RetrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, outcome.Decision)

	// 在位版本不受影响，候选标记为rejected
	var active model.ModelVersion
	require.NoError(t, f.db.Where("is_active = ?", true).First(&active).Error)
	assert.Equal(t, "v_20250101_000000_deadbeef", active.VersionID)

	var candidate model.ModelVersion
	require.NoError(t, f.db.Where("version_id = ?", outcome.NewVersionID).First(&candidate).Error)
	assert.Equal(t, string(model.ModelStatusRejected), candidate.Status)
	assert.False(t, candidate.IsActive)
}
