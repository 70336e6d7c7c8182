package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"SalesForecast/internal/artifact"
	"SalesForecast/internal/config"
	"SalesForecast/internal/feature"
	"SalesForecast/internal/gbrt"
	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"

	"github.com/sirupsen/logrus"
)

// TrainingService 模型训练服务：取数、特征构建、训练、评估、产物落盘、版本登记
type TrainingService struct {
	branchRepo  repository.BranchRepository
	salesRepo   repository.SalesRepository
	versionRepo repository.ModelVersionRepository
	store       *artifact.Store
	cal         *feature.Calendar
	cfg         config.TrainingConfig
	logger      *logrus.Logger
}

// NewTrainingService 创建 TrainingService 实例
func NewTrainingService(
	branchRepo repository.BranchRepository,
	salesRepo repository.SalesRepository,
	versionRepo repository.ModelVersionRepository,
	store *artifact.Store,
	cal *feature.Calendar,
	cfg config.TrainingConfig,
	logger *logrus.Logger,
) *TrainingService {
	return &TrainingService{
		branchRepo:  branchRepo,
		salesRepo:   salesRepo,
		versionRepo: versionRepo,
		store:       store,
		cal:         cal,
		cfg:         cfg,
		logger:      logger,
	}
}

// TrainOptions 单次训练的参数。零值字段回退到配置默认值。
type TrainOptions struct {
	Days          int                 // 取数窗口（天）
	OutlierPolicy model.OutlierPolicy // 离群值处理策略
	Params        *gbrt.Params        // 超参数（nil时用配置默认）
	CreatedBy     string              // 产生来源（触发类型）
}

// TrainedCandidate 训练产出的候选模型
type TrainedCandidate struct {
	VersionID string
	Model     *gbrt.Model
	Record    *model.ModelVersion
	TestMAPE  float64
	TestMAE   float64
	TestRMSE  float64
	TestR2    float64
	NSamples  int
}

// TrainModel 执行一次完整训练，返回候选模型（状态trained，不做部署决策）
func (s *TrainingService) TrainModel(ctx context.Context, opts TrainOptions) (*TrainedCandidate, error) {
	start := time.Now()
	days := opts.Days
	if days <= 0 {
		days = s.cfg.DefaultDays
	}
	policy := opts.OutlierPolicy
	if policy == "" {
		policy = model.OutlierPolicy(s.cfg.OutlierPolicy)
	}
	params := s.paramsOrDefault(opts.Params)

	// 1. 取数 + 特征构建 + 时间切分
	split, total, err := s.BuildDataset(ctx, days, policy)
	if err != nil {
		return nil, err
	}
	trainX, trainY := feature.Matrix(split.Train)
	valX, valY := feature.Matrix(split.Val)
	testX, testY := feature.Matrix(split.Test)

	// 2. 训练
	s.logger.WithFields(logrus.Fields{
		"train": len(trainY), "val": len(valY), "test": len(testY),
		"days": days, "policy": policy,
	}).Info("开始训练模型")
	result, err := gbrt.Train(trainX, trainY, valX, valY, feature.Columns(), params)
	if err != nil {
		return nil, fmt.Errorf("模型训练失败: %w", err)
	}
	m := result.Model

	// 3. 各数据集评估
	trainPred, err := m.PredictBatch(trainX)
	if err != nil {
		return nil, err
	}
	valPred, err := m.PredictBatch(valX)
	if err != nil {
		return nil, err
	}
	testPred, err := m.PredictBatch(testX)
	if err != nil {
		return nil, err
	}

	// 4. 产物落盘
	versionID := artifact.NewVersionID(start)
	path, sizeMB, err := s.store.Save(versionID, m)
	if err != nil {
		return nil, err
	}

	// 5. 版本登记
	hyperJSON, _ := json.Marshal(params)
	topJSON, _ := json.Marshal(m.FeatureImportance(10))
	namesJSON, _ := json.Marshal(feature.Columns())
	end := time.Now()
	record := &model.ModelVersion{
		VersionID:       versionID,
		ModelType:       "gbrt_regression",
		IsActive:        false,
		Status:          string(model.ModelStatusTrained),
		TrainingDate:    start,
		TrainingEndDate: &end,
		NFeatures:       feature.NumColumns(),
		NSamples:        total,
		TrainingDays:    days,
		OutlierPolicy:   string(policy),
		Hyperparameters: hyperJSON,
		TrainMAPE:       floatPtr(gbrt.MAPE(trainY, trainPred)),
		ValidationMAPE:  floatPtr(gbrt.MAPE(valY, valPred)),
		TestMAPE:        floatPtr(gbrt.MAPE(testY, testPred)),
		TrainR2:         floatPtr(gbrt.R2(trainY, trainPred)),
		ValidationR2:    floatPtr(gbrt.R2(valY, valPred)),
		TestR2:          floatPtr(gbrt.R2(testY, testPred)),
		TestMAE:         floatPtr(gbrt.MAE(testY, testPred)),
		TestRMSE:        floatPtr(gbrt.RMSE(testY, testPred)),
		TopFeatures:     topJSON,
		FeatureNames:    namesJSON,
		ModelPath:       path,
		ModelSizeMB:     sizeMB,
		CreatedBy:       opts.CreatedBy,
	}
	if err := s.versionRepo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("登记模型版本失败: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"version_id": versionID,
		"test_mape":  *record.TestMAPE,
		"rounds":     m.BestRound,
		"elapsed":    end.Sub(start).Round(time.Second).String(),
	}).Info("模型训练完成")

	return &TrainedCandidate{
		VersionID: versionID,
		Model:     m,
		Record:    record,
		TestMAPE:  *record.TestMAPE,
		TestMAE:   *record.TestMAE,
		TestRMSE:  *record.TestRMSE,
		TestR2:    *record.TestR2,
		NSamples:  total,
	}, nil
}

// BuildDataset 取数并构建按时间切分的训练数据集，返回切分结果与总样本数。
// 每个分店的滚动特征只看各自分店的历史；全部分店的特征行合并后按日期
// 全局排序再做严格时间切分。
func (s *TrainingService) BuildDataset(ctx context.Context, days int, policy model.OutlierPolicy) (*feature.Split, int, error) {
	branches, err := s.branchRepo.ListDepartments(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("拉取分店列表失败: %w", err)
	}
	until := time.Now().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	since := until.AddDate(0, 0, -days)

	var pooled []feature.Row
	for _, b := range branches {
		rows, err := s.salesRepo.ListByBranch(ctx, b.BranchID, since, until)
		if err != nil {
			return nil, 0, fmt.Errorf("拉取分店 %s 销售数据失败: %w", b.BranchID, err)
		}
		obs := observationsFromSales(rows)
		obs = feature.ApplyOutlierPolicy(obs, policy)
		branchRows := feature.BuildSeriesRows(branchInfo(b), obs, s.cal, false)
		for _, r := range branchRows {
			if r.Valid {
				pooled = append(pooled, r)
			}
		}
	}
	if len(pooled) < s.cfg.MinSamples {
		return nil, 0, fmt.Errorf("训练样本不足: %d < %d", len(pooled), s.cfg.MinSamples)
	}

	sort.Slice(pooled, func(i, j int) bool { return pooled[i].Date.Before(pooled[j].Date) })
	split, err := feature.ChronoSplit(pooled, s.cfg.ValFraction, s.cfg.TestFraction)
	if err != nil {
		return nil, 0, fmt.Errorf("数据集切分失败: %w", err)
	}
	return split, len(pooled), nil
}

func (s *TrainingService) paramsOrDefault(p *gbrt.Params) gbrt.Params {
	if p != nil {
		return *p
	}
	params := gbrt.DefaultParams()
	if s.cfg.NumRounds > 0 {
		params.NumRounds = s.cfg.NumRounds
	}
	if s.cfg.LearningRate > 0 {
		params.LearningRate = s.cfg.LearningRate
	}
	if s.cfg.MaxDepth > 0 {
		params.MaxDepth = s.cfg.MaxDepth
	}
	if s.cfg.MinLeafSamples > 0 {
		params.MinLeafSamples = s.cfg.MinLeafSamples
	}
	if s.cfg.EarlyStoppingRounds > 0 {
		params.EarlyStoppingRounds = s.cfg.EarlyStoppingRounds
	}
	return params
}

// observationsFromSales 销售事实转特征观测
func observationsFromSales(rows []*model.SalesSummary) []feature.Observation {
	obs := make([]feature.Observation, len(rows))
	for i, r := range rows {
		obs[i] = feature.Observation{Date: r.Date, TotalSales: r.TotalSales}
	}
	return obs
}

// branchInfo 分店实体转特征输入
func branchInfo(b *model.Branch) feature.BranchInfo {
	return feature.BranchInfo{
		BranchID:    b.BranchID,
		Code:        b.Code,
		Name:        b.Name,
		Type:        b.Type,
		SegmentType: b.SegmentType,
	}
}

func floatPtr(v float64) *float64 { return &v }
