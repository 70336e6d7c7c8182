package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"SalesForecast/internal/config"
	"SalesForecast/internal/feature"
	"SalesForecast/internal/gbrt"
	"SalesForecast/internal/model"

	"github.com/sirupsen/logrus"
)

// TuningService 超参搜索服务：在验证集上随机搜索，受墙钟超时约束。
// 搜索只产出超参数，正式训练仍由 TrainingService 完成并走完整评估。
type TuningService struct {
	training *TrainingService
	cfg      config.TrainingConfig
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewTuningService 创建 TuningService 实例
func NewTuningService(training *TrainingService, cfg config.TrainingConfig, timeout time.Duration, logger *logrus.Logger) *TuningService {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &TuningService{training: training, cfg: cfg, timeout: timeout, logger: logger}
}

// Search 随机顺序遍历候选超参组合，返回验证集MAPE最低的一组。
// 超时或上游取消时返回已评估组合中的最优者；一组都没评估完则报错。
func (s *TuningService) Search(ctx context.Context, days int, policy model.OutlierPolicy) (*gbrt.Params, error) {
	if days <= 0 {
		days = s.cfg.DefaultDays
	}
	if policy == "" {
		policy = model.OutlierPolicy(s.cfg.OutlierPolicy)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// 1. 数据集只构建一次，所有候选组合共用
	split, total, err := s.training.BuildDataset(ctx, days, policy)
	if err != nil {
		return nil, err
	}
	trainX, trainY := feature.Matrix(split.Train)
	valX, valY := feature.Matrix(split.Val)

	candidates := s.candidates()
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	// 2. 逐组评估，超时即停
	var best *gbrt.Params
	bestMAPE := -1.0
	evaluated := 0
	for _, p := range candidates {
		if ctx.Err() != nil {
			s.logger.WithField("evaluated", evaluated).Warn("超参搜索超时，提前结束")
			break
		}
		params := p
		result, err := gbrt.Train(trainX, trainY, valX, valY, feature.Columns(), params)
		if err != nil {
			s.logger.WithError(err).Warn("候选超参训练失败，跳过")
			continue
		}
		valPred, err := result.Model.PredictBatch(valX)
		if err != nil {
			continue
		}
		valMAPE := gbrt.MAPE(valY, valPred)
		evaluated++
		if bestMAPE < 0 || valMAPE < bestMAPE {
			bestMAPE = valMAPE
			best = &params
		}
	}
	if best == nil {
		return nil, fmt.Errorf("超参搜索失败: 没有任何候选组合完成评估")
	}
	s.logger.WithFields(logrus.Fields{
		"samples": total, "evaluated": evaluated, "val_mape": bestMAPE,
		"learning_rate": best.LearningRate, "max_depth": best.MaxDepth,
	}).Info("超参搜索完成")
	return best, nil
}

// candidates 候选超参组合（学习率 × 树深 × 叶样本数）
func (s *TuningService) candidates() []gbrt.Params {
	base := s.training.paramsOrDefault(nil)
	var out []gbrt.Params
	for _, lr := range []float64{0.05, 0.1, 0.15} {
		for _, depth := range []int{3, 5, 7} {
			for _, leaf := range []int{10, 20, 40} {
				p := base
				p.LearningRate = lr
				p.MaxDepth = depth
				p.MinLeafSamples = leaf
				out = append(out, p)
			}
		}
	}
	return out
}
