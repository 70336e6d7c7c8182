package gbrt

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Params 训练超参数
type Params struct {
	NumRounds           int     `json:"num_rounds"`            // 最大迭代轮数
	LearningRate        float64 `json:"learning_rate"`         // 学习率（收缩系数）
	MaxDepth            int     `json:"max_depth"`             // 树最大深度
	MinLeafSamples      int     `json:"min_leaf_samples"`      // 叶节点最少样本数
	EarlyStoppingRounds int     `json:"early_stopping_rounds"` // 验证集连续无改善的早停轮数
}

// DefaultParams 默认超参数
func DefaultParams() Params {
	return Params{
		NumRounds:           100,
		LearningRate:        0.1,
		MaxDepth:            5,
		MinLeafSamples:      20,
		EarlyStoppingRounds: 15,
	}
}

func (p Params) validate() error {
	if p.NumRounds <= 0 {
		return fmt.Errorf("num_rounds 必须为正: %d", p.NumRounds)
	}
	if p.LearningRate <= 0 || p.LearningRate > 1 {
		return fmt.Errorf("learning_rate 必须在(0,1]内: %f", p.LearningRate)
	}
	if p.MaxDepth <= 0 {
		return fmt.Errorf("max_depth 必须为正: %d", p.MaxDepth)
	}
	if p.MinLeafSamples <= 0 {
		return fmt.Errorf("min_leaf_samples 必须为正: %d", p.MinLeafSamples)
	}
	return nil
}

// Model 梯度提升回归树模型（平方误差目标）
type Model struct {
	Params       Params   `json:"params"`
	BaseScore    float64  `json:"base_score"` // 初始预测（训练集标签均值）
	Trees        []*Tree  `json:"trees"`
	FeatureNames []string `json:"feature_names"`
	BestRound    int      `json:"best_round"` // 早停选中的轮数
}

// TrainResult 训练过程记录
type TrainResult struct {
	Model     *Model
	TrainRMSE []float64 // 每轮训练集RMSE
	ValRMSE   []float64 // 每轮验证集RMSE
	Stopped   bool      // 是否早停
}

// Train 训练模型。平方误差目标下负梯度即残差，每轮对残差拟合一棵树。
// 验证集RMSE连续 EarlyStoppingRounds 轮无改善则早停，并回退到最优轮数。
func Train(trainX [][]float64, trainY []float64, valX [][]float64, valY []float64,
	featureNames []string, params Params) (*TrainResult, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(trainX) == 0 || len(trainX) != len(trainY) {
		return nil, fmt.Errorf("训练集非法: x=%d y=%d", len(trainX), len(trainY))
	}
	if len(valX) != len(valY) {
		return nil, fmt.Errorf("验证集非法: x=%d y=%d", len(valX), len(valY))
	}

	base := 0.0
	for _, v := range trainY {
		base += v
	}
	base /= float64(len(trainY))

	m := &Model{Params: params, BaseScore: base, FeatureNames: featureNames}
	result := &TrainResult{Model: m}

	trainPred := make([]float64, len(trainY))
	valPred := make([]float64, len(valY))
	for i := range trainPred {
		trainPred[i] = base
	}
	for i := range valPred {
		valPred[i] = base
	}

	residuals := make([]float64, len(trainY))
	bestValRMSE := -1.0
	bestRound := 0
	sinceImprove := 0

	for round := 0; round < params.NumRounds; round++ {
		for i := range residuals {
			residuals[i] = trainY[i] - trainPred[i]
		}
		tree := buildTree(trainX, residuals, params.MaxDepth, params.MinLeafSamples)
		m.Trees = append(m.Trees, tree)

		for i := range trainPred {
			trainPred[i] += params.LearningRate * tree.Predict(trainX[i])
		}
		result.TrainRMSE = append(result.TrainRMSE, RMSE(trainY, trainPred))

		if len(valY) == 0 {
			bestRound = round + 1
			continue
		}
		for i := range valPred {
			valPred[i] += params.LearningRate * tree.Predict(valX[i])
		}
		valRMSE := RMSE(valY, valPred)
		result.ValRMSE = append(result.ValRMSE, valRMSE)

		if bestValRMSE < 0 || valRMSE < bestValRMSE {
			bestValRMSE = valRMSE
			bestRound = round + 1
			sinceImprove = 0
		} else {
			sinceImprove++
			if params.EarlyStoppingRounds > 0 && sinceImprove >= params.EarlyStoppingRounds {
				result.Stopped = true
				break
			}
		}
	}

	// 回退到验证集最优轮数
	m.Trees = m.Trees[:bestRound]
	m.BestRound = bestRound
	return result, nil
}

// Predict 单样本预测
func (m *Model) Predict(x []float64) (float64, error) {
	if len(m.FeatureNames) > 0 && len(x) != len(m.FeatureNames) {
		return 0, fmt.Errorf("特征维度不匹配: 期望%d 实际%d", len(m.FeatureNames), len(x))
	}
	pred := m.BaseScore
	for _, tree := range m.Trees {
		pred += m.Params.LearningRate * tree.Predict(x)
	}
	return pred, nil
}

// PredictBatch 批量预测
func (m *Model) PredictBatch(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		pred, err := m.Predict(row)
		if err != nil {
			return nil, err
		}
		out[i] = pred
	}
	return out, nil
}

// FeatureImportanceEntry 单特征重要性
type FeatureImportanceEntry struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// FeatureImportance 按切分增益归一化的特征重要性，降序返回前topN个
func (m *Model) FeatureImportance(topN int) []FeatureImportanceEntry {
	n := len(m.FeatureNames)
	gains := make([]float64, n)
	for _, tree := range m.Trees {
		tree.accumulateGain(gains)
	}
	total := 0.0
	for _, g := range gains {
		total += g
	}

	entries := make([]FeatureImportanceEntry, 0, n)
	for i, g := range gains {
		score := 0.0
		if total > 0 {
			score = g / total
		}
		entries = append(entries, FeatureImportanceEntry{Name: m.FeatureNames[i], Importance: score})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Importance > entries[j].Importance })
	if topN > 0 && topN < len(entries) {
		entries = entries[:topN]
	}
	return entries
}

// Marshal 序列化为JSON（模型产物格式）
func (m *Model) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("模型序列化失败: %w", err)
	}
	return data, nil
}

// Unmarshal 从JSON产物加载模型
func Unmarshal(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("模型反序列化失败: %w", err)
	}
	if m.Params.LearningRate <= 0 {
		return nil, fmt.Errorf("模型产物损坏: learning_rate=%f", m.Params.LearningRate)
	}
	return &m, nil
}
