package model

// OutlierPolicy 训练取数时的离群值处理策略
type OutlierPolicy string

const (
	OutlierNone          OutlierPolicy = "none"           // 不处理
	OutlierWinsorize     OutlierPolicy = "winsorize"      // 按IQR边界截断
	OutlierPercentileCap OutlierPolicy = "percentile_cap" // 按5/95分位截断
	OutlierRemove        OutlierPolicy = "remove"         // 直接剔除
)

// ModelStatus 模型版本状态
type ModelStatus string

const (
	ModelStatusTrained  ModelStatus = "trained"  // 已训练，尚未决策
	ModelStatusDeployed ModelStatus = "deployed" // 正在服务（全局至多一个）
	ModelStatusRejected ModelStatus = "rejected" // 评估未通过，仅留档
	ModelStatusArchived ModelStatus = "archived" // 曾经部署，被新版本替换
)

// TriggerType 重训触发类型
type TriggerType string

const (
	TriggerScheduled   TriggerType = "scheduled"               // 定时触发
	TriggerManual      TriggerType = "manual"                  // 手动触发
	TriggerDegradation TriggerType = "performance_degradation" // 性能恶化触发
)

// RetrainStatus 重训尝试状态
type RetrainStatus string

const (
	RetrainCompleted RetrainStatus = "completed" // 正常走完（含deploy/reject/skip）
	RetrainFailed    RetrainStatus = "failed"    // 训练或评估过程出错
)

// Decision 部署决策
type Decision string

const (
	DecisionDeployed Decision = "deployed" // 候选模型上线
	DecisionRejected Decision = "rejected" // 候选模型拒绝
	DecisionSkipped  Decision = "skipped"  // 未达到重训条件
)

// JobType 定时任务类型
type JobType string

const (
	JobDailyMetrics  JobType = "daily_metrics"  // 每日指标计算
	JobWeeklyRetrain JobType = "weekly_retrain" // 每周定时重训
	JobDailySync     JobType = "daily_sync"     // 每日销售同步
	JobGapFill       JobType = "gap_fill"       // 历史缺口回补
)

// HealthStatus 模型健康状态（取各检查项中最差的一项）
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// Worse 返回两个健康状态中较差的一个（critical > warning > healthy）
func (h HealthStatus) Worse(other HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthHealthy: 0, HealthWarning: 1, HealthCritical: 2}
	if rank[other] > rank[h] {
		return other
	}
	return h
}
