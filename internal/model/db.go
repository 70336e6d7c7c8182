package model

import (
	"time"

	"gorm.io/datatypes"
)

// Branch 分店/部门（来自POS目录同步，预测的基本单元）
type Branch struct {
	BranchID    string     `gorm:"column:branch_id;primaryKey;type:varchar(64);comment:分店ID（UUID）"`
	ParentID    *string    `gorm:"column:parent_id;type:varchar(64);index;comment:上级部门ID"`
	Code        string     `gorm:"column:code;type:varchar(50);index;comment:分店编码"`
	Name        string     `gorm:"column:name;type:varchar(255);not null;comment:分店名称"`
	Type        string     `gorm:"column:type;type:varchar(50);default:DEPARTMENT;index;comment:组织类型：DEPARTMENT/ORGANIZATION"`
	SegmentType string     `gorm:"column:segment_type;type:varchar(50);comment:业态：coffeehouse/cafe/restaurant等"`
	CreatedAt   time.Time  `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
	SyncedAt    *time.Time `gorm:"column:synced_at;type:timestamp;comment:最近一次目录同步时间"`
}

// SalesSummary 每日销售事实（分店+日期唯一，重新同步时upsert）
type SalesSummary struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	BranchID   string    `gorm:"column:branch_id;type:varchar(64);not null;uniqueIndex:uk_branch_date;comment:分店ID"`
	Date       time.Time `gorm:"column:date;type:date;not null;uniqueIndex:uk_branch_date;index;comment:营业日期"`
	TotalSales float64   `gorm:"column:total_sales;type:numeric(18,2);not null;comment:当日销售总额"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
	SyncedAt   time.Time `gorm:"column:synced_at;type:timestamp;comment:最近一次同步时间"`
}

// Forecast 已产出的预测（供监控与准确率回填）
type Forecast struct {
	ID              uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	BranchID        string    `gorm:"column:branch_id;type:varchar(64);not null;index;comment:分店ID"`
	ForecastDate    time.Time `gorm:"column:forecast_date;type:date;not null;index;comment:预测目标日期"`
	PredictedAmount float64   `gorm:"column:predicted_amount;type:numeric(18,2);not null;comment:预测销售额"`
	ModelVersion    string    `gorm:"column:model_version;type:varchar(64);not null;comment:产出该预测的模型版本"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
}

// ForecastAccuracyLog 预测vs实际对账记录（分店+日期唯一，实际值到位后回填，可重算）
type ForecastAccuracyLog struct {
	ID              uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	BranchID        string    `gorm:"column:branch_id;type:varchar(64);not null;uniqueIndex:uk_acc_branch_date;comment:分店ID"`
	ForecastDate    time.Time `gorm:"column:forecast_date;type:date;not null;uniqueIndex:uk_acc_branch_date;index;comment:预测目标日期"`
	PredictedAmount float64   `gorm:"column:predicted_amount;type:numeric(18,2);not null;comment:预测销售额"`
	ActualAmount    *float64  `gorm:"column:actual_amount;type:numeric(18,2);comment:实际销售额（到位后回填）"`
	MAE             *float64  `gorm:"column:mae;type:numeric(18,2);comment:绝对误差"`
	MAPE            *float64  `gorm:"column:mape;type:numeric(8,2);comment:绝对百分比误差（%）"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
}

// ModelVersion 模型版本元数据（产物本体在文件系统，全局至多一行deployed）
type ModelVersion struct {
	ID              uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	VersionID       string         `gorm:"column:version_id;type:varchar(64);uniqueIndex;not null;comment:版本号（v_时间戳_短uuid）"`
	ModelType       string         `gorm:"column:model_type;type:varchar(64);not null;comment:模型类型"`
	IsActive        bool           `gorm:"column:is_active;type:boolean;default:false;index;comment:是否正在服务"`
	Status          string         `gorm:"column:status;type:varchar(16);default:trained;comment:状态：trained/deployed/rejected/archived"`
	TrainingDate    time.Time      `gorm:"column:training_date;type:timestamp;not null;comment:训练开始时间"`
	TrainingEndDate *time.Time     `gorm:"column:training_end_date;type:timestamp;comment:训练结束时间"`
	DeploymentDate  *time.Time     `gorm:"column:deployment_date;type:timestamp;comment:部署时间"`
	NFeatures       int            `gorm:"column:n_features;type:int;comment:特征数量"`
	NSamples        int            `gorm:"column:n_samples;type:int;comment:训练样本数"`
	TrainingDays    int            `gorm:"column:training_days;type:int;comment:训练取数窗口（天）"`
	OutlierPolicy   string         `gorm:"column:outlier_policy;type:varchar(16);comment:离群值处理策略"`
	Hyperparameters datatypes.JSON `gorm:"column:hyperparameters;type:jsonb;comment:超参数"`
	TrainMAPE       *float64       `gorm:"column:train_mape;type:numeric(8,2);comment:训练集MAPE"`
	ValidationMAPE  *float64       `gorm:"column:validation_mape;type:numeric(8,2);comment:验证集MAPE"`
	TestMAPE        *float64       `gorm:"column:test_mape;type:numeric(8,2);comment:测试集MAPE（对外口径）"`
	TrainR2         *float64       `gorm:"column:train_r2;type:numeric(8,4);comment:训练集R²"`
	ValidationR2    *float64       `gorm:"column:validation_r2;type:numeric(8,4);comment:验证集R²"`
	TestR2          *float64       `gorm:"column:test_r2;type:numeric(8,4);comment:测试集R²"`
	TestMAE         *float64       `gorm:"column:test_mae;type:numeric(18,2);comment:测试集MAE"`
	TestRMSE        *float64       `gorm:"column:test_rmse;type:numeric(18,2);comment:测试集RMSE"`
	TopFeatures     datatypes.JSON `gorm:"column:top_features;type:jsonb;comment:特征重要性Top10"`
	FeatureNames    datatypes.JSON `gorm:"column:feature_names;type:jsonb;comment:特征列清单"`
	ModelPath       string         `gorm:"column:model_path;type:varchar(512);comment:产物存储路径"`
	ModelSizeMB     float64        `gorm:"column:model_size_mb;type:numeric(10,3);comment:产物大小（MB）"`
	CreatedBy       string         `gorm:"column:created_by;type:varchar(32);comment:产生来源（触发类型）"`
	CreatedAt       time.Time      `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
}

// ModelRetrainingLog 重训审计日志（只追加，不修改）
type ModelRetrainingLog struct {
	ID                   uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	RetrainDate          time.Time      `gorm:"column:retrain_date;type:timestamp;not null;index;comment:重训开始时间"`
	TriggerType          string         `gorm:"column:trigger_type;type:varchar(32);not null;comment:触发类型"`
	TriggerDetails       datatypes.JSON `gorm:"column:trigger_details;type:jsonb;comment:触发详情"`
	PreviousVersionID    string         `gorm:"column:previous_version_id;type:varchar(64);comment:原版本号"`
	PreviousMAPE         *float64       `gorm:"column:previous_mape;type:numeric(8,2);comment:原模型近期实盘MAPE"`
	NewVersionID         string         `gorm:"column:new_version_id;type:varchar(64);comment:新版本号"`
	NewMAPE              *float64       `gorm:"column:new_mape;type:numeric(8,2);comment:新模型测试集MAPE"`
	MAPEImprovement      *float64       `gorm:"column:mape_improvement;type:numeric(8,2);comment:MAPE改善量"`
	Decision             string         `gorm:"column:decision;type:varchar(16);comment:决策：deployed/rejected/skipped"`
	DecisionReason       string         `gorm:"column:decision_reason;type:varchar(256);comment:决策原因（含量化百分比）"`
	ExecutionTimeSeconds int            `gorm:"column:execution_time_seconds;type:int;comment:执行耗时（秒）"`
	Status               string         `gorm:"column:status;type:varchar(16);not null;comment:状态：completed/failed"`
	ErrorMessage         string         `gorm:"column:error_message;type:text;comment:失败原因"`
	CreatedAt            time.Time      `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
}

// PostprocessSettings 后处理参数（版本化：更新时停用旧行并插入新行，同一时刻仅一行active）
type PostprocessSettings struct {
	ID                   uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	IsActive             bool           `gorm:"column:is_active;type:boolean;default:true;index;comment:是否当前生效"`
	MaxChangePct         float64        `gorm:"column:max_change_pct;type:numeric(8,2);default:50;comment:平滑最大变化（%）"`
	ZThreshold           float64        `gorm:"column:z_threshold;type:numeric(8,2);default:3;comment:异常z分数阈值"`
	ConfidenceLevel      float64        `gorm:"column:confidence_level;type:numeric(4,3);default:0.95;comment:置信水平"`
	FloorFactor          float64        `gorm:"column:floor_factor;type:numeric(6,3);default:0.1;comment:历史最小值下限系数"`
	CeilingFactor        float64        `gorm:"column:ceiling_factor;type:numeric(6,3);default:2;comment:历史最大值上限系数"`
	WeekendBoost         float64        `gorm:"column:weekend_boost;type:numeric(6,3);default:1.1;comment:周末加成"`
	HolidayBoost         float64        `gorm:"column:holiday_boost;type:numeric(6,3);default:1.15;comment:节假日临近加成"`
	HolidayWindowDays    int            `gorm:"column:holiday_window_days;type:int;default:3;comment:节假日临近窗口（天）"`
	WeekendBoostSegments datatypes.JSON `gorm:"column:weekend_boost_segments;type:jsonb;comment:适用周末加成的业态"`
	CreatedBy            string         `gorm:"column:created_by;type:varchar(64);comment:修改人"`
	CreatedAt            time.Time      `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
}

// ModelPerformanceMetric 每日模型表现指标（同一日期可重算，last write wins）
type ModelPerformanceMetric struct {
	ID               uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Date             time.Time      `gorm:"column:date;type:date;uniqueIndex;not null;comment:指标日期"`
	DailyMAPE        float64        `gorm:"column:daily_mape;type:numeric(8,2);comment:当日平均MAPE（%）"`
	DailyMAE         float64        `gorm:"column:daily_mae;type:numeric(18,2);comment:当日平均MAE"`
	DailyRMSE        float64        `gorm:"column:daily_rmse;type:numeric(18,2);comment:当日RMSE"`
	PredictionsCount int            `gorm:"column:predictions_count;type:int;comment:参与计算的预测条数"`
	PredictionBias   float64        `gorm:"column:prediction_bias;type:numeric(18,2);comment:平均偏差（>0为高估）"`
	MAPEStd          float64        `gorm:"column:mape_std;type:numeric(8,2);comment:MAPE标准差"`
	BestBranchID     string         `gorm:"column:best_branch_id;type:varchar(64);comment:当日表现最好分店"`
	BestBranchMAPE   float64        `gorm:"column:best_branch_mape;type:numeric(8,2);comment:最好分店MAPE"`
	WorstBranchID    string         `gorm:"column:worst_branch_id;type:varchar(64);comment:当日表现最差分店"`
	WorstBranchMAPE  float64        `gorm:"column:worst_branch_mape;type:numeric(8,2);comment:最差分店MAPE"`
	MAPETrend        float64        `gorm:"column:mape_trend;type:numeric(8,2);comment:相对前7天均值的变化量"`
	TrendPercent     float64        `gorm:"column:trend_percent;type:numeric(8,2);comment:相对前7天均值的变化（%）"`
	Alerts           datatypes.JSON `gorm:"column:alerts;type:jsonb;comment:当日触发的告警"`
	ModelVersion     string         `gorm:"column:model_version;type:varchar(64);comment:当日服务的模型版本"`
	CreatedAt        time.Time      `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
}

func (Branch) TableName() string                 { return "branches" }
func (SalesSummary) TableName() string           { return "sales_summary" }
func (Forecast) TableName() string               { return "forecasts" }
func (ForecastAccuracyLog) TableName() string    { return "forecast_accuracy_log" }
func (ModelVersion) TableName() string           { return "model_versions" }
func (ModelRetrainingLog) TableName() string     { return "model_retraining_log" }
func (PostprocessSettings) TableName() string    { return "postprocess_settings" }
func (ModelPerformanceMetric) TableName() string { return "model_performance_metrics" }
