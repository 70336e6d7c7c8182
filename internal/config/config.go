package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`      // 服务器配置
	Postgres    PostgresConfig    `mapstructure:"postgres"`    // PostgreSQL配置
	Models      ModelsConfig      `mapstructure:"models"`      // 模型产物存储配置
	Forecast    ForecastConfig    `mapstructure:"forecast"`    // 预测服务配置
	Training    TrainingConfig    `mapstructure:"training"`    // 训练配置
	Postprocess PostprocessConfig `mapstructure:"postprocess"` // 预测后处理默认值
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`  // 监控阈值
	Retrain     RetrainConfig     `mapstructure:"retrain"`     // 重训策略
	Calendar    CalendarConfig    `mapstructure:"calendar"`    // 节假日/周末日历
	Schedule    ScheduleConfig    `mapstructure:"schedule"`    // 定时任务配置
	POS         POSConfig         `mapstructure:"pos"`         // POS数据源配置
}

// POSConfig POS数据源配置
type POSConfig struct {
	BaseURL        string `mapstructure:"base_url"`        // 接口地址
	Token          string `mapstructure:"token"`           // 访问令牌
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 请求超时（秒）
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// PostgresConfig PostgreSQL数据库配置
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// ModelsConfig 模型产物存储配置
type ModelsConfig struct {
	Dir string `mapstructure:"dir"` // 产物根目录
}

// ForecastConfig 预测服务配置
type ForecastConfig struct {
	HorizonDays         int     `mapstructure:"horizon_days"`           // 默认预测时长（天）
	ShortWindowDays     int     `mapstructure:"short_window_days"`      // 短周期回看窗口
	ExtendedWindowDays  int     `mapstructure:"extended_window_days"`   // 长周期回看窗口
	ShortMinHistory     int     `mapstructure:"short_min_history"`      // 短周期最少历史天数
	LongMinHistory      int     `mapstructure:"long_min_history"`       // 长周期最少历史天数
	WeekendMultiplier   float64 `mapstructure:"weekend_multiplier"`     // 周末乘数
	WeekdaySmoothWeeks  int     `mapstructure:"weekday_smooth_weeks"`   // 同星期平滑回看周数
	WeekdaySmoothMaxPct float64 `mapstructure:"weekday_smooth_max_pct"` // 同星期平滑最大偏离（%）
}

// TrainingConfig 训练配置
type TrainingConfig struct {
	DefaultDays         int     `mapstructure:"default_days"`          // 重训默认取数窗口（天）
	ValFraction         float64 `mapstructure:"val_fraction"`          // 验证集比例
	TestFraction        float64 `mapstructure:"test_fraction"`         // 测试集比例
	MinSamples          int     `mapstructure:"min_samples"`           // 最低样本数
	OutlierPolicy       string  `mapstructure:"outlier_policy"`        // 离群值处理策略
	NumRounds           int     `mapstructure:"num_rounds"`            // 最大迭代轮数
	LearningRate        float64 `mapstructure:"learning_rate"`         // 学习率
	MaxDepth            int     `mapstructure:"max_depth"`             // 树最大深度
	MinLeafSamples      int     `mapstructure:"min_leaf_samples"`      // 叶节点最少样本数
	EarlyStoppingRounds int     `mapstructure:"early_stopping_rounds"` // 早停轮数
}

// PostprocessConfig 预测后处理默认值（可被postprocess_settings活动行覆盖）
type PostprocessConfig struct {
	MaxChangePct         float64  `mapstructure:"max_change_pct"`         // 平滑最大变化（%）
	ZThreshold           float64  `mapstructure:"z_threshold"`            // 异常z分数阈值
	ConfidenceLevel      float64  `mapstructure:"confidence_level"`       // 置信水平
	FloorFactor          float64  `mapstructure:"floor_factor"`           // 历史最小值下限系数
	CeilingFactor        float64  `mapstructure:"ceiling_factor"`         // 历史最大值上限系数
	WeekendBoost         float64  `mapstructure:"weekend_boost"`          // 周末加成
	HolidayBoost         float64  `mapstructure:"holiday_boost"`          // 节假日临近加成
	HolidayWindowDays    int      `mapstructure:"holiday_window_days"`    // 节假日临近窗口（天）
	WeekendBoostSegments []string `mapstructure:"weekend_boost_segments"` // 适用周末加成的业态
}

// MonitoringConfig 监控阈值
type MonitoringConfig struct {
	MAPEWarning          float64 `mapstructure:"mape_warning"`           // MAPE警告阈值（%）
	MAPECritical         float64 `mapstructure:"mape_critical"`          // MAPE严重阈值（%）
	DegradationPct       float64 `mapstructure:"degradation_pct"`        // 周环比恶化阈值（%）
	BranchMAPEThreshold  float64 `mapstructure:"branch_mape_threshold"`  // 单分店MAPE告警阈值
	BranchAlertCount     int     `mapstructure:"branch_alert_count"`     // 超阈值分店数量告警下限
	BiasAlertThreshold   float64 `mapstructure:"bias_alert_threshold"`   // 系统性偏差告警阈值
	ModelAgeWarningDays  int     `mapstructure:"model_age_warning_days"` // 模型年龄警告（天）
	ProblematicMAPE      float64 `mapstructure:"problematic_mape"`       // 问题分店MAPE阈值
	ProblematicCount     int     `mapstructure:"problematic_count"`      // 问题分店数量警告下限
	FreshnessWarningDays int     `mapstructure:"freshness_warning_days"` // 数据滞后警告（天）
}

// RetrainConfig 重训策略
type RetrainConfig struct {
	ScheduledMaxAgeDays       int           `mapstructure:"scheduled_max_age_days"`      // 定时重训模型年龄上限
	ScheduledMAPEThreshold    float64       `mapstructure:"scheduled_mape_threshold"`    // 定时重训MAPE阈值
	DegradationMAPEThreshold  float64       `mapstructure:"degradation_mape_threshold"`  // 性能恶化触发阈值
	MinPredictionVolume       int           `mapstructure:"min_prediction_volume"`       // 累计预测量触发下限
	SignificantImprovementPct float64       `mapstructure:"significant_improvement_pct"` // 显著改善阈值（%）
	MinorImprovementPct       float64       `mapstructure:"minor_improvement_pct"`       // 轻微改善阈值（%）
	TuneTimeout               time.Duration `mapstructure:"tune_timeout"`                // 调参墙钟超时
}

// CalendarConfig 节假日/周末日历（外部化配置，不写死在代码里）
type CalendarConfig struct {
	WeekendDays     []int    `mapstructure:"weekend_days"`      // 周末编码（周一=0 … 周日=6）
	PreHolidayDays  int      `mapstructure:"pre_holiday_days"`  // 节前标记窗口
	PostHolidayDays int      `mapstructure:"post_holiday_days"` // 节后标记窗口
	Holidays        []string `mapstructure:"holidays"`          // 固定节假日（MM-DD）
}

// ScheduleConfig 定时任务配置
type ScheduleConfig struct {
	DailyMetricsCron  string   `mapstructure:"daily_metrics_cron"`  // 每日指标
	WeeklyRetrainCron string   `mapstructure:"weekly_retrain_cron"` // 每周重训
	DailySyncCron     string   `mapstructure:"daily_sync_cron"`     // 每日销售同步
	GapFillCron       string   `mapstructure:"gap_fill_cron"`       // 缺口回补
	EnabledJobs       []string `mapstructure:"enabled_jobs"`        // 启用的任务列表
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	viper.SetTypeByDefaultValue(true)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("MODELS_DIR"); v != "" {
		cfg.Models.Dir = v
	}
	if v := os.Getenv("POS_TOKEN"); v != "" {
		cfg.POS.Token = v
	}
}
