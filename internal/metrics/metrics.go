package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ForecastsGenerated 累计生成的预测条数（按产出方式分）
var ForecastsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "salesforecast",
	Name:      "forecasts_generated_total",
	Help:      "累计生成的预测条数",
}, []string{"method"})

// ForecastFailures 累计生成失败的预测条数
var ForecastFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "salesforecast",
	Name:      "forecast_failures_total",
	Help:      "累计生成失败的预测条数",
})

// RetrainRuns 累计重训次数（按决策分）
var RetrainRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "salesforecast",
	Name:      "retrain_runs_total",
	Help:      "累计重训次数",
}, []string{"decision"})

// DailyMAPE 最近一次计算的当日MAPE
var DailyMAPE = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "salesforecast",
	Name:      "daily_mape_percent",
	Help:      "最近一次每日指标计算得到的MAPE（%）",
})

// SyncedSalesRows 累计同步的日销售行数
var SyncedSalesRows = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "salesforecast",
	Name:      "synced_sales_rows_total",
	Help:      "累计同步落库的日销售行数",
})

// ScheduledJobRuns 定时任务执行次数（按任务与结果分）
var ScheduledJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "salesforecast",
	Name:      "scheduled_job_runs_total",
	Help:      "定时任务执行次数",
}, []string{"job", "result"})
