package service

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"SalesForecast/internal/config"
	"SalesForecast/internal/feature"
	"SalesForecast/internal/model"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Branch{},
		&model.SalesSummary{},
		&model.Forecast{},
		&model.ForecastAccuracyLog{},
		&model.ModelVersion{},
		&model.ModelRetrainingLog{},
		&model.PostprocessSettings{},
		&model.ModelPerformanceMetric{},
	))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCalendar(t *testing.T) *feature.Calendar {
	t.Helper()
	cal, err := feature.NewCalendar(config.CalendarConfig{
		WeekendDays:     []int{5, 6},
		PreHolidayDays:  3,
		PostHolidayDays: 1,
		Holidays:        []string{"01-01", "03-08", "05-09"},
	})
	require.NoError(t, err)
	return cal
}

func defaultPostprocessConfig() config.PostprocessConfig {
	return config.PostprocessConfig{
		MaxChangePct:         50,
		ZThreshold:           3.0,
		ConfidenceLevel:      0.95,
		FloorFactor:          0.1,
		CeilingFactor:        2.0,
		WeekendBoost:         1.1,
		HolidayBoost:         1.15,
		HolidayWindowDays:    3,
		WeekendBoostSegments: []string{"coffeehouse", "cafe"},
	}
}

func defaultForecastConfig() config.ForecastConfig {
	return config.ForecastConfig{
		HorizonDays:         7,
		ShortWindowDays:     30,
		ExtendedWindowDays:  45,
		ShortMinHistory:     14,
		LongMinHistory:      7,
		WeekendMultiplier:   1.4,
		WeekdaySmoothWeeks:  4,
		WeekdaySmoothMaxPct: 50,
	}
}

func defaultMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		MAPEWarning:          10,
		MAPECritical:         15,
		DegradationPct:       20,
		BranchMAPEThreshold:  30,
		BranchAlertCount:     3,
		BiasAlertThreshold:   10000,
		ModelAgeWarningDays:  60,
		ProblematicMAPE:      20,
		ProblematicCount:     5,
		FreshnessWarningDays: 2,
	}
}

func defaultRetrainConfig() config.RetrainConfig {
	return config.RetrainConfig{
		ScheduledMaxAgeDays:       30,
		ScheduledMAPEThreshold:    10,
		DegradationMAPEThreshold:  15,
		MinPredictionVolume:       1000,
		SignificantImprovementPct: 5,
		MinorImprovementPct:       1,
		TuneTimeout:               time.Minute,
	}
}

// seedBranch 插入一个测试分店
func seedBranch(t *testing.T, db *gorm.DB, id, name, segment string) {
	t.Helper()
	require.NoError(t, db.Create(&model.Branch{
		BranchID:    id,
		Code:        id,
		Name:        name,
		Type:        "DEPARTMENT",
		SegmentType: segment,
	}).Error)
}

// seedSales 为分店插入连续days天的日销售（weekendAmount<=0时周末与平日同价）
func seedSales(t *testing.T, db *gorm.DB, cal *feature.Calendar, branchID string,
	start time.Time, days int, weekdayAmount, weekendAmount float64) {
	t.Helper()
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		amount := weekdayAmount
		if weekendAmount > 0 && cal.IsWeekend(date) {
			amount = weekendAmount
		}
		require.NoError(t, db.Create(&model.SalesSummary{
			BranchID:   branchID,
			Date:       date,
			TotalSales: amount,
		}).Error)
	}
}
