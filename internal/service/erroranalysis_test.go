package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"SalesForecast/internal/repository"
)

func newErrorAnalysis(t *testing.T) (*ErrorAnalysisService, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	svc := NewErrorAnalysisService(
		repository.NewAccuracyRepository(db),
		repository.NewBranchRepository(db),
		newTestCalendar(t),
		quietLogger(),
	)
	return svc, db
}

func TestAnalyzeSlicesBySegmentAndDayType(t *testing.T) {
	svc, db := newErrorAnalysis(t)
	ctx := context.Background()

	seedBranch(t, db, "coffee1", "Coffee One Almaty", "coffeehouse")
	seedBranch(t, db, "rest1", "Ресторан Астана", "restaurant")

	// 周一和周六各一天：咖啡店MAPE 5%，餐厅MAPE 25%
	now := time.Now().Truncate(24 * time.Hour)
	weekday, weekend := now, now
	for d := now.AddDate(0, 0, -7); d.Before(now); d = d.AddDate(0, 0, 1) {
		if newTestCalendar(t).IsWeekend(d) {
			weekend = d
		} else {
			weekday = d
		}
	}
	seedAccuracyRow(t, db, "coffee1", weekday, 105000, 100000) // 5%
	seedAccuracyRow(t, db, "coffee1", weekend, 95000, 100000)  // 5% 低估
	seedAccuracyRow(t, db, "rest1", weekday, 125000, 100000)   // 25%
	seedAccuracyRow(t, db, "rest1", weekend, 75000, 100000)    // 25% 低估

	report, err := svc.Analyze(ctx, 30, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, report.TotalPredictions)
	assert.InDelta(t, 15.0, report.OverallMAPE, 1e-6)

	// 业态切片按MAPE降序：餐厅在前
	require.Len(t, report.BySegment, 2)
	assert.Equal(t, "restaurant", report.BySegment[0].Segment)
	assert.InDelta(t, 25.0, report.BySegment[0].AvgMAPE, 1e-6)
	assert.Equal(t, "rest1", report.BySegment[0].WorstBranch)
	assert.Equal(t, "coffeehouse", report.BySegment[1].Segment)

	// 工作日/周末各2条
	require.Len(t, report.ByDayType, 2)
	for _, s := range report.ByDayType {
		assert.Equal(t, 2, s.Count)
		assert.InDelta(t, 15.0, s.AvgMAPE, 1e-6)
	}

	// 城市切片：餐厅在阿斯塔纳，误差更大
	require.Len(t, report.ByLocation, 2)
	assert.Equal(t, "astana", report.ByLocation[0].Segment)
	assert.InDelta(t, 25.0, report.ByLocation[0].AvgMAPE, 1e-6)
	assert.Equal(t, "almaty", report.ByLocation[1].Segment)

	// 月份切片非空且总数对得上
	require.NotEmpty(t, report.ByMonth)
	monthTotal := 0
	for _, m := range report.ByMonth {
		monthTotal += m.Count
	}
	assert.Equal(t, 4, monthTotal)

	// 最差分店排序
	require.NotEmpty(t, report.WorstBranches)
	assert.Equal(t, "rest1", report.WorstBranches[0].BranchID)
	assert.Equal(t, "Ресторан Астана", report.WorstBranches[0].BranchName)

	// MAPE分布
	assert.Equal(t, 2, report.MAPEDistribution["5-10%"])
	assert.Equal(t, 2, report.MAPEDistribution["20-30%"])
}

func TestAnalyzeUnknownSegmentFallback(t *testing.T) {
	svc, db := newErrorAnalysis(t)
	seedBranch(t, db, "b1", "Noname Point", "")
	seedAccuracyRow(t, db, "b1", time.Now().Truncate(24*time.Hour).AddDate(0, 0, -1), 110000, 100000)

	report, err := svc.Analyze(context.Background(), 30, 10)
	require.NoError(t, err)
	require.Len(t, report.BySegment, 1)
	assert.Equal(t, "unknown", report.BySegment[0].Segment)
}

func TestAnalyzeTopNLimit(t *testing.T) {
	svc, db := newErrorAnalysis(t)
	now := time.Now().Truncate(24 * time.Hour)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		seedBranch(t, db, id, "Branch "+id, "cafe")
		seedAccuracyRow(t, db, id, now.AddDate(0, 0, -1), 100000+float64(i+1)*5000, 100000)
	}

	report, err := svc.Analyze(context.Background(), 30, 3)
	require.NoError(t, err)
	require.Len(t, report.WorstBranches, 3)
	// MAPE最大的（+25%）排第一
	assert.Equal(t, "e", report.WorstBranches[0].BranchID)
}

func TestAnalyzeNoDataError(t *testing.T) {
	svc, _ := newErrorAnalysis(t)
	_, err := svc.Analyze(context.Background(), 30, 10)
	assert.Error(t, err)
}

func TestMAPEBuckets(t *testing.T) {
	assert.Equal(t, "<5%", mapeBucket(3))
	assert.Equal(t, "5-10%", mapeBucket(5))
	assert.Equal(t, "10-20%", mapeBucket(15))
	assert.Equal(t, "20-30%", mapeBucket(25))
	assert.Equal(t, ">30%", mapeBucket(42))
}
