package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SalesForecast/internal/interfaces"
	"SalesForecast/internal/metrics"
	"SalesForecast/internal/model"
	"SalesForecast/internal/repository"

	"github.com/sirupsen/logrus"
)

// SyncReport 一次同步的结果
type SyncReport struct {
	Branches int `json:"branches"`
	Sales    int `json:"sales"`
	GapDays  int `json:"gap_days"`
}

// SyncService 销售数据同步服务：组织结构、日销售、历史缺口回补
type SyncService struct {
	source     interfaces.SalesSource
	branchRepo repository.BranchRepository
	salesRepo  repository.SalesRepository
	logger     *logrus.Logger
}

// NewSyncService 创建 SyncService 实例
func NewSyncService(
	source interfaces.SalesSource,
	branchRepo repository.BranchRepository,
	salesRepo repository.SalesRepository,
	logger *logrus.Logger,
) *SyncService {
	return &SyncService{source: source, branchRepo: branchRepo, salesRepo: salesRepo, logger: logger}
}

// SyncBranches 同步组织结构并按名称推断业态
func (s *SyncService) SyncBranches(ctx context.Context) (int, error) {
	src, err := s.source.ListBranches(ctx)
	if err != nil {
		return 0, err
	}
	branches := make([]*model.Branch, 0, len(src))
	for _, b := range src {
		branch := &model.Branch{
			BranchID:    b.ID,
			Code:        b.Code,
			Name:        b.Name,
			Type:        b.Type,
			SegmentType: classifySegment(b.Name),
		}
		if b.ParentID != "" {
			parentID := b.ParentID
			branch.ParentID = &parentID
		}
		branches = append(branches, branch)
	}
	if err := s.branchRepo.UpsertBatch(ctx, branches); err != nil {
		return 0, fmt.Errorf("写入分店目录失败: %w", err)
	}
	s.logger.WithField("count", len(branches)).Info("组织结构同步完成")
	return len(branches), nil
}

// SyncSales 同步 [since, until) 区间内的日销售
func (s *SyncService) SyncSales(ctx context.Context, since, until time.Time) (int, error) {
	src, err := s.source.ListDailySales(ctx, since, until)
	if err != nil {
		return 0, err
	}
	rows := make([]*model.SalesSummary, 0, len(src))
	for _, r := range src {
		rows = append(rows, &model.SalesSummary{
			BranchID:   r.BranchID,
			Date:       r.Date,
			TotalSales: r.TotalSales,
		})
	}
	if err := s.salesRepo.UpsertBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("写入日销售失败: %w", err)
	}
	metrics.SyncedSalesRows.Add(float64(len(rows)))
	return len(rows), nil
}

// SyncDaily 每日同步：组织结构 + 前一天销售
func (s *SyncService) SyncDaily(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{}
	branches, err := s.SyncBranches(ctx)
	if err != nil {
		return nil, err
	}
	report.Branches = branches

	today := time.Now().Truncate(24 * time.Hour)
	sales, err := s.SyncSales(ctx, today.AddDate(0, 0, -1), today)
	if err != nil {
		return nil, err
	}
	report.Sales = sales
	s.logger.WithFields(logrus.Fields{"branches": branches, "sales": sales}).Info("每日同步完成")
	return report, nil
}

// FillGaps 回补近lookbackDays天内整天缺失的销售数据。
// 逐缺口日期单独拉取，单日失败不阻断其余日期。
func (s *SyncService) FillGaps(ctx context.Context, lookbackDays int) (*SyncReport, error) {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	today := time.Now().Truncate(24 * time.Hour)
	missing, err := s.salesRepo.MissingDates(ctx, today.AddDate(0, 0, -lookbackDays), today)
	if err != nil {
		return nil, fmt.Errorf("扫描数据缺口失败: %w", err)
	}
	report := &SyncReport{GapDays: len(missing)}
	for _, date := range missing {
		count, err := s.SyncSales(ctx, date, date.AddDate(0, 0, 1))
		if err != nil {
			s.logger.WithError(err).WithField("date", date.Format("2006-01-02")).Warn("回补缺口失败")
			continue
		}
		report.Sales += count
	}
	s.logger.WithFields(logrus.Fields{
		"gap_days": report.GapDays, "rows": report.Sales,
	}).Info("缺口回补完成")
	return report, nil
}

// classifySegment 按分店名称关键词推断业态
func classifySegment(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "coffee") || strings.Contains(lower, "кофе"):
		return "coffeehouse"
	case strings.Contains(lower, "cafe") || strings.Contains(lower, "кафе"):
		return "cafe"
	case strings.Contains(lower, "restaurant") || strings.Contains(lower, "ресторан"):
		return "restaurant"
	default:
		return "other"
	}
}
