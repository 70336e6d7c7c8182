package interfaces

import (
	"context"
	"time"
)

// SourceBranch 数据源返回的组织单元
type SourceBranch struct {
	ID       string // 分店ID（UUID）
	ParentID string // 上级部门ID，顶层为空
	Code     string // 分店编码
	Name     string // 分店名称
	Type     string // DEPARTMENT / ORGANIZATION
}

// SourceDailySales 数据源返回的单分店单日销售
type SourceDailySales struct {
	BranchID   string
	Date       time.Time
	TotalSales float64
}

// SalesSource POS销售数据源。实现方负责认证与分页，
// 返回的销售数据按 [since, until) 区间过滤。
type SalesSource interface {
	ListBranches(ctx context.Context) ([]SourceBranch, error)
	ListDailySales(ctx context.Context, since, until time.Time) ([]SourceDailySales, error)
}
