package pos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"SalesForecast/internal/config"
	"SalesForecast/internal/interfaces"

	"github.com/sirupsen/logrus"
)

// Client POS接口客户端，实现 interfaces.SalesSource
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logrus.Logger
}

// NewClient 创建POS客户端
func NewClient(cfg config.POSConfig, logger *logrus.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: logger,
	}
}

type branchPayload struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

type salesPayload struct {
	DepartmentID string  `json:"departmentId"`
	Date         string  `json:"date"` // YYYY-MM-DD
	TotalSum     float64 `json:"totalSum"`
}

// ListBranches 拉取组织结构
func (c *Client) ListBranches(ctx context.Context) ([]interfaces.SourceBranch, error) {
	var payload []branchPayload
	if err := c.getJSON(ctx, "/departments", nil, &payload); err != nil {
		return nil, fmt.Errorf("拉取组织结构失败: %w", err)
	}
	out := make([]interfaces.SourceBranch, 0, len(payload))
	for _, p := range payload {
		out = append(out, interfaces.SourceBranch{
			ID:       p.ID,
			ParentID: p.ParentID,
			Code:     p.Code,
			Name:     p.Name,
			Type:     p.Type,
		})
	}
	return out, nil
}

// ListDailySales 拉取区间内的日销售汇总
func (c *Client) ListDailySales(ctx context.Context, since, until time.Time) ([]interfaces.SourceDailySales, error) {
	query := url.Values{}
	query.Set("dateFrom", since.Format("2006-01-02"))
	// 接口区间含端点，until是开区间，往前收一天
	query.Set("dateTo", until.AddDate(0, 0, -1).Format("2006-01-02"))

	var payload []salesPayload
	if err := c.getJSON(ctx, "/sales/daily", query, &payload); err != nil {
		return nil, fmt.Errorf("拉取日销售失败: %w", err)
	}
	out := make([]interfaces.SourceDailySales, 0, len(payload))
	for _, p := range payload {
		date, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			c.logger.WithField("date", p.Date).Warn("非法的销售日期，跳过该行")
			continue
		}
		out = append(out, interfaces.SourceDailySales{
			BranchID:   p.DepartmentID,
			Date:       date,
			TotalSales: p.TotalSum,
		})
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("接口返回 %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
