package feature

import (
	"fmt"
	"time"

	"SalesForecast/internal/config"
)

// Calendar 节假日/周末日历（从配置注入，不在代码里写死地区规则）
type Calendar struct {
	weekend  map[int]bool    // 周末编码集合（周一=0 … 周日=6）
	holidays map[[2]int]bool // 固定节假日（月,日）
	preDays  int             // 节前标记窗口
	postDays int             // 节后标记窗口
}

// NewCalendar 根据配置构建日历，节假日格式为 MM-DD
func NewCalendar(cfg config.CalendarConfig) (*Calendar, error) {
	c := &Calendar{
		weekend:  make(map[int]bool),
		holidays: make(map[[2]int]bool),
		preDays:  cfg.PreHolidayDays,
		postDays: cfg.PostHolidayDays,
	}
	if c.preDays <= 0 {
		c.preDays = 3
	}
	if c.postDays <= 0 {
		c.postDays = 1
	}
	for _, d := range cfg.WeekendDays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("非法的周末编码: %d（应为0~6，周一=0）", d)
		}
		c.weekend[d] = true
	}
	if len(c.weekend) == 0 {
		c.weekend[5] = true // 默认周六/周日
		c.weekend[6] = true
	}
	for _, h := range cfg.Holidays {
		var month, day int
		if _, err := fmt.Sscanf(h, "%d-%d", &month, &day); err != nil {
			return nil, fmt.Errorf("非法的节假日配置 %q: %w", h, err)
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return nil, fmt.Errorf("非法的节假日日期: %q", h)
		}
		c.holidays[[2]int{month, day}] = true
	}
	return c, nil
}

// Weekday 星期编码，与训练数据保持Python口径：周一=0 … 周日=6
func (c *Calendar) Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// IsWeekend 是否周末
func (c *Calendar) IsWeekend(t time.Time) bool {
	return c.weekend[c.Weekday(t)]
}

// IsHoliday 是否固定节假日
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[[2]int{int(t.Month()), t.Day()}]
}

// IsPreHoliday 未来preDays天内是否有节假日（不含当天）
func (c *Calendar) IsPreHoliday(t time.Time) bool {
	for i := 1; i <= c.preDays; i++ {
		if c.IsHoliday(t.AddDate(0, 0, i)) {
			return true
		}
	}
	return false
}

// IsPostHoliday 过去postDays天内是否有节假日（不含当天）
func (c *Calendar) IsPostHoliday(t time.Time) bool {
	for i := 1; i <= c.postDays; i++ {
		if c.IsHoliday(t.AddDate(0, 0, -i)) {
			return true
		}
	}
	return false
}

// Season 季节编码：1=冬 2=春 3=夏 4=秋
func (c *Calendar) Season(t time.Time) int {
	switch t.Month() {
	case time.December, time.January, time.February:
		return 1
	case time.March, time.April, time.May:
		return 2
	case time.June, time.July, time.August:
		return 3
	default:
		return 4
	}
}

// DaysFromYearStart 距年初天数（1月1日为0）
func (c *Calendar) DaysFromYearStart(t time.Time) int {
	return t.YearDay() - 1
}

// DaysToYearEnd 距年末天数（12月31日为0）
func (c *Calendar) DaysToYearEnd(t time.Time) int {
	end := time.Date(t.Year(), 12, 31, 0, 0, 0, 0, t.Location())
	return end.YearDay() - t.YearDay()
}
