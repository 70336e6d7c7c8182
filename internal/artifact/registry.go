package artifact

import (
	"sync/atomic"
	"time"

	"SalesForecast/internal/gbrt"
)

// LoadedModel 内存中正在服务的模型快照
type LoadedModel struct {
	VersionID string
	Model     *gbrt.Model
	LoadedAt  time.Time
}

// Registry 在役模型注册表。指针原子替换，部署新版本不阻塞在途预测：
// 旧快照上进行中的预测继续用旧模型，新请求拿到新模型。
type Registry struct {
	current atomic.Pointer[LoadedModel]
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{}
}

// Get 当前在役模型，未加载时返回 false
func (r *Registry) Get() (*LoadedModel, bool) {
	lm := r.current.Load()
	return lm, lm != nil
}

// Swap 原子替换在役模型，返回被替换的旧快照（可能为nil）
func (r *Registry) Swap(lm *LoadedModel) *LoadedModel {
	return r.current.Swap(lm)
}
