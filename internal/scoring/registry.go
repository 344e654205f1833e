package scoring

import (
	"sort"
	"sync"

	"StrikeRate/internal/model"
)

// Func 某一类市场的打分函数
type Func func(predicted, actual model.FinalScore) float64

// Registry 市场类型 → 打分函数
type Registry struct {
	mu      sync.RWMutex
	scorers map[model.MarketType]Func
}

// NewRegistry 创建注册表，默认注册 SCORE 市场
func NewRegistry() *Registry {
	r := &Registry{scorers: make(map[model.MarketType]Func)}
	r.Register(model.MarketTypeScore, MatchScore)
	return r
}

// Register 注册或覆盖某类市场的打分函数
func (r *Registry) Register(t model.MarketType, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorers[t] = f
}

// Get 获取打分函数
func (r *Registry) Get(t model.MarketType) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.scorers[t]
	return f, ok
}

// Types 已注册的市场类型（排序后）
func (r *Registry) Types() []model.MarketType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.MarketType, 0, len(r.scorers))
	for t := range r.scorers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
