package resolver

import (
	"context"

	"github.com/BaSui01/driftguard/types"
)

// SelectorHealth 对每个元素的 learned/static 候选各查询一次（不等待、不写账本），
// 报告是否至少有一个候选当前可用。用于发版后的快速体检。
func (r *Resolver) SelectorHealth(ctx context.Context) map[types.ElementID]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[types.ElementID]bool, r.store.Len())
	for _, id := range r.store.IDs() {
		set, err := r.store.Get(id)
		if err != nil {
			continue
		}
		learned, _ := r.ledger.BestSelector(id)
		healthy := false
		for _, sel := range orderCandidates(learned, set.Selectors) {
			if ctx.Err() != nil {
				break
			}
			if _, outcome := r.probe(ctx, sel, r.cfg.RequireVisible); outcome == outcomeFound {
				healthy = true
				break
			}
		}
		out[id] = healthy
	}
	return out
}
