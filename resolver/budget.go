package resolver

import "time"

// budget 一次解析的总预算；所有层共享同一截止时间
type budget struct {
	start    time.Time
	deadline time.Time
	now      func() time.Time
}

func newBudget(now func() time.Time, timeout time.Duration) *budget {
	start := now()
	return &budget{start: start, deadline: start.Add(timeout), now: now}
}

func (b *budget) remaining() time.Duration {
	return b.deadline.Sub(b.now())
}

func (b *budget) elapsed() time.Duration {
	return b.now().Sub(b.start)
}

// perCandidate 把扣除视觉预留后的剩余预算均分给待尝试的候选，
// 结果夹在 [lo, hi] 内且不超过实际剩余。剩余不足 lo 时返回 0（跳过）。
func (b *budget) perCandidate(pending int, reserve, lo, hi time.Duration) time.Duration {
	left := b.remaining()
	if left < lo {
		return 0
	}
	if pending < 1 {
		pending = 1
	}
	per := (left - reserve) / time.Duration(pending)
	per = min(max(per, lo), hi)
	return min(per, left)
}
