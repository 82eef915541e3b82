package telephone

// Usage is cumulative token/cost accounting for one Telephone generation
// (or, summed, for its whole lifetime across rotations).
type Usage struct {
	InputTokens     int
	OutputTokens    int
	CacheReadTokens int
	CacheWriteTokens int
	CostUSD         float64
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		CostUSD:          u.CostUSD + o.CostUSD,
	}
}

// Sub returns the element-wise difference u - o, used to diff an SDK's
// cumulative usage report against the last known cumulative value.
func (u Usage) Sub(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens - o.InputTokens,
		OutputTokens:     u.OutputTokens - o.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens - o.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens - o.CacheWriteTokens,
		CostUSD:          u.CostUSD - o.CostUSD,
	}
}

// ContextTokens is the portion of usage that counts against the
// rotation budget: input plus cache-read tokens, the tokens the model
// actually had to hold in context for this turn.
func (u Usage) ContextTokens() int {
	return u.InputTokens + u.CacheReadTokens
}

// SDKMessageUsage is the cumulative usage an agent SDK reports on a
// streamed message; providers report running totals, not deltas.
type SDKMessageUsage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	CumulativeCostUSD float64
}

// Delta extracts a per-message usage delta by diffing an SDK message's
// cumulative report against the last known cumulative value, returning
// the new cumulative snapshot to store for next time.
func Delta(last SDKMessageUsage, next SDKMessageUsage) (delta Usage, newLast SDKMessageUsage) {
	delta = Usage{
		InputTokens:      next.InputTokens - last.InputTokens,
		OutputTokens:      next.OutputTokens - last.OutputTokens,
		CacheReadTokens:   next.CacheReadTokens - last.CacheReadTokens,
		CacheWriteTokens:  next.CacheWriteTokens - last.CacheWriteTokens,
		CostUSD:           next.CumulativeCostUSD - last.CumulativeCostUSD,
	}
	return delta, next
}
