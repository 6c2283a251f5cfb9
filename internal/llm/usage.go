package llm

import "sync/atomic"

// Usage is a snapshot of token counters.
type Usage struct {
	Calls        int64 `json:"calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type usageCounter struct {
	calls  atomic.Int64
	input  atomic.Int64
	output atomic.Int64
}

func (u *usageCounter) add(in, out int) {
	u.calls.Add(1)
	u.input.Add(int64(in))
	u.output.Add(int64(out))
}

func (u *usageCounter) snapshot() Usage {
	return Usage{
		Calls:        u.calls.Load(),
		InputTokens:  u.input.Load(),
		OutputTokens: u.output.Load(),
	}
}

func (u *usageCounter) reset() {
	u.calls.Store(0)
	u.input.Store(0)
	u.output.Store(0)
}
