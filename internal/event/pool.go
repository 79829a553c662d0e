package event

import (
	"sync"

	"github.com/shopspring/decimal"
)

// intentPool recycles OrderIntent allocations on the submission hotpath.
//
// Usage:
//
//	in := AcquireOrderIntent()
//	in.AgentID = "agent_1"
//	// ... send through the sequencer, wait for the reply ...
//	ReleaseOrderIntent(in)
var intentPool = sync.Pool{
	New: func() interface{} {
		return &OrderIntent{}
	},
}

// AcquireOrderIntent gets an OrderIntent from the pool. The returned intent
// has zero values and must be initialized.
func AcquireOrderIntent() *OrderIntent {
	return intentPool.Get().(*OrderIntent)
}

// ReleaseOrderIntent returns an OrderIntent to the pool. The Reply channel
// is kept so a caller can reuse it across submissions.
func ReleaseOrderIntent(in *OrderIntent) {
	if in == nil {
		return
	}
	in.Seq = 0
	in.AgentID = ""
	in.Kind = 0
	in.Side = 0
	in.Price = decimal.Decimal{}
	in.Size = 0
	in.OrderID = 0

	intentPool.Put(in)
}
