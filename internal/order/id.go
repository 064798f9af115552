package order

import "math"

// Order ids embed the owning strategy in the low-order digits:
// id = sequence*10^idDigits + strategyID. The sequence wraps below a
// 32-bit-safe ceiling so composed ids never overflow an int32.
const (
	idDigits = 3

	// IDBase is 10^idDigits.
	IDBase = 1000

	// SequenceCeiling is the exclusive upper bound of the persisted
	// sequence counter.
	SequenceCeiling = math.MaxInt32 / IDBase
)

// ComposeID builds an order id from a sequence value and a strategy id.
// Strategy ids must stay below IDBase.
func ComposeID(seq, strategyID int64) int64 {
	return seq*IDBase + strategyID
}

// StrategyOf extracts the strategy id encoded in an order id.
func StrategyOf(id int64) int64 {
	return id % IDBase
}

// NextSequence advances the sequence counter, wrapping at the ceiling.
func NextSequence(seq int64) int64 {
	seq++
	if seq >= SequenceCeiling {
		seq = 0
	}
	return seq
}
