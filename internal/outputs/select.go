package outputs

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"
)

// Strategy is the coin selection policy.
type Strategy string

// Selection strategies.
const (
	// StrategyAll spends every eligible output.
	StrategyAll Strategy = "all"
	// StrategySmallest spends the fewest outputs that cover amount and fee.
	StrategySmallest Strategy = "smallest"
)

// TieBreak orders outputs of equal value during selection.
type TieBreak string

// Tie-break policies.
const (
	// TieBreakAge prefers the oldest output, then the lowest key index.
	TieBreakAge TieBreak = "age"
	// TieBreakIndex prefers the lowest key index.
	TieBreakIndex TieBreak = "index"
)

var (
	// ErrInsufficientFunds indicates no selection covers amount and fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownStrategy indicates an unsupported selection strategy.
	ErrUnknownStrategy = errors.New("unknown selection strategy")

	// ErrZeroAmount indicates a send of nothing.
	ErrZeroAmount = errors.New("amount must be greater than zero")
)

// FeeFunc returns the fee of a transaction with the given number of inputs
// and outputs and a single kernel.
type FeeFunc func(inputs, outputs int) uint64

// Policy holds the parameters of a selection.
type Policy struct {
	Strategy         Strategy
	TieBreak         TieBreak
	MinConfirmations uint64
	CoinbaseMaturity uint64
	Tip              uint64
}

// Selection is the result of Select.
type Selection struct {
	Inputs []Output `json:"inputs"`
	Total  uint64   `json:"total"`
	Amount uint64   `json:"amount"`
	Fee    uint64   `json:"fee"`
	Change uint64   `json:"change"`
}

// InsufficientFundsError carries the shortfall of a failed selection.
type InsufficientFundsError struct {
	Needed    uint64
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: need %d, spendable %d", ErrInsufficientFunds, e.Needed, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Eligible filters outs to the spendable ones and orders them largest first,
// ties resolved by the policy's tie-break.
func Eligible(outs []Output, p Policy) []Output {
	var eligible []Output
	for _, o := range outs {
		if o.Spendable(p.Tip, p.MinConfirmations, p.CoinbaseMaturity) {
			eligible = append(eligible, o)
		}
	}

	slices.SortStableFunc(eligible, func(a, b Output) int {
		switch {
		case a.Value > b.Value:
			return -1
		case a.Value < b.Value:
			return 1
		case p.TieBreak == TieBreakIndex:
			return compareIndex(a, b)
		default:
			return compareAge(a, b)
		}
	})
	return eligible
}

// Select chooses inputs for a send of amount. The returned selection never
// spends an output twice and covers amount plus fee exactly once change is
// accounted for.
//
// StrategySmallest spends the fewest outputs that cover the send, then the
// smallest total among those, then follows the tie-break.
func Select(outs []Output, amount uint64, p Policy, fee FeeFunc) (Selection, error) {
	if amount == 0 {
		return Selection{}, ErrZeroAmount
	}

	eligible := Eligible(outs, p)
	var available uint64
	for _, o := range eligible {
		available = addSat(available, o.Value)
	}

	switch p.Strategy {
	case StrategyAll:
		if sel, ok := cover(eligible, amount, fee); ok {
			return sel, nil
		}
	case StrategySmallest, "":
		ascending := ascendingByValue(eligible, p.TieBreak)
		for k := 1; k <= len(eligible); k++ {
			if sel, ok := smallestCover(ascending, eligible, k, amount, fee); ok {
				return sel, nil
			}
		}
	default:
		return Selection{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, p.Strategy)
	}

	return Selection{}, &InsufficientFundsError{
		Needed:    addSat(amount, fee(max(len(eligible), 1), 2)),
		Available: available,
	}
}

// maxSearchSteps bounds the subset search of smallestCover.
const maxSearchSteps = 1 << 16

// smallestCover finds the k outputs with the smallest total that cover amount.
// ascending holds the eligible outputs smallest first with preferred outputs
// ahead of equal values; largestFirst is the order Eligible returns. When the
// search runs out of steps without a result it falls back to the k largest.
func smallestCover(ascending, largestFirst []Output, k int, amount uint64, fee FeeFunc) (Selection, bool) {
	n := len(ascending)
	if k > n {
		return Selection{}, false
	}

	// prefix[i] is the saturated sum of the i smallest outputs.
	prefix := make([]uint64, n+1)
	for i, o := range ascending {
		prefix[i+1] = addSat(prefix[i], o.Value)
	}
	exact, withChange := fee(k, 1), fee(k, 2)
	low := addSat(amount, min(exact, addSat(withChange, 1)))

	var (
		best      []int
		bestSum   uint64
		steps     int
		picked    = make([]int, 0, k)
		exhausted bool
	)
	var search func(from int, sum uint64)
	search = func(from int, sum uint64) {
		if exhausted {
			return
		}
		if steps++; steps > maxSearchSteps {
			exhausted = true
			return
		}
		left := k - len(picked)
		if left == 0 {
			if _, _, ok := coverTotal(sum, amount, exact, withChange); ok && (best == nil || sum < bestSum) {
				best, bestSum = slices.Clone(picked), sum
			}
			return
		}
		// The largest completion is the left largest outputs overall. A
		// saturated prefix gives no usable bound.
		if prefix[n] != math.MaxUint64 && addSat(sum, prefix[n]-prefix[n-left]) < low {
			return
		}
		for i := from; i <= n-left; i++ {
			// The smallest completion from i on is the next left outputs.
			if best != nil && addSat(sum, prefix[i+left]-prefix[i]) >= bestSum {
				return
			}
			next, carry := bits.Add64(sum, ascending[i].Value, 0)
			if carry != 0 {
				return
			}
			picked = append(picked, i)
			search(i+1, next)
			picked = picked[:len(picked)-1]
		}
	}
	search(0, 0)

	if best == nil {
		if exhausted {
			return cover(largestFirst[:k], amount, fee)
		}
		return Selection{}, false
	}
	inputs := make([]Output, len(best))
	for i, idx := range best {
		inputs[i] = ascending[idx]
	}
	return cover(inputs, amount, fee)
}

// cover checks whether inputs pay amount plus fee, with or without change.
func cover(inputs []Output, amount uint64, fee FeeFunc) (Selection, bool) {
	if len(inputs) == 0 {
		return Selection{}, false
	}

	var total uint64
	for _, o := range inputs {
		var carry uint64
		if total, carry = bits.Add64(total, o.Value, 0); carry != 0 {
			return Selection{}, false
		}
	}

	txFee, change, ok := coverTotal(total, amount, fee(len(inputs), 1), fee(len(inputs), 2))
	if !ok {
		return Selection{}, false
	}
	return Selection{
		Inputs: slices.Clone(inputs),
		Total:  total,
		Amount: amount,
		Fee:    txFee,
		Change: change,
	}, true
}

// coverTotal reports whether total pays amount with the exact no-change fee
// or leaves positive change after the fee with change. Sums that overflow
// never cover.
func coverTotal(total, amount, exact, withChange uint64) (txFee, change uint64, ok bool) {
	if need, carry := bits.Add64(amount, exact, 0); carry == 0 && total == need {
		return exact, 0, true
	}
	if need, carry := bits.Add64(amount, withChange, 0); carry == 0 && total > need {
		return withChange, total - need, true
	}
	return 0, 0, false
}

// ascendingByValue orders outs smallest first, equal values by the tie-break.
func ascendingByValue(outs []Output, tieBreak TieBreak) []Output {
	sorted := slices.Clone(outs)
	slices.SortStableFunc(sorted, func(a, b Output) int {
		switch {
		case a.Value < b.Value:
			return -1
		case a.Value > b.Value:
			return 1
		case tieBreak == TieBreakIndex:
			return compareIndex(a, b)
		default:
			return compareAge(a, b)
		}
	})
	return sorted
}

// addSat adds without wrapping, stopping at the largest uint64.
func addSat(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func compareIndex(a, b Output) int {
	switch {
	case a.KeyIndex < b.KeyIndex:
		return -1
	case a.KeyIndex > b.KeyIndex:
		return 1
	default:
		return compareAge(a, b)
	}
}
