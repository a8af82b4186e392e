package enums

// MatchStrategy records how a webhook payload was matched to a local
// submission batch. Downstream logic treats MatchStrategyRecent as a
// heuristic guess, not a confident match.
type MatchStrategy string

const (
	MatchStrategyHandle MatchStrategy = "handle"
	MatchStrategyURL    MatchStrategy = "url"
	MatchStrategyRecent MatchStrategy = "recent"
)

// IsConfident reports whether the strategy identifies the batch unambiguously.
func (m MatchStrategy) IsConfident() bool {
	return m == MatchStrategyHandle || m == MatchStrategyURL
}
