package enums

import "fmt"

// ClaimStatus is the per-key ownership claim ledger state. Transitions only
// move forward: pending -> claimed|contested|failed, contested -> claimed|failed.
type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusClaimed   ClaimStatus = "claimed"
	ClaimStatusContested ClaimStatus = "contested"
	ClaimStatusFailed    ClaimStatus = "failed"
)

var validClaimStatuses = []ClaimStatus{
	ClaimStatusPending,
	ClaimStatusClaimed,
	ClaimStatusContested,
	ClaimStatusFailed,
}

var claimStatusRank = map[ClaimStatus]int{
	ClaimStatusPending:   0,
	ClaimStatusContested: 1,
	ClaimStatusClaimed:   2,
	ClaimStatusFailed:    2,
}

// IsValid reports whether the value matches a known claim status.
func (c ClaimStatus) IsValid() bool {
	for _, candidate := range validClaimStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether a claim may move from c to next. Status
// values never move backward; claimed and failed are terminal except for
// explicit conflict resolution, which is handled by the ledger itself.
func (c ClaimStatus) CanTransitionTo(next ClaimStatus) bool {
	from, ok := claimStatusRank[c]
	if !ok {
		return false
	}
	to, ok := claimStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// ParseClaimStatus converts the raw string to ClaimStatus.
func ParseClaimStatus(value string) (ClaimStatus, error) {
	for _, candidate := range validClaimStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid claim status %q", value)
}
