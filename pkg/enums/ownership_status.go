package enums

import "fmt"

// OwnershipStatus is the submission-level ownership sub-state. It gates final
// approval independently of hashtag/description verdicts.
type OwnershipStatus string

const (
	OwnershipStatusPending   OwnershipStatus = "pending"
	OwnershipStatusVerified  OwnershipStatus = "verified"
	OwnershipStatusContested OwnershipStatus = "contested"
	OwnershipStatusFailed    OwnershipStatus = "failed"
)

var validOwnershipStatuses = []OwnershipStatus{
	OwnershipStatusPending,
	OwnershipStatusVerified,
	OwnershipStatusContested,
	OwnershipStatusFailed,
}

// IsValid reports whether the value matches a known ownership status.
func (o OwnershipStatus) IsValid() bool {
	for _, candidate := range validOwnershipStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOwnershipStatus converts the raw string to OwnershipStatus.
func ParseOwnershipStatus(value string) (OwnershipStatus, error) {
	for _, candidate := range validOwnershipStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ownership status %q", value)
}
