package enums

import "fmt"

// CheckVerdict is the outcome of a single contest rule check.
type CheckVerdict string

const (
	CheckVerdictPass          CheckVerdict = "pass"
	CheckVerdictFail          CheckVerdict = "fail"
	CheckVerdictPendingReview CheckVerdict = "pending_review"
)

var validCheckVerdicts = []CheckVerdict{
	CheckVerdictPass,
	CheckVerdictFail,
	CheckVerdictPendingReview,
}

// IsValid reports whether the value matches a known check verdict.
func (c CheckVerdict) IsValid() bool {
	for _, candidate := range validCheckVerdicts {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCheckVerdict converts the raw string to CheckVerdict.
func ParseCheckVerdict(value string) (CheckVerdict, error) {
	for _, candidate := range validCheckVerdicts {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid check verdict %q", value)
}
