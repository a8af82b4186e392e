package enums

import "fmt"

// SubmissionStatus tracks a submission through the ingestion pipeline.
type SubmissionStatus string

const (
	SubmissionStatusUploaded         SubmissionStatus = "uploaded"
	SubmissionStatusFetchingStats    SubmissionStatus = "fetching_stats"
	SubmissionStatusCheckingHashtags SubmissionStatus = "checking_hashtags"
	SubmissionStatusApproved         SubmissionStatus = "approved"
	SubmissionStatusWaitingReview    SubmissionStatus = "waiting_review"
	SubmissionStatusFailed           SubmissionStatus = "failed"
)

var validSubmissionStatuses = []SubmissionStatus{
	SubmissionStatusUploaded,
	SubmissionStatusFetchingStats,
	SubmissionStatusCheckingHashtags,
	SubmissionStatusApproved,
	SubmissionStatusWaitingReview,
	SubmissionStatusFailed,
}

// submissionStatusRank orders the linear pipeline states; terminal states share
// the highest rank so transitions between them are rejected.
var submissionStatusRank = map[SubmissionStatus]int{
	SubmissionStatusUploaded:         0,
	SubmissionStatusFetchingStats:    1,
	SubmissionStatusCheckingHashtags: 2,
	SubmissionStatusApproved:         3,
	SubmissionStatusWaitingReview:    3,
	SubmissionStatusFailed:           3,
}

// IsValid reports whether the value matches a known submission status.
func (s SubmissionStatus) IsValid() bool {
	for _, candidate := range validSubmissionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the pipeline.
func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionStatusApproved || s == SubmissionStatusWaitingReview || s == SubmissionStatusFailed
}

// SubmissionStatusesBefore returns every status ranked earlier in the
// pipeline than next, in declaration order.
func SubmissionStatusesBefore(next SubmissionStatus) []SubmissionStatus {
	to, ok := submissionStatusRank[next]
	if !ok {
		return nil
	}
	var earlier []SubmissionStatus
	for _, candidate := range validSubmissionStatuses {
		if submissionStatusRank[candidate] < to {
			earlier = append(earlier, candidate)
		}
	}
	return earlier
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s SubmissionStatus) CanAdvanceTo(next SubmissionStatus) bool {
	from, ok := submissionStatusRank[s]
	if !ok {
		return false
	}
	to, ok := submissionStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// ParseSubmissionStatus converts the raw string to SubmissionStatus.
func ParseSubmissionStatus(value string) (SubmissionStatus, error) {
	for _, candidate := range validSubmissionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid submission status %q", value)
}
