package enums

import "fmt"

// IngestEventKind classifies entries in the durable ingest event queue.
type IngestEventKind string

const (
	// IngestEventSnapshotData carries a pushed result array in its payload.
	IngestEventSnapshotData IngestEventKind = "snapshot.data"
	// IngestEventSnapshotReady signals the handler must pull the data itself.
	IngestEventSnapshotReady IngestEventKind = "snapshot.ready"
	// IngestEventAccountVerify requests a profile-bio verification poll.
	IngestEventAccountVerify IngestEventKind = "account.verify"
)

var validIngestEventKinds = []IngestEventKind{
	IngestEventSnapshotData,
	IngestEventSnapshotReady,
	IngestEventAccountVerify,
}

// IsValid reports whether the value matches a known ingest event kind.
func (k IngestEventKind) IsValid() bool {
	for _, candidate := range validIngestEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseIngestEventKind converts the raw string to IngestEventKind.
func ParseIngestEventKind(value string) (IngestEventKind, error) {
	for _, candidate := range validIngestEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ingest event kind %q", value)
}
