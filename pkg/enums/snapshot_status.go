package enums

// SnapshotStatus is the provider-reported lifecycle state of a scrape job.
// Providers are not consistent about these values, so parsing is lenient:
// unrecognized statuses map to SnapshotStatusUnknown rather than an error.
type SnapshotStatus string

const (
	SnapshotStatusQueued  SnapshotStatus = "queued"
	SnapshotStatusRunning SnapshotStatus = "running"
	SnapshotStatusReady   SnapshotStatus = "ready"
	SnapshotStatusFailed  SnapshotStatus = "failed"
	SnapshotStatusUnknown SnapshotStatus = "unknown"
)

// ParseSnapshotStatus normalizes a raw provider status string.
func ParseSnapshotStatus(value string) SnapshotStatus {
	switch value {
	case "queued", "collecting", "scheduled":
		return SnapshotStatusQueued
	case "running", "building", "in_progress":
		return SnapshotStatusRunning
	case "ready", "done", "complete", "completed":
		return SnapshotStatusReady
	case "failed", "error", "canceled":
		return SnapshotStatusFailed
	}
	return SnapshotStatusUnknown
}
