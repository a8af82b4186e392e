package scrapejobs

import (
	"encoding/json"
	"strings"

	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
)

// EventKind distinguishes a bare readiness notification from a payload that
// actually carries result records.
type EventKind string

const (
	EventNotification EventKind = "notification"
	EventData         EventKind = "data"
)

// WebhookEvent is the provider callback after shape detection.
type WebhookEvent struct {
	Kind       EventKind
	SnapshotID string
	Status     enums.SnapshotStatus
	Records    []json.RawMessage
}

// recordHandlePaths are the candidate locations of the job handle inside a
// pushed result record, tried in priority order.
var recordHandlePaths = [][]string{
	{"input", "snapshot_id"},
	{"input", "snapshotId"},
	{"snapshot_id"},
	{"snapshotId"},
}

// ParseWebhook detects which of the three provider callback shapes arrived:
// a bare {snapshot_id, status} notification, a raw record array, or a
// {snapshot_id, data|result|results} wrapper.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return WebhookEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "empty webhook body")
	}

	if strings.HasPrefix(trimmed, "[") {
		return parseRecordArray([]byte(trimmed))
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return WebhookEvent{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
	}

	snapshotID := stringField(envelope, "snapshot_id", "snapshotId", "id")

	for _, key := range []string{"data", "result", "results"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		records, err := recordsFromPayload(raw)
		if err != nil {
			return WebhookEvent{}, err
		}
		event := WebhookEvent{
			Kind:       EventData,
			SnapshotID: snapshotID,
			Records:    records,
		}
		if event.SnapshotID == "" {
			event.SnapshotID = handleFromRecords(records)
		}
		return event, nil
	}

	if snapshotID == "" {
		return WebhookEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook carries neither handle nor data")
	}

	return WebhookEvent{
		Kind:       EventNotification,
		SnapshotID: snapshotID,
		Status:     enums.ParseSnapshotStatus(stringField(envelope, "status", "state")),
	}, nil
}

func parseRecordArray(body []byte) (WebhookEvent, error) {
	records, err := recordsFromPayload(body)
	if err != nil {
		return WebhookEvent{}, err
	}
	if len(records) == 0 {
		return WebhookEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook data array is empty")
	}
	return WebhookEvent{
		Kind:       EventData,
		SnapshotID: handleFromRecords(records),
		Records:    records,
	}, nil
}

// recordsFromPayload accepts either a JSON array or a single object and
// returns the records individually, so one malformed element can be skipped
// without losing the batch.
func recordsFromPayload(raw []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var records []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed record array")
		}
		return records, nil
	}

	var single json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed record payload")
	}
	return []json.RawMessage{single}, nil
}

// handleFromRecords probes the first decodable record for an embedded handle.
func handleFromRecords(records []json.RawMessage) string {
	for _, raw := range records {
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		if handle := probeRecordHandle(record); handle != "" {
			return handle
		}
		return ""
	}
	return ""
}

func probeRecordHandle(record map[string]any) string {
	for _, path := range recordHandlePaths {
		if value := lookupPath(record, path); value != "" {
			return value
		}
	}
	return ""
}

// RecordURLs collects every URL mentioned in the records' input or top-level
// url fields, for the URL-based lookup fallback.
func RecordURLs(records []json.RawMessage) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, raw := range records {
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		for _, path := range [][]string{{"input", "url"}, {"url"}, {"post_url"}, {"webVideoUrl"}} {
			value := lookupPath(record, path)
			if value == "" {
				continue
			}
			if _, dup := seen[value]; dup {
				continue
			}
			seen[value] = struct{}{}
			out = append(out, value)
		}
	}
	return out
}

func lookupPath(record map[string]any, path []string) string {
	current := any(record)
	for _, key := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = node[key]
		if !ok {
			return ""
		}
	}
	value, _ := current.(string)
	return value
}

func stringField(envelope map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil && value != "" {
			return value
		}
	}
	return ""
}
