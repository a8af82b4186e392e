package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithSnapshotID(ctx, "snap-9")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"snapshot_id\"")) {
		t.Fatalf("expected snapshot_id to be preserved; entry=%s", buf.String())
	}
}

func TestLoggerDomainHelpers(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithPlatform(context.Background(), "tiktok")
	ctx = log.WithSubmissionID(ctx, "sub-1")
	log.Info(ctx, "processing")

	if !bytes.Contains(buf.Bytes(), []byte("\"platform\":\"tiktok\"")) {
		t.Fatalf("expected platform field; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"submission_id\":\"sub-1\"")) {
		t.Fatalf("expected submission_id field; entry=%s", buf.String())
	}
}
