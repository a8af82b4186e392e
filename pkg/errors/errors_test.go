package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "trigger scrape job")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %s", err.Code())
	}
}

func TestAsFindsTypedErrorThroughWrapping(t *testing.T) {
	inner := New(CodeOwnershipRejected, "claim held by verified account")
	outer := fmt.Errorf("processing submission: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error through fmt wrapping")
	}
	if typed.Code() != CodeOwnershipRejected {
		t.Fatalf("expected ownership rejected code, got %s", typed.Code())
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestOwnershipCodesMapToConflict(t *testing.T) {
	for _, code := range []Code{CodeOwnershipContested, CodeOwnershipRejected} {
		if MetadataFor(code).HTTPStatus != http.StatusConflict {
			t.Fatalf("expected %s to map to 409", code)
		}
		if MetadataFor(code).Retryable {
			t.Fatalf("ownership states are terminal, %s must not be retryable", code)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeDependency, "provider 503")) {
		t.Fatal("dependency errors are retryable")
	}
	if IsRetryable(New(CodeValidation, "bad url")) {
		t.Fatal("validation errors are not retryable")
	}
	if IsRetryable(stdErrors.New("plain")) {
		t.Fatal("untyped errors are not retryable")
	}
}

func TestDumpCollectsChain(t *testing.T) {
	err := Wrap(CodeInternal, stdErrors.New("root"), "outer")
	d := Dump(err)
	if d.Code != CodeInternal {
		t.Fatalf("expected internal code, got %s", d.Code)
	}
	if len(d.Chain) < 2 {
		t.Fatalf("expected full chain, got %v", d.Chain)
	}
}
