package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrapRoundTrip(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, CategoryStateContention, "config_lock_timeout", "retry once the other writer is done", true)
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if CategoryOf(err) != CategoryStateContention {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "config_lock_timeout" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "retry once the other writer is done" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if !RetryableOf(err) {
		t.Fatal("expected retryable true")
	}
	if !stderrors.Is(err, base) {
		t.Fatal("expected wrapped error to preserve cause")
	}
}

func TestClassificationSurvivesFurtherWrapping(t *testing.T) {
	err := Wrap(stderrors.New("missing"), CategoryNotFound, "project_not_found", "", false)
	outer := fmt.Errorf("open project: %w", err)
	if CategoryOf(outer) != CategoryNotFound {
		t.Fatalf("unexpected category: %s", CategoryOf(outer))
	}
	if CodeOf(outer) != "project_not_found" {
		t.Fatalf("unexpected code: %s", CodeOf(outer))
	}
}

func TestUnknownErrorDefaults(t *testing.T) {
	err := stderrors.New("plain")
	if CategoryOf(err) != "" {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if RetryableOf(err) {
		t.Fatal("expected retryable false")
	}
}

func TestDescribe(t *testing.T) {
	if _, ok := Describe(stderrors.New("plain")); ok {
		t.Fatal("expected plain error to be unclassified")
	}
	inner := Wrap(stderrors.New("gone"), CategoryNotFound, "review_not_found", "", false)
	outer := Wrap(fmt.Errorf("simulate: %w", inner), CategoryLifecycle, "review_failed", "inspect the error record", false)
	details, ok := Describe(outer)
	if !ok {
		t.Fatal("expected classified error")
	}
	want := Details{Category: CategoryLifecycle, Code: "review_failed", Hint: "inspect the error record"}
	if details != want {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, CategoryIOFailure, "x", "", false) != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestDefaultRetryable(t *testing.T) {
	if !DefaultRetryable(CategoryStateContention) {
		t.Fatal("state contention should be retryable")
	}
	if DefaultRetryable(CategoryInvalidInput) {
		t.Fatal("invalid input should not be retryable")
	}
}
