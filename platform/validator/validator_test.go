package validator

import (
	"testing"

	"booking_sync_backend/platform/apperr"
)

type sample struct {
	Resource string `json:"resource" validate:"required,oneof=record client"`
	Name     string `json:"client_name" validate:"notblank"`
	Comment  string `validate:"max=3"`
}

func TestStructReportsFailures(t *testing.T) {
	err := New().Struct(sample{Resource: "invoice", Name: "  ", Comment: "long"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !apperr.IsDataError(err) {
		t.Fatalf("expected a validation kind, got %v", apperr.GetKind(err))
	}
	want := "resource: oneof, client_name: notblank, comment: max"
	if got := Describe(err); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestStructAcceptsValid(t *testing.T) {
	if err := New().Struct(sample{Resource: "record", Name: "Anna"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
