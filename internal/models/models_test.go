package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestFieldValueRoundTrip(t *testing.T) {
	var n NewsItem
	for _, f := range CompletableFields() {
		if got := n.FieldValue(f); got != "" {
			t.Errorf("empty item: FieldValue(%s) = %q, want empty", f, got)
		}
		n.SetFieldValue(f, "v:"+string(f))
	}
	for _, f := range CompletableFields() {
		if got := n.FieldValue(f); got != "v:"+string(f) {
			t.Errorf("FieldValue(%s) = %q after SetFieldValue", f, got)
		}
	}
}

func TestFilledFieldCount(t *testing.T) {
	var n NewsItem
	if n.FilledFieldCount() != 0 {
		t.Fatalf("FilledFieldCount = %d, want 0", n.FilledFieldCount())
	}
	n.Body = "body"
	n.Tags = "a,b"
	n.ImageURL = "https://example.org/a.jpg"
	if got := n.FilledFieldCount(); got != 3 {
		t.Fatalf("FilledFieldCount = %d, want 3", got)
	}
}

func TestCompletableFieldsCount(t *testing.T) {
	if got := len(CompletableFields()); got != 15 {
		t.Fatalf("CompletableFields returned %d fields, want 15", got)
	}
}

func TestKindOf(t *testing.T) {
	err := NewCallError(ErrorKindTooManyRequests, "429 from upstream")
	if KindOf(err) != ErrorKindTooManyRequests {
		t.Errorf("KindOf(call error) = %s", KindOf(err))
	}
	wrapped := fmt.Errorf("stage failed: %w", err)
	if KindOf(wrapped) != ErrorKindTooManyRequests {
		t.Errorf("KindOf(wrapped) = %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != ErrorKindGeneric {
		t.Errorf("KindOf(plain) should default to generic")
	}
}
