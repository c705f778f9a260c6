package local

import (
	"context"
	"errors"
	"testing"
)

func TestUnimplementedReturnsErrNotImplemented(t *testing.T) {
	var c Unimplemented

	if _, err := c.Complete(context.Background(), nil); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Complete() error = %v, want %v", err, ErrNotImplemented)
	}
	if _, err := c.Stream(context.Background(), nil); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Stream() error = %v, want %v", err, ErrNotImplemented)
	}
	if _, err := c.ListModels(context.Background()); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("ListModels() error = %v, want %v", err, ErrNotImplemented)
	}
	if c.IsAvailable(context.Background()) {
		t.Fatal("IsAvailable() = true, want false")
	}
}
