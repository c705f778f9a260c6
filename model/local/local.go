// Package local documents the interface a local-inference adapter (e.g. an
// Ollama- or llama.cpp-backed server) would satisfy to participate in the
// provider router's "local" tier. It intentionally ships no network code:
// orchard's scope excludes individual LLM wire protocols beyond the three
// provider adapters that exist to exercise the Provider contract.
package local

import (
	"context"
	"errors"

	"github.com/orchardhq/orchard/model"
)

// ErrNotImplemented is returned by every Unimplemented method. Callers that
// need a local-inference tier should implement model.Client directly against
// their chosen runtime and register it with model.Router under model.TierLocal.
var ErrNotImplemented = errors.New("local: no local-inference adapter is configured")

// Unimplemented is a model.Client placeholder documenting the shape expected
// of a real local-inference adapter.
type Unimplemented struct{}

func (Unimplemented) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, ErrNotImplemented
}

func (Unimplemented) Stream(ctx context.Context, req *model.Request) (model.Stream, error) {
	return nil, ErrNotImplemented
}

func (Unimplemented) IsAvailable(ctx context.Context) bool { return false }

func (Unimplemented) ListModels(ctx context.Context) ([]string, error) {
	return nil, ErrNotImplemented
}
