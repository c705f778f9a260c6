package model

import (
	"context"
	"testing"
)

type fakeClient struct{}

func (fakeClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	return &Response{}, nil
}

func (fakeClient) Stream(ctx context.Context, req *Request) (Stream, error) {
	return nil, nil
}

func (fakeClient) IsAvailable(ctx context.Context) bool { return true }

func (fakeClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func TestPartMarkerTypesImplementPart(t *testing.T) {
	var parts = []Part{
		TextPart{Text: "hi"},
		ThinkingPart{Text: "reasoning"},
		ToolUsePart{ID: "1", Name: "tool"},
		ToolResultPart{ToolUseID: "1", Content: "ok"},
	}
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
}

func TestMessageCarriesRoleAndParts(t *testing.T) {
	msg := Message{Role: RoleUser, Parts: []Part{TextPart{Text: "hello"}}}
	if msg.Role != RoleUser {
		t.Fatalf("Role = %v, want %v", msg.Role, RoleUser)
	}
	tp, ok := msg.Parts[0].(TextPart)
	if !ok || tp.Text != "hello" {
		t.Fatalf("unexpected part: %#v", msg.Parts[0])
	}
}
