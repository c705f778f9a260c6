// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// provider contract in package model.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/orchardhq/orchard/model"
)

// Client adapts the Anthropic Messages API to model.Client.
type Client struct {
	sdk          anthropicsdk.Client
	defaultModel string
}

// New constructs a Client from an API key and a default model identifier
// used when a Request does not specify Options.Model.
func New(apiKey, defaultModel string) *Client {
	return &Client{
		sdk:          anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}
}

func (c *Client) resolveModel(req *model.Request) string {
	if req.Options.Model != "" {
		return req.Options.Model
	}
	switch req.Options.ModelClass {
	case model.ModelClassSmall:
		return "claude-haiku-4-5"
	case model.ModelClassHighReasoning:
		return "claude-opus-4-5"
	default:
		if c.defaultModel != "" {
			return c.defaultModel
		}
		return "claude-sonnet-4-5"
	}
}

func toAnthropicMessages(msgs []*model.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			// system messages are folded into the request's system prompt by
			// the caller; skip here.
			continue
		}
		var blocks []anthropicsdk.ContentBlockParamUnion
		for _, p := range m.Parts {
			switch part := p.(type) {
			case model.TextPart:
				blocks = append(blocks, anthropicsdk.NewTextBlock(part.Text))
			case model.ToolUsePart:
				var input any
				_ = json.Unmarshal(part.Input, &input)
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(part.ID, input, part.Name))
			case model.ToolResultPart:
				content, _ := json.Marshal(part.Content)
				blocks = append(blocks, anthropicsdk.NewToolResultBlock(part.ToolUseID, string(content), part.IsError))
			}
		}
		if m.Role == model.RoleAssistant {
			out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropicsdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func toAnthropicTools(defs []*model.ToolDefinition) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        d.Name,
				Description: anthropicsdk.String(d.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{},
			},
		})
	}
	return out
}

func systemPrompt(req *model.Request) string {
	if req.Options.SystemPrompt != "" {
		return req.Options.SystemPrompt
	}
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				if tp, ok := p.(model.TextPart); ok {
					return tp.Text
				}
			}
		}
	}
	return ""
}

func (c *Client) newParams(req *model.Request) anthropicsdk.MessageNewParams {
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.resolveModel(req)),
		Messages:  toAnthropicMessages(req.Messages),
		MaxTokens: int64(req.Options.MaxTokens),
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = 4096
	}
	if sp := systemPrompt(req); sp != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: sp}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	return params
}

// Complete performs a non-streaming invocation.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params := c.newParams(req)
	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	resp := &model.Response{
		StopReason: string(msg.StopReason),
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	out := model.Message{Role: model.RoleAssistant}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			out.Parts = append(out.Parts, model.TextPart{Text: variant.Text})
		case anthropicsdk.ToolUseBlock:
			payload, _ := json.Marshal(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: payload,
			})
		}
	}
	resp.Content = []model.Message{out}
	return resp, nil
}

// Stream performs a streaming invocation.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Stream, error) {
	params := c.newParams(req)
	sdkStream := c.sdk.Messages.NewStreaming(ctx, params)
	return &stream{sdk: sdkStream}, nil
}

// IsAvailable reports reachability by attempting a minimal request is not
// performed here to avoid side effects; callers that need a liveness probe
// should use a dedicated health check endpoint. This always reports true
// when a client was constructed with credentials.
func (c *Client) IsAvailable(ctx context.Context) bool { return true }

// ListModels is unsupported by the Anthropic API; it returns a curated
// static list of current model identifiers.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	return []string{"claude-opus-4-5", "claude-sonnet-4-5", "claude-haiku-4-5"}, nil
}

type stream struct {
	sdk         *anthropicsdk.MessageStream
	currentTool *model.ToolCall
	toolBuf     []byte
}

func (s *stream) Recv() (model.Chunk, error) {
	for s.sdk.Next() {
		event := s.sdk.Current()
		switch variant := event.AsAny().(type) {
		case anthropicsdk.ContentBlockStartEvent:
			if tu, ok := variant.ContentBlock.AsAny().(anthropicsdk.ToolUseBlock); ok {
				s.currentTool = &model.ToolCall{ID: tu.ID, Name: tu.Name}
				s.toolBuf = s.toolBuf[:0]
			}
		case anthropicsdk.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropicsdk.TextDelta:
				return model.Chunk{Type: model.ChunkTextDelta, Text: delta.Text}, nil
			case anthropicsdk.InputJSONDelta:
				s.toolBuf = append(s.toolBuf, delta.PartialJSON...)
			}
		case anthropicsdk.ContentBlockStopEvent:
			if s.currentTool != nil {
				s.currentTool.Input = json.RawMessage(s.toolBuf)
				tc := *s.currentTool
				s.currentTool = nil
				return model.Chunk{Type: model.ChunkToolCall, ToolCall: &tc}, nil
			}
		case anthropicsdk.MessageDeltaEvent:
			return model.Chunk{Type: model.ChunkUsage, Usage: &model.TokenUsage{
				OutputTokens: int(variant.Usage.OutputTokens),
			}}, nil
		case anthropicsdk.MessageStopEvent:
			return model.Chunk{Type: model.ChunkDone}, nil
		}
	}
	if err := s.sdk.Err(); err != nil && !errors.Is(err, io.EOF) {
		return model.Chunk{Type: model.ChunkError, Err: classify(err)}, nil
	}
	return model.Chunk{Type: model.ChunkDone}, nil
}

func (s *stream) Close() error { return s.sdk.Close() }

func classify(err error) *model.Error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return model.NewError("anthropic", model.ErrorAuthenticationFailed, apiErr.Error(), err)
		case 429:
			return model.NewError("anthropic", model.ErrorRateLimited, apiErr.Error(), err)
		case 400:
			return model.NewError("anthropic", model.ErrorInvalidRequest, apiErr.Error(), err)
		case 404:
			return model.NewError("anthropic", model.ErrorModelNotFound, apiErr.Error(), err)
		case 529, 503:
			return model.NewError("anthropic", model.ErrorProviderUnavailable, apiErr.Error(), err)
		}
	}
	return model.NewError("anthropic", model.ErrorNetworkError, err.Error(), err)
}
