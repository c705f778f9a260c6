// Package bedrock adapts github.com/aws/aws-sdk-go-v2/service/bedrockruntime
// to the provider contract in package model. It serves the private-cloud
// sensitivity tier in the provider router (§4.8): requests never leave the
// caller's AWS account boundary.
package bedrock

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/orchardhq/orchard/model"
)

// Client adapts the Bedrock Converse API to model.Client.
type Client struct {
	sdk          *bedrockruntime.Client
	defaultModel string
}

// New constructs a Client from an aws.Config and a default model (inference
// profile or foundation model) identifier.
func New(cfg aws.Config, defaultModel string) *Client {
	return &Client{sdk: bedrockruntime.NewFromConfig(cfg), defaultModel: defaultModel}
}

func (c *Client) resolveModel(req *model.Request) string {
	if req.Options.Model != "" {
		return req.Options.Model
	}
	if c.defaultModel != "" {
		return c.defaultModel
	}
	return "anthropic.claude-3-5-sonnet-20241022-v2:0"
}

func toConverseMessages(msgs []*model.Message) []types.Message {
	var out []types.Message
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			continue
		}
		var blocks []types.ContentBlock
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: tp.Text})
			}
		}
		role := types.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out
}

// Complete performs a non-streaming invocation via Converse.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.resolveModel(req)),
		Messages: toConverseMessages(req.Messages),
	}
	if req.Options.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.Options.MaxTokens)),
		}
	}
	out, err := c.sdk.Converse(ctx, input)
	if err != nil {
		return nil, classify(err)
	}
	resp := &model.Response{}
	if out.Usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		out := model.Message{Role: model.RoleAssistant}
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				out.Parts = append(out.Parts, model.TextPart{Text: text.Value})
			}
		}
		resp.Content = []model.Message{out}
	}
	resp.StopReason = string(out.StopReason)
	return resp, nil
}

// Stream performs a streaming invocation via ConverseStream.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Stream, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.resolveModel(req)),
		Messages: toConverseMessages(req.Messages),
	}
	out, err := c.sdk.ConverseStream(ctx, input)
	if err != nil {
		return nil, classify(err)
	}
	return &stream{events: out.GetStream()}, nil
}

// IsAvailable always reports true; Bedrock exposes no lightweight liveness
// endpoint distinct from a real invocation.
func (c *Client) IsAvailable(ctx context.Context) bool { return true }

// ListModels is unsupported by this adapter; the foundation-model catalog is
// managed through the separate bedrock (non-runtime) control-plane API.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	return nil, errors.New("bedrock: list-models not supported by the runtime client")
}

type stream struct {
	events *bedrockruntime.ConverseStreamEventStream
}

func (s *stream) Recv() (model.Chunk, error) {
	for event := range s.events.Events() {
		switch variant := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if text, ok := variant.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
				return model.Chunk{Type: model.ChunkTextDelta, Text: text.Value}, nil
			}
		case *types.ConverseStreamOutputMemberMetadata:
			if variant.Value.Usage != nil {
				return model.Chunk{Type: model.ChunkUsage, Usage: &model.TokenUsage{
					InputTokens:  int(aws.ToInt32(variant.Value.Usage.InputTokens)),
					OutputTokens: int(aws.ToInt32(variant.Value.Usage.OutputTokens)),
				}}, nil
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			return model.Chunk{Type: model.ChunkDone}, nil
		}
	}
	if err := s.events.Err(); err != nil {
		return model.Chunk{Type: model.ChunkError, Err: classify(err)}, nil
	}
	return model.Chunk{Type: model.ChunkDone}, nil
}

func (s *stream) Close() error { return s.events.Close() }

func classify(err error) *model.Error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException":
			return model.NewError("bedrock", model.ErrorAuthenticationFailed, apiErr.ErrorMessage(), err)
		case "ThrottlingException":
			return model.NewError("bedrock", model.ErrorRateLimited, apiErr.ErrorMessage(), err)
		case "ValidationException":
			return model.NewError("bedrock", model.ErrorInvalidRequest, apiErr.ErrorMessage(), err)
		case "ResourceNotFoundException":
			return model.NewError("bedrock", model.ErrorModelNotFound, apiErr.ErrorMessage(), err)
		case "ModelTimeoutException", "ServiceUnavailableException":
			return model.NewError("bedrock", model.ErrorProviderUnavailable, apiErr.ErrorMessage(), err)
		}
	}
	return model.NewError("bedrock", model.ErrorNetworkError, err.Error(), err)
}
