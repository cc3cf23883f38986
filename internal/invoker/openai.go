// Package invoker provides stock ModelInvoker implementations. The engine
// treats model invocation as an opaque capability; anything that can
// generate text behind contracts.ModelInvoker plugs in.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// DefaultOpenAIModel is used when neither the invoker nor the request
// names a model.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIInvoker implements contracts.ModelInvoker over the OpenAI Chat
// Completions API.
type OpenAIInvoker struct {
	client *openai.Client
	model  string
}

// NewOpenAIInvoker creates an invoker with the given API key and default
// model ("" for DefaultOpenAIModel).
func NewOpenAIInvoker(apiKey, model string) *OpenAIInvoker {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIInvoker{client: openai.NewClient(apiKey), model: model}
}

// Generate implements contracts.ModelInvoker.
func (o *OpenAIInvoker) Generate(ctx context.Context, req models.GenerateRequest) (*models.GenerateResponse, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}

	out := &models.GenerateResponse{
		Usage: &models.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

// Stream implements contracts.ModelInvoker. fn receives each content
// delta; the returned response carries the accumulated text.
func (o *OpenAIInvoker) Stream(ctx context.Context, req models.GenerateRequest, fn contracts.StreamFunc) (*models.GenerateResponse, error) {
	apiReq := o.buildRequest(req, true)
	stream, err := o.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	out := &models.GenerateResponse{}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai stream recv: %w", err)
		}
		if chunk.Usage != nil {
			out.Usage = &models.TokenUsage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			out.FinishReason = string(fr)
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if fn != nil {
			if err := fn(delta); err != nil {
				return nil, fmt.Errorf("stream consumer: %w", err)
			}
		}
	}

	out.Text = sb.String()
	return out, nil
}

func (o *OpenAIInvoker) buildRequest(req models.GenerateRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = o.model
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem && req.System != "" {
			// The assembled prompt context replaces caller system messages.
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Text(),
		})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      stream,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if stream {
		apiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return apiReq
}

var _ contracts.ModelInvoker = (*OpenAIInvoker)(nil)
