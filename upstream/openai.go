package upstream

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultEmbeddingModel is used when the config does not name one.
const DefaultEmbeddingModel = "text-embedding-3-small"

// OpenAI implements Provider and Embedder against the OpenAI API.
type OpenAI struct {
	name       string
	embedModel string
	client     openai.Client
}

// NewOpenAI creates an OpenAI provider. baseURL overrides the API endpoint
// (pass "" for the default); embedModel selects the embedding model (pass ""
// for DefaultEmbeddingModel).
func NewOpenAI(apiKey, baseURL, embedModel string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if embedModel == "" {
		embedModel = DefaultEmbeddingModel
	}
	return &OpenAI{
		name:       "openai",
		embedModel: embedModel,
		client:     openai.NewClient(opts...),
	}
}

// Name returns the provider name.
func (p *OpenAI) Name() string { return p.name }

// SupportsModel returns true if the model matches known OpenAI prefixes.
func (p *OpenAI) SupportsModel(model string) bool {
	for _, prefix := range []string{"gpt-", "chatgpt-", "ft:", "babbage-", "davinci-"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	if len(model) >= 2 && model[0] == 'o' && model[1] >= '0' && model[1] <= '9' {
		return true
	}
	return false
}

// Complete sends a chat completion request to OpenAI.
func (p *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages: buildMessages(req.Messages),
		Model:    req.Model,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}

	resp := &Response{
		ID:      completion.ID,
		Object:  string(completion.Object),
		Created: completion.Created,
		Model:   completion.Model,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for i, choice := range completion.Choices {
		resp.Choices = append(resp.Choices, Choice{
			Index: i,
			Message: Message{
				Role:    string(choice.Message.Role),
				Content: choice.Message.Content,
			},
			FinishReason: string(choice.FinishReason),
		})
	}
	return resp, nil
}

// Embed returns the embedding vector for input using the configured
// embedding model.
func (p *OpenAI) Embed(ctx context.Context, input string) ([]float64, error) {
	result, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          p.embedModel,
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(input)},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, p.classify(err)
	}
	if len(result.Data) == 0 {
		return nil, &Error{Provider: p.name, Message: "embedding response contained no data"}
	}
	return result.Data[0].Embedding, nil
}

// classify maps SDK errors onto the upstream error taxonomy. Rate limits and
// 5xx responses are temporary; other HTTP errors are permanent.
func (p *OpenAI) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &Error{
			Provider:  p.name,
			Status:    apierr.StatusCode,
			Message:   apierr.Message,
			Temporary: apierr.StatusCode == 429 || apierr.StatusCode >= 500,
		}
	}
	return err
}

// buildMessages converts upstream Messages to the openai-go union type.
func buildMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
