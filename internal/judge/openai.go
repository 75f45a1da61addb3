package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenAIJudge talks to any OpenAI-compatible chat endpoint, OpenRouter by default.
type OpenAIJudge struct {
	client       *openai.Client
	model        string
	compareModel string
	log          *slog.Logger
}

func NewOpenAIJudge(apiKey, baseURL, model, compareModel string, log *slog.Logger) *OpenAIJudge {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	cfg.BaseURL = baseURL
	if compareModel == "" {
		compareModel = model
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("initializing openai-compatible judge", "base_url", baseURL, "model", model, "compare_model", compareModel)
	return &OpenAIJudge{
		client:       openai.NewClientWithConfig(cfg),
		model:        model,
		compareModel: compareModel,
		log:          log,
	}
}

func (o *OpenAIJudge) Model() string { return o.model }

func imagePart(img Image) openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    img.DataURI(),
			Detail: openai.ImageURLDetailHigh,
		},
	}
}

func (o *OpenAIJudge) Judge(ctx context.Context, req Request) (*Verdict, error) {
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: BuildRulePrompt(req)}}
	if req.Reference != nil {
		parts = append(parts, imagePart(*req.Reference))
	}
	parts = append(parts, imagePart(req.Candidate))

	text, err := o.complete(ctx, o.model, SystemPrompt, parts, 80)
	if err != nil {
		return nil, err
	}
	return ParseVerdict(text)
}

func (o *OpenAIJudge) Compare(ctx context.Context, before, after Image) (*Comparison, error) {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: ComparePrompt},
		imagePart(before),
		imagePart(after),
	}
	text, err := o.complete(ctx, o.compareModel, CompareSystemPrompt, parts, 500)
	if err != nil {
		return nil, err
	}
	return ParseComparison(text)
}

func (o *OpenAIJudge) complete(ctx context.Context, model, system string, parts []openai.ChatMessagePart, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		MaxTokens:      maxTokens,
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	o.log.Debug("judge request", "model", model)

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && retryableStatus(apiErr.HTTPStatusCode) {
			return "", &RetryableError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && retryableStatus(reqErr.HTTPStatusCode) {
			return "", &RetryableError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
		}
		return "", fmt.Errorf("openai-compatible api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", model)
	}
	o.log.Debug("judge response", "model", model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
