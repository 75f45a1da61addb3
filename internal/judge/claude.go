package judge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

// ClaudeJudge calls the Anthropic Messages API with image content blocks.
type ClaudeJudge struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

func NewClaudeJudge(apiKey, model string) *ClaudeJudge {
	return &ClaudeJudge{
		apiKey:   apiKey,
		model:    model,
		endpoint: anthropicURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func imageBlock(img Image) contentBlock {
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	return contentBlock{
		Type: "image",
		Source: &imageSource{
			Type:      "base64",
			MediaType: mime,
			Data:      base64.StdEncoding.EncodeToString(img.Data),
		},
	}
}

func (c *ClaudeJudge) Model() string { return c.model }

// Judge asks Claude for a pass/fail verdict on one rule.
func (c *ClaudeJudge) Judge(ctx context.Context, req Request) (*Verdict, error) {
	blocks := []contentBlock{{Type: "text", Text: BuildRulePrompt(req)}}
	if req.Reference != nil {
		blocks = append(blocks, imageBlock(*req.Reference))
	}
	blocks = append(blocks, imageBlock(req.Candidate))

	text, err := c.complete(ctx, SystemPrompt, blocks, 256)
	if err != nil {
		return nil, err
	}
	return ParseVerdict(text)
}

// Compare asks Claude whether two rasters show the same drawing.
func (c *ClaudeJudge) Compare(ctx context.Context, before, after Image) (*Comparison, error) {
	blocks := []contentBlock{
		{Type: "text", Text: ComparePrompt},
		imageBlock(before),
		imageBlock(after),
	}
	text, err := c.complete(ctx, CompareSystemPrompt, blocks, 256)
	if err != nil {
		return nil, err
	}
	return ParseComparison(text)
}

func (c *ClaudeJudge) complete(ctx context.Context, system string, blocks []contentBlock, maxTokens int) (string, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: blocks},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("claude api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if retryableStatus(resp.StatusCode) {
		return "", &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("claude api status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("claude error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response from claude")
	}
	return apiResp.Content[0].Text, nil
}

// Close releases resources.
func (c *ClaudeJudge) Close() {
	c.httpClient.CloseIdleConnections()
}
