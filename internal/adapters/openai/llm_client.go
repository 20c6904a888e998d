package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-sorter/internal/core"
	"github.com/mikey/llm-mail-sorter/internal/utils"
)

// OpenAIClient is an implementation of the LLMClient interface using OpenAI
type OpenAIClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	promptFormat  string
	textProcessor *utils.TextProcessor
}

// BatchResponse represents the structured response from the LLM
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// BatchResult is one classification inside a BatchResponse
type BatchResult struct {
	Index      int     `json:"index"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *OpenAIClient {
	return &OpenAIClient{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
		promptFormat: `You are an email sorting assistant. Sort each of the following emails into exactly one of these categories:

%s

Respond with a JSON object containing a "results" array with one entry per email:
- index: number (the position of the email in the list below, starting at 0)
- category: string (the name of the chosen category, exactly as listed above)
- confidence: number between 0 and 100 (how confident you are in the choice)
- reasoning: string (brief explanation of why the email belongs in that category)

Emails:
%s

Respond only with the JSON object and nothing else.`,
	}
}

// CategorizeBatch classifies a batch of emails against the category list
func (c *OpenAIClient) CategorizeBatch(ctx context.Context, batch []core.ClassifierInput, categories []core.Category) ([]core.ClassifierResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(c.promptFormat, formatCategories(categories), c.formatBatch(batch))

	// Create the request
	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an email sorting assistant. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}

	// Call OpenAI API
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	c.logger.Debug("received OpenAI response",
		zap.Int("batch_size", len(batch)),
		zap.String("model", c.modelName),
		zap.String("processing_id", resp.ID))

	return parseBatchResponse(resp.Choices[0].Message.Content)
}

// formatBatch renders the numbered email list fed to the model
func (c *OpenAIClient) formatBatch(batch []core.ClassifierInput) string {
	var b strings.Builder
	for i, input := range batch {
		if i > 0 {
			b.WriteString("\n")
		}
		body := c.textProcessor.ProcessText(input.Body, c.maxBodySize)
		fmt.Fprintf(&b, "Email %d:\nFrom: %s\nTo: %s\nSubject: %s\nBody:\n%s\n",
			i, input.Ref.From, input.Ref.To, input.Ref.Subject, body)
	}
	return b.String()
}

// formatCategories renders the category list fed to the model
func formatCategories(categories []core.Category) string {
	var b strings.Builder
	for _, cat := range categories {
		fmt.Fprintf(&b, "- %s: %s\n", cat.Name, cat.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseBatchResponse parses the LLM's JSON response
func parseBatchResponse(responseText string) ([]core.ClassifierResult, error) {
	var batchResp BatchResponse
	if err := json.Unmarshal([]byte(responseText), &batchResp); err != nil {
		// Try to extract JSON from the text response
		jsonStart := 0
		jsonEnd := len(responseText)

		// Find JSON start
		for i := 0; i < len(responseText); i++ {
			if responseText[i] == '{' {
				jsonStart = i
				break
			}
		}

		// Find JSON end
		for i := len(responseText) - 1; i >= 0; i-- {
			if responseText[i] == '}' {
				jsonEnd = i + 1
				break
			}
		}

		if jsonStart < jsonEnd {
			jsonStr := responseText[jsonStart:jsonEnd]
			if err := json.Unmarshal([]byte(jsonStr), &batchResp); err != nil {
				return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to extract JSON from LLM response: %w", err)
		}
	}

	results := make([]core.ClassifierResult, 0, len(batchResp.Results))
	for _, r := range batchResp.Results {
		results = append(results, core.ClassifierResult{
			Index:      r.Index,
			Category:   r.Category,
			Confidence: r.Confidence,
			Rationale:  r.Reasoning,
		})
	}
	return results, nil
}
