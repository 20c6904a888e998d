package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-sorter/internal/core"
	"github.com/mikey/llm-mail-sorter/internal/utils"
)

// BedrockClient is an implementation of the LLMClient interface using Amazon Bedrock
type BedrockClient struct {
	client        *bedrockruntime.Client
	modelID       string
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

// NewBedrockClient creates a new Bedrock client
func NewBedrockClient(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *BedrockClient {
	return &BedrockClient{
		client:        client,
		modelID:       modelID,
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
func (c *BedrockClient) CategorizeBatch(ctx context.Context, batch []core.ClassifierInput, categories []core.Category) ([]core.ClassifierResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(c.promptFormat, formatCategories(categories), c.formatBatch(batch))

	// Create the request based on the model
	var payload []byte
	var err error

	if c.isAnthropicModel() {
		// Anthropic Claude models
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":               prompt,
			"max_tokens_to_sample": c.maxTokens,
			"temperature":          c.temperature,
			"top_p":                c.topP,
		})
	} else if c.isAmazonTitanModel() {
		// Amazon Titan models
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
				"topP":          c.topP,
			},
		})
	} else {
		// Default to a generic format
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	// Call Bedrock API
	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	// Parse the response based on the model
	var responseText string

	if c.isAnthropicModel() {
		// Anthropic Claude models
		var claudeResp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(resp.Body, &claudeResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		responseText = claudeResp.Completion
	} else if c.isAmazonTitanModel() {
		// Amazon Titan models
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(resp.Body, &titanResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) > 0 {
			responseText = titanResp.Results[0].OutputText
		} else {
			return nil, fmt.Errorf("empty response from Titan model")
		}
	} else {
		// Try a generic approach
		var genericResp struct {
			Output   string `json:"output"`
			Text     string `json:"text"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal(resp.Body, &genericResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal generic response: %w", err)
		}

		// Try different fields
		if genericResp.Output != "" {
			responseText = genericResp.Output
		} else if genericResp.Text != "" {
			responseText = genericResp.Text
		} else if genericResp.Response != "" {
			responseText = genericResp.Response
		} else {
			// Just use the raw response as a string
			responseText = string(resp.Body)
		}
	}

	c.logger.Debug("received Bedrock response",
		zap.Int("batch_size", len(batch)),
		zap.String("model", c.modelID))

	return parseBatchResponse(responseText)
}

// formatBatch renders the numbered email list fed to the model
func (c *BedrockClient) formatBatch(batch []core.ClassifierInput) string {
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

// isAnthropicModel checks if the model is an Anthropic Claude model
func (c *BedrockClient) isAnthropicModel() bool {
	return strings.HasPrefix(c.modelID, "anthropic.claude")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (c *BedrockClient) isAmazonTitanModel() bool {
	return strings.HasPrefix(c.modelID, "amazon.titan")
}
