package receipt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Data holds the fields extracted from a receipt image. Amounts are in
// the receipt's own currency; conversion to the company base currency
// happens at submission time.
type Data struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Date        string  `json:"date"`
	Merchant    string  `json:"merchant"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}

// Extractor reads receipt files and extracts expense data using the
// vision chat completion API.
type Extractor struct {
	client   *openai.Client
	model    string
	renderer *renderer
	logger   *zap.Logger
}

func NewExtractor(apiKey, model string, logger *zap.Logger) *Extractor {
	return &Extractor{
		client:   openai.NewClient(apiKey),
		model:    model,
		renderer: &renderer{logger: logger},
		logger:   logger,
	}
}

// Extract renders the receipt file to images and asks the vision model
// for the expense fields. PDFs are capped at the first two pages.
func (e *Extractor) Extract(ctx context.Context, path string) (*Data, error) {
	e.logger.Info("Extracting receipt data", zap.String("path", path))

	images, err := e.renderer.render(path)
	if err != nil {
		return nil, fmt.Errorf("failed to render receipt: %w", err)
	}

	maxPages := 2
	if len(images) < maxPages {
		maxPages = len(images)
	}

	return e.extractWithVision(ctx, images[:maxPages])
}

func (e *Extractor) extractWithVision(ctx context.Context, images [][]byte) (*Data, error) {
	contentParts := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: visionPrompt,
		},
	}

	for _, imgData := range images {
		contentParts = append(contentParts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(imgData)),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		MaxTokens:   1024,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert at reading receipts and invoices. You extract amounts, dates, and merchant details with perfect accuracy. Always respond with valid JSON.",
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: contentParts,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Error("Vision API call failed", zap.Error(err))
		return nil, fmt.Errorf("vision API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from vision API")
	}

	content := resp.Choices[0].Message.Content
	var data Data
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		e.logger.Error("Failed to parse vision response",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if data.Amount <= 0 {
		e.logger.Warn("Could not extract a positive amount",
			zap.String("raw_response", content))
	}

	e.logger.Info("Receipt data extracted",
		zap.Float64("amount", data.Amount),
		zap.String("currency", data.Currency),
		zap.String("merchant", data.Merchant))

	return &data, nil
}

const visionPrompt = `Examine this receipt or invoice image and extract the expense details.

Extract these fields:
- amount: the total amount paid, as a number without currency symbols
- currency: the ISO 4217 currency code (e.g. USD, EUR, CNY); infer from symbols if not printed
- date: the transaction date in YYYY-MM-DD format
- merchant: the merchant or vendor name
- category: one of Travel, Meals, Accommodation, Office Supplies, Software, Other
- description: a one-line summary of what was purchased

Return a JSON object with this exact structure:
{
  "amount": number,
  "currency": "string",
  "date": "YYYY-MM-DD",
  "merchant": "string",
  "category": "string",
  "description": "string"
}

Extract exactly what you see. If a field is not visible, use empty string "" or 0.`
