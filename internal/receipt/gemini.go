package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"ledger/internal/core"
	"ledger/internal/log"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = "gemini-2.5-flash"

// Categories the model may suggest for a receipt.
var Categories = []string{
	"housing", "transportation", "groceries", "utilities", "entertainment", "food",
	"shopping", "healthcare", "education", "personal", "travel", "insurance",
	"gifts", "bills", "other-expense",
}

// ErrInvalidResponse means the model answered with something that is not a receipt JSON object.
var ErrInvalidResponse = errors.New("invalid response format from model")

var receiptPrompt = "Analyze this receipt image and extract the following information in JSON format:\n" +
	"- Total amount (just the number)\n" +
	"- Date (in ISO format)\n" +
	"- Description or items purchased (brief summary)\n" +
	"- Merchant/store name\n" +
	"- Suggested category (one of: " + strings.Join(Categories, ",") + ")\n\n" +
	"Only respond with valid JSON in this exact format:\n" +
	"{\n" +
	"  \"amount\": number,\n" +
	"  \"date\": \"ISO date string\",\n" +
	"  \"description\": \"string\",\n" +
	"  \"merchantName\": \"string\",\n" +
	"  \"category\": \"string\"\n" +
	"}\n\n" +
	"If it is not a receipt, return an empty object.\n" +
	"Do NOT wrap the response in code fences.\n"

// GeminiExtractor reads receipt fields from an image with a Gemini model.
type GeminiExtractor struct {
	client *genai.Client
	model  string
	logger *log.Logger
}

func NewGeminiExtractor(ctx context.Context, apiKey, model string, logger *log.Logger) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = DefaultModelName
	}
	if logger == nil {
		logger = log.Discard()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiExtractor{
		client: client,
		model:  model,
		logger: logger.WithComponent(log.ComponentReceipt),
	}, nil
}

// Extract implements ports.ReceiptExtractor.
func (g *GeminiExtractor) Extract(ctx context.Context, image []byte, mimeType string) (core.ReceiptFields, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     image,
					},
				},
				{Text: receiptPrompt},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return core.ReceiptFields{}, fmt.Errorf("generate content: %w", err)
	}

	fields, err := parseReceiptJSON(resp.Text())
	if err != nil {
		g.logger.WarnContext(ctx, "Unparseable receipt response",
			log.FieldOperation, log.OpExtract,
			log.FieldError, err)
		return core.ReceiptFields{}, err
	}

	g.logger.InfoContext(ctx, "Receipt extracted",
		log.FieldOperation, log.OpExtract,
		"empty", fields.IsEmpty(),
		"merchant", fields.MerchantName)
	return fields, nil
}

type receiptJSON struct {
	Amount       decimal.NullDecimal `json:"amount"`
	Date         string              `json:"date"`
	Description  string              `json:"description"`
	MerchantName string              `json:"merchantName"`
	Category     string              `json:"category"`
}

// parseReceiptJSON decodes the model output. An empty object yields empty
// fields; a malformed amount or date is dropped rather than failing the scan.
func parseReceiptJSON(raw string) (core.ReceiptFields, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return core.ReceiptFields{}, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}

	var r receiptJSON
	if err := json.Unmarshal([]byte(clean), &r); err != nil {
		return core.ReceiptFields{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	fields := core.ReceiptFields{
		Description:  strings.TrimSpace(r.Description),
		MerchantName: strings.TrimSpace(r.MerchantName),
		Category:     normalizeCategory(r.Category),
	}
	if r.Amount.Valid {
		if m, err := core.MoneyFromDecimal(r.Amount.Decimal.Abs()); err == nil {
			fields.Amount = m
		}
	}
	if d := strings.TrimSpace(r.Date); d != "" {
		if len(d) > len(core.DateLayout) && d[len(core.DateLayout)] == 'T' {
			d = d[:len(core.DateLayout)]
		}
		if parsed, err := core.ParseDate(d); err == nil {
			fields.Date = parsed
		}
	}
	return fields, nil
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return ""
	}
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return "other-expense"
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost object if the model added prose around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
