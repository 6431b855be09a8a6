package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/brandgen/internal/domain"
	"google.golang.org/genai"
)

const geminiProvider = "gemini"

// GeminiConfig holds Gemini settings
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiProvider generates images with the Gemini API
type GeminiProvider struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiProvider creates a Gemini-backed Provider
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return &GeminiProvider{
		client: client,
		model:  cfg.Model,
		logger: logger,
	}, nil
}

func (g *GeminiProvider) Name() string { return geminiProvider }

// Synthesize sends the prompt plus reference images and collects every inline
// image in the response
func (g *GeminiProvider) Synthesize(ctx context.Context, req Request) ([]Image, error) {
	if req.Prompt == "" {
		return nil, &domain.ProviderError{
			Provider:   geminiProvider,
			StatusCode: http.StatusBadRequest,
			Err:        errors.New("empty prompt"),
		}
	}

	parts := make([]*genai.Part, 0, len(req.References)+1)
	for _, ref := range req.References {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: ref.Data, MIMEType: ref.MIMEType},
		})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	g.logger.DebugContext(ctx, "Making Gemini API call",
		slog.String("model", g.model),
		slog.Int("prompt_length", len(req.Prompt)),
		slog.Int("references", len(req.References)),
	)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &domain.ProviderError{Provider: geminiProvider, Err: domain.ErrNoOutputs}
	}

	var images []Image
	for _, cand := range resp.Candidates {
		if cand.FinishReason == genai.FinishReasonSafety {
			return nil, &domain.ProviderError{
				Provider:   geminiProvider,
				StatusCode: http.StatusUnprocessableEntity,
				Err:        errors.New("content blocked by safety filters"),
			}
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			images = append(images, Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
		}
	}

	if len(images) == 0 {
		return nil, &domain.ProviderError{Provider: geminiProvider, Err: domain.ErrNoOutputs}
	}

	g.logger.DebugContext(ctx, "Gemini API call successful", slog.Int("images", len(images)))

	return images, nil
}

// classifyGeminiError maps API errors onto ProviderError so the status code
// drives retry classification; transport errors pass through unchanged
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{Provider: geminiProvider, StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &domain.ProviderError{Provider: geminiProvider, StatusCode: apiErrPtr.Code, Err: err}
	}
	return fmt.Errorf("gemini request failed: %w", err)
}
