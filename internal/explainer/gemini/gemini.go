// Package gemini implements explainer.Explainer on Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sakif/nalar/internal/config"
	"github.com/sakif/nalar/internal/explainer"
)

const defaultModel = "gemini-2.5-flash"

// generator is the part of *genai.GenerativeModel the explainer uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Explainer asks Gemini for explanations. One client is shared for the life
// of the runner; Close releases it.
type Explainer struct {
	client *genai.Client
	model  generator
	name   string
	logger *slog.Logger
}

// New connects with cfg.APIKey. It returns explainer.ErrNotConfigured when the
// key is empty so the caller can fall back to explainer.Unconfigured.
func New(ctx context.Context, cfg config.GeminiConfig, logger *slog.Logger) (*Explainer, error) {
	if cfg.APIKey == "" {
		return nil, explainer.ErrNotConfigured
	}
	name := cfg.Model
	if name == "" {
		name = defaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	m := client.GenerativeModel(name)
	// A little variety reads more naturally than temperature 0, but the
	// explanation should not wander.
	m.SetTemperature(0.3)
	m.SetMaxOutputTokens(1024)

	return &Explainer{client: client, model: m, name: name, logger: logger}, nil
}

func (e *Explainer) Close() error {
	return e.client.Close()
}

func (e *Explainer) Explain(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", errors.New("gemini: code is empty")
	}

	start := time.Now()
	resp, err := e.model.GenerateContent(ctx, genai.Text(explainer.BuildPrompt(code)))
	if err != nil {
		return "", fmt.Errorf("gemini: generation error: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", errors.New("gemini: empty response")
	}

	attrs := []any{slog.String("model", e.name), slog.Int64("latencyMs", time.Since(start).Milliseconds())}
	if resp.UsageMetadata != nil {
		attrs = append(attrs, slog.Int("tokens", int(resp.UsageMetadata.TotalTokenCount)))
	}
	e.logger.InfoContext(ctx, "explanation generated", attrs...)

	return text, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

var _ explainer.Explainer = (*Explainer)(nil)
