// Package gemini adapts Google's Gemini API to the CompletionPort.
package gemini

import (
	"SelamBot/internal/core/ports"
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Client implements the CompletionPort on top of a Gemini model.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
	log    zerolog.Logger
}

var _ ports.CompletionPort = (*Client)(nil)

// NewClient creates a Gemini-backed completion client. Close it on
// shutdown to release the underlying connection.
func NewClient(ctx context.Context, apiKey, model string, baseLogger *zerolog.Logger) (*Client, error) {
	log := baseLogger.With().Str("component", "gemini_client").Logger()

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Gemini client")
		return nil, err
	}

	log.Info().Str("model", model).Msg("Gemini client ready")
	return &Client{
		client: client,
		model:  client.GenerativeModel(model),
		log:    log,
	}, nil
}

// GetCompletion sends the prompt and returns the first candidate's text.
func (c *Client) GetCompletion(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		c.log.Error().Err(err).Msg("Gemini request failed")
		return "", err
	}

	text := extractText(resp)
	if text == "" {
		// Safety blocks and empty candidates land here.
		c.log.Warn().Msg("Gemini returned no usable candidate")
		return "", errors.New("gemini returned an empty response")
	}
	return text, nil
}

// Close releases the underlying API connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// extractText flattens the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}

	var out string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out += string(text)
		}
	}
	return out
}
