package recognition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Recognizer interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Recognizer instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Recognize transcribes the text on a bill image
func (g *Gemini) Recognize(imageData []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Prepare image data (convert to PNG if needed)
	finalImageData, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}

	// genai.ImageData expects just the format suffix (e.g., "png"),
	// not the full MIME type. After prepareImageData everything is PNG.
	parts := []genai.Part{
		genai.ImageData("png", finalImageData),
		genai.Text(transcribePrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return stripCodeFences(responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// stripCodeFences removes markdown code fences some models wrap their
// transcription in despite the prompt.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
