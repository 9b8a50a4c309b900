// Package multimodal handles the image side of ingestion: describing
// extracted figures with a vision-capable model and registering them in the
// image metadata store.
package multimodal

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const describePrompt = `Analyze this figure from a research paper. Describe:
1. What type of visualization it is (chart, diagram, photo, etc.)
2. What data or information it shows
3. Key findings or patterns visible
4. Any labels, legends, or annotations

Be technical and precise.`

// Describer produces a textual description of an extracted figure.
type Describer interface {
	Describe(ctx context.Context, imagePath string) (string, error)
}

type Options struct {
	Model   string
	APIKey  string
	BaseURL string
}

// VisionDescriber sends the image to an OpenAI-compatible vision chat model.
type VisionDescriber struct {
	client *openai.Client
	model  string
}

func NewVisionDescriber(opts Options) *VisionDescriber {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &VisionDescriber{
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}
}

func (d *VisionDescriber) Describe(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: describePrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: dataURL(imagePath, data),
						},
					},
				},
			},
		},
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

var _ Describer = (*VisionDescriber)(nil)

func dataURL(path string, data []byte) string {
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}
