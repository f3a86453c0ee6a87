// Package llm wraps the Gemini API for article summarization.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"curator/internal/core"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model used for summarization.
	DefaultModel = "gemini-flash-lite-latest"

	// StandardSummaryPromptTemplate asks for the long-form summary stored
	// at the standard summary path.
	StandardSummaryPromptTemplate = `Summarize the following article in 150-250 words. Capture the main argument, the key supporting points, and any concrete results or numbers. Write only the summary, no meta-commentary.

Article:
---
%s
---`

	// BriefSummaryPromptTemplate asks for the newsletter-sized summary
	// stored at the short summary path.
	BriefSummaryPromptTemplate = `Summarize the following article in 2-3 sentences for a newsletter reader deciding whether to click through. Focus on what is new and why it matters. Write only the summary.

Article:
---
%s
---`
)

// Client is a Gemini-backed summarizer.
type Client struct {
	modelName string
	gClient   *genai.Client
}

// NewClient creates an LLM client. The API key comes from the environment
// (GEMINI_API_KEY, with legacy fallbacks) or the provided config value.
func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_AI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required: set GEMINI_API_KEY or llm.api_key in the config file")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{modelName: modelName, gClient: gClient}, nil
}

// Summarize generates the requested summary variant for the markdown text.
func (c *Client) Summarize(ctx context.Context, markdown string, summaryType core.SummaryType) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", fmt.Errorf("no content to summarize")
	}

	template := StandardSummaryPromptTemplate
	if summaryType == core.SummaryBrief {
		template = BriefSummaryPromptTemplate
	}
	prompt := fmt.Sprintf(template, markdown)

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s summary: %w", summaryType, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// ModelName returns the configured model.
func (c *Client) ModelName() string { return c.modelName }
