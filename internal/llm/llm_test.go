package llm

import (
	"fmt"
	"strings"
	"testing"
)

func TestPromptTemplates_IncludeArticleText(t *testing.T) {
	article := "Researchers announced a new battery chemistry."

	standard := fmt.Sprintf(StandardSummaryPromptTemplate, article)
	if !strings.Contains(standard, article) {
		t.Error("Expected standard prompt to contain the article text")
	}
	if !strings.Contains(standard, "150-250 words") {
		t.Error("Expected standard prompt to request a long-form summary")
	}

	brief := fmt.Sprintf(BriefSummaryPromptTemplate, article)
	if !strings.Contains(brief, article) {
		t.Error("Expected brief prompt to contain the article text")
	}
	if !strings.Contains(brief, "2-3 sentences") {
		t.Error("Expected brief prompt to request a short summary")
	}
}

func TestPromptTemplates_Differ(t *testing.T) {
	if StandardSummaryPromptTemplate == BriefSummaryPromptTemplate {
		t.Error("Expected the two summary prompts to differ")
	}
}
