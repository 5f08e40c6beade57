package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service/llm"
	"github.com/wlu03/story-to-scene-magic-08/service/retry"
)

// TextCompleter is the text-generation capability; llm.Client implements it.
type TextCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// StyleExtractor derives characters, setting and visual style from the story text.
type StyleExtractor struct {
	llm TextCompleter
}

func NewStyleExtractor(llm TextCompleter) *StyleExtractor {
	return &StyleExtractor{llm: llm}
}

// Extract makes one call. Unparseable output is transient so the retry policy
// asks again.
func (e *StyleExtractor) Extract(ctx context.Context, text string) (*models.StyleDescriptor, error) {
	if strings.TrimSpace(text) == "" {
		return nil, retry.Permanent(errors.New("style extraction: empty story text"))
	}
	content, err := e.llm.CompleteJSON(ctx, styleSystemPrompt, text)
	if err != nil {
		return nil, fmt.Errorf("style extraction: %w", err)
	}
	var style models.StyleDescriptor
	if err := llm.DecodeJSON(content, &style); err != nil {
		return nil, retry.Transient(fmt.Errorf("style extraction: decode: %w", err))
	}
	clean := style.Characters[:0]
	for _, c := range style.Characters {
		if c.Name = strings.TrimSpace(c.Name); c.Name != "" {
			clean = append(clean, c)
		}
	}
	style.Characters = clean
	return &style, nil
}
