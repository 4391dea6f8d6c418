package search

import (
	"context"
	"fmt"

	"github.com/psychohistory/psychohistory/internal/domain"
)

// MockProvider returns three deterministic synthetic sources per query,
// for offline testing and local development without a search API key
// (spec §4.4 "Mock mode").
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Search(ctx context.Context, query string) ([]domain.Source, error) {
	return []domain.Source{
		{
			URL:            fmt.Sprintf("https://example.com/sources/a?q=%s", query),
			Title:          fmt.Sprintf("Analysis: %s", query),
			Snippet:        fmt.Sprintf("A synthetic primary source discussing %q in depth.", query),
			RelevanceScore: 0.9,
		},
		{
			URL:            fmt.Sprintf("https://example.org/sources/b?q=%s", query),
			Title:          fmt.Sprintf("Commentary on %s", query),
			Snippet:        fmt.Sprintf("A synthetic secondary commentary touching on %q.", query),
			RelevanceScore: 0.72,
		},
		{
			URL:            fmt.Sprintf("https://example.net/sources/c?q=%s", query),
			Title:          fmt.Sprintf("Background: %s", query),
			Snippet:        fmt.Sprintf("A synthetic background reference related to %q.", query),
			RelevanceScore: 0.55,
		},
	}, nil
}
