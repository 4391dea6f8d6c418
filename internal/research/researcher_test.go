package research

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/internal/llm"
	"github.com/psychohistory/psychohistory/internal/search"
)

// stepClock advances a fixed duration every time it's called, for
// deterministic wall-clock-budget tests without a real sleep.
func stepClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

// countingSearchProvider records every query it receives, for asserting
// the underlying provider was not called for a rejected duplicate query.
type countingSearchProvider struct {
	mu      sync.Mutex
	queries []string
	inner   search.Provider
}

func (p *countingSearchProvider) Search(ctx context.Context, query string) ([]domain.Source, error) {
	p.mu.Lock()
	p.queries = append(p.queries, query)
	p.mu.Unlock()
	return p.inner.Search(ctx, query)
}

func (p *countingSearchProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queries)
}

func TestResearch_MaxIterationsExhausted(t *testing.T) {
	n := 0
	llmProvider := &llm.MockProvider{
		CompleteWithToolsFunc: func(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, choice llm.ToolChoice) (llm.AssistantMessage, error) {
			n++
			// Always search, never finish_research, forcing the loop to run
			// until MaxIterations is exhausted.
			return llm.FixedSearchCall(fmt.Sprintf("call-%d", n), fmt.Sprintf("query %d", n)), nil
		},
	}

	r := New(llmProvider, search.NewMockProvider())
	result, err := r.Research(context.Background(), "an event happens soon", []string{"root"}, "seed context", "next 6 months", 0)
	require.NoError(t, err)

	assert.Equal(t, MaxIterations, result.Iterations)
	assert.Equal(t, MaxIterations, llmProvider.Calls())
	assert.Len(t, result.Queries, MaxIterations)
}

func TestResearch_WallClockBudgetBreaksLoop(t *testing.T) {
	llmProvider := &llm.MockProvider{
		CompleteWithToolsFunc: func(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, choice llm.ToolChoice) (llm.AssistantMessage, error) {
			return llm.FixedSearchCall("call-1", "a query"), nil
		},
	}

	// Each clock read advances past SearchTimeout immediately, so the
	// budget check at the top of iteration 1 already breaks the loop
	// before any completion is requested.
	r := New(llmProvider, search.NewMockProvider()).WithClock(stepClock(SearchTimeout + time.Second))

	result, err := r.Research(context.Background(), "an event happens soon", []string{"root"}, "seed context", "next 6 months", 0)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Iterations)
	assert.Equal(t, 0, llmProvider.Calls())
	assert.Empty(t, result.Sources)
}

func TestResearch_NoProgressTerminatesEarly(t *testing.T) {
	var calls int
	llmProvider := &llm.MockProvider{
		CompleteWithToolsFunc: func(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, choice llm.ToolChoice) (llm.AssistantMessage, error) {
			calls++
			switch calls {
			case 1:
				// Iteration 1: search once, MockProvider's three sources
				// (distinct hostnames) already clear MinSources.
				return llm.FixedSearchCall("call-1", "first query"), nil
			default:
				// Iteration 2+: no tool calls at all. With >=MinSources
				// already accumulated and i>=2, this should stop the loop
				// without ever reaching MaxIterations.
				return llm.AssistantMessage{Content: "nothing more to add"}, nil
			}
		},
	}

	r := New(llmProvider, search.NewMockProvider())
	result, err := r.Research(context.Background(), "an event happens soon", []string{"root"}, "seed context", "next 6 months", 0)
	require.NoError(t, err)

	assert.Len(t, result.Sources, 3)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 2, llmProvider.Calls())
}

func TestResearch_DomainDedupFiltersRepeatedHostnames(t *testing.T) {
	// search.MockProvider always returns the same three hostnames
	// (example.com/.org/.net) regardless of query, so a second distinct
	// query should contribute zero fresh sources once those hostnames
	// have already been seen.
	calls := 0
	llmProvider := &llm.MockProvider{
		CompleteWithToolsFunc: func(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, choice llm.ToolChoice) (llm.AssistantMessage, error) {
			calls++
			switch calls {
			case 1:
				return llm.FixedSearchCall("call-1", "first query"), nil
			case 2:
				return llm.FixedSearchCall("call-2", "second query"), nil
			default:
				return llm.FixedFinishResearchCall("done", "high"), nil
			}
		},
	}

	r := New(llmProvider, search.NewMockProvider())
	result, err := r.Research(context.Background(), "an event happens soon", []string{"root"}, "seed context", "next 6 months", 0)
	require.NoError(t, err)

	assert.Len(t, result.Sources, 3)
	assert.Equal(t, []string{"first query", "second query"}, result.Queries)
}

func TestResearch_CrossIterationDuplicateQueryRejected(t *testing.T) {
	provider := &countingSearchProvider{inner: search.NewMockProvider()}

	calls := 0
	var secondIterationToolResult string
	llmProvider := &llm.MockProvider{
		CompleteWithToolsFunc: func(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, choice llm.ToolChoice) (llm.AssistantMessage, error) {
			calls++
			switch calls {
			case 1:
				return llm.FixedSearchCall("call-1", "same query"), nil
			case 2:
				// Repeats the exact query from iteration 1, in a new
				// assistant turn — this is the cross-iteration case, not
				// the same-iteration one already guarded by
				// queriesThisIteration. A second, fresh query in the same
				// turn counts as a successful search, so the no-progress
				// rule does not stop the loop before the next turn.
				msg := llm.FixedSearchCall("call-2", "same query")
				msg.ToolCalls = append(msg.ToolCalls, llm.FixedSearchCall("call-3", "another query").ToolCalls...)
				return msg, nil
			default:
				// Capture what the model was told about the repeat before
				// finishing, then stop the loop.
				for _, m := range messages {
					if m.Role == llm.RoleTool && m.ToolCallID == "call-2" {
						secondIterationToolResult = m.Content
					}
				}
				return llm.FixedFinishResearchCall("done", "medium"), nil
			}
		},
	}

	r := New(llmProvider, provider)
	result, err := r.Research(context.Background(), "an event happens soon", []string{"root"}, "seed context", "next 6 months", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, provider.calls(), "only the fresh query may reach the provider after the first search")
	assert.Equal(t, []string{"same query", "another query"}, provider.queries, "the underlying search provider must be invoked only once for the duplicate query")
	assert.Contains(t, secondIterationToolResult, "Duplicate query")
	assert.Len(t, result.Sources, 3)
}
