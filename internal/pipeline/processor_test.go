package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/internal/llm"
	"github.com/psychohistory/psychohistory/internal/research"
	"github.com/psychohistory/psychohistory/internal/search"
	"github.com/psychohistory/psychohistory/pkg/backoff"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func TestProcess_HappyPath(t *testing.T) {
	calls := 0
	llmProvider := &llm.MockProvider{
		CompleteWithToolsFunc: func(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, choice llm.ToolChoice) (llm.AssistantMessage, error) {
			// Search once so research gathers sources, then finish.
			calls++
			if calls == 1 {
				return llm.FixedSearchCall("call-1", "seed event outlook"), nil
			}
			return llm.FixedFinishResearchCall("done", "high"), nil
		},
		CompleteJSONFunc: func(ctx context.Context, prompt string, out interface{}) error {
			raw := `[{"event":"Outcome A happens here","probability":0.6},{"event":"Outcome B happens here","probability":0.4}]`
			return json.Unmarshal([]byte(raw), out)
		},
	}

	researcher := research.New(llmProvider, search.NewMockProvider())
	proc := New(researcher, llmProvider).WithClock(fixedClock()).WithIDFunc(sequentialIDs("child-"))

	node := domain.EventNode{ID: "root", Event: "seed event", Probability: 1, Depth: 0, ProcessingStatus: domain.StatusProcessing}
	seed := domain.SeedInput{Event: "seed event", MaxDepth: 1}

	children, err := proc.Process(context.Background(), node, seed, []string{"seed event"})
	require.NoError(t, err)
	require.Len(t, children, 2)

	sum := children[0].Probability + children[1].Probability
	require.InDelta(t, 1.0, sum, 1e-9)
	for _, c := range children {
		require.Equal(t, 1, c.Depth)
		require.Equal(t, domain.StatusPending, c.ProcessingStatus)
		require.Equal(t, domain.FixedChildJustification, c.Justification)
		require.LessOrEqual(t, len(c.Sources), domain.MaxSourcesPerNode)
	}
}

func TestProcess_FallbackOnZeroSources(t *testing.T) {
	llmProvider := &llm.MockProvider{
		CompleteWithToolsFunc: func(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, choice llm.ToolChoice) (llm.AssistantMessage, error) {
			return llm.FixedFinishResearchCall("nothing found", "low"), nil
		},
	}

	researcher := research.New(llmProvider, emptySearchProvider{})
	proc := New(researcher, llmProvider).WithClock(fixedClock()).WithIDFunc(sequentialIDs("fb-"))

	node := domain.EventNode{ID: "root", Event: "seed event", Depth: 0}
	seed := domain.SeedInput{Event: "seed event"}

	children, err := proc.Process(context.Background(), node, seed, []string{"seed event"})
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, 0.5, children[0].Probability)
	require.Equal(t, 0.5, children[1].Probability)
	require.Equal(t, 0, children[0].Sentiment)
	require.Equal(t, -10, children[1].Sentiment)
	require.Empty(t, children[0].Sources)
	require.Empty(t, children[0].Justification)
}

func TestProcess_FallbackOnSchemaFailure(t *testing.T) {
	calls := 0
	llmProvider := &llm.MockProvider{
		CompleteWithToolsFunc: func(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, choice llm.ToolChoice) (llm.AssistantMessage, error) {
			// Search once so research gathers sources and synthesis runs.
			calls++
			if calls == 1 {
				return llm.FixedSearchCall("call-1", "seed event outlook"), nil
			}
			return llm.FixedFinishResearchCall("found some", "medium"), nil
		},
		CompleteJSONFunc: func(ctx context.Context, prompt string, out interface{}) error {
			return json.Unmarshal([]byte(`not json`), out)
		},
	}

	researcher := research.New(llmProvider, search.NewMockProvider())
	proc := New(researcher, llmProvider).WithClock(fixedClock()).WithIDFunc(sequentialIDs("fb-")).
		WithSynthesisLadder(backoff.Ladder{Min: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2})

	node := domain.EventNode{ID: "root", Event: "seed event", Depth: 0}
	seed := domain.SeedInput{Event: "seed event"}

	start := time.Now()
	children, err := proc.Process(context.Background(), node, seed, []string{"seed event"})
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Less(t, time.Since(start), 1*time.Second)
}

func TestValidateOutcomes(t *testing.T) {
	require.Error(t, validateOutcomes(nil))
	require.Error(t, validateOutcomes([]domain.ProbabilityOutput{{Event: "short", Probability: 0.5}}))
	require.Error(t, validateOutcomes([]domain.ProbabilityOutput{{Event: "a long enough event", Probability: 1.5}}))
	require.NoError(t, validateOutcomes([]domain.ProbabilityOutput{{Event: "a long enough event", Probability: 0.5}}))
}

type emptySearchProvider struct{}

func (emptySearchProvider) Search(ctx context.Context, query string) ([]domain.Source, error) {
	return nil, nil
}
