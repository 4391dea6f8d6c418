// Package pipeline implements the per-node two-phase pipeline (spec §4.2):
// Phase 1 agentic research, Phase 2 probability synthesis, with
// normalization and fallback-child construction when either phase fails
// irrecoverably. NodeProcessor is invoked by the scheduler once per pending
// node in a wave; it mutates nothing and returns value children only.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/internal/llm"
	"github.com/psychohistory/psychohistory/internal/research"
	"github.com/psychohistory/psychohistory/pkg/backoff"
	"github.com/psychohistory/psychohistory/pkg/errors"
	"github.com/psychohistory/psychohistory/pkg/logger"
	"github.com/psychohistory/psychohistory/pkg/templates"
)

// SynthesisMaxRetries and SynthesisBackoffStart implement spec §4.2 step 5:
// "retry up to 3 times with exponential backoff starting at 1 s".
const (
	SynthesisMaxRetries   = 3
	SynthesisBackoffStart = 1 * time.Second
	SynthesisBackoffCap   = 4 * time.Second
)

// Fallback event labels and sentiments (spec §4.2 Fallback).
const (
	fallbackStatusQuoLabel    = "status quo continues from: %s"
	fallbackUnexpectedLabel   = "unexpected development from: %s"
	fallbackStatusQuoSentiment  = 0
	fallbackUnexpectedSentiment = -10
)

func synthesisLadder() backoff.Ladder {
	return backoff.Ladder{Min: SynthesisBackoffStart, Max: SynthesisBackoffCap, Multiplier: 2.0}
}

// NodeProcessor turns one pending node into 1-5 child nodes by researching
// it (Phase 1) and synthesizing probability-weighted follow-on events
// (Phase 2). It holds no tree state; the scheduler is the sole mutator.
type NodeProcessor struct {
	researcher     *research.AgenticResearcher
	llmProvider    llm.Provider
	idFunc         func() string
	clock          func() time.Time
	synthLadder    backoff.Ladder
	log            *logger.Logger
}

// New builds a NodeProcessor. idFunc and clock default to
// domain.NewNodeID/time.Now; tests override them for determinism.
func New(researcher *research.AgenticResearcher, llmProvider llm.Provider) *NodeProcessor {
	return &NodeProcessor{
		researcher:  researcher,
		llmProvider: llmProvider,
		idFunc:      domain.NewNodeID,
		clock:       time.Now,
		synthLadder: synthesisLadder(),
		log:         logger.Get().With("component", "node_processor"),
	}
}

// WithClock overrides the processor's time source, for deterministic tests.
func (p *NodeProcessor) WithClock(clock func() time.Time) *NodeProcessor {
	p.clock = clock
	return p
}

// WithIDFunc overrides the processor's id generator, for deterministic tests.
func (p *NodeProcessor) WithIDFunc(idFunc func() string) *NodeProcessor {
	p.idFunc = idFunc
	return p
}

// WithSynthesisLadder overrides the Phase 2 retry backoff ladder, for tests
// that exercise the retry path without waiting out the real delays.
func (p *NodeProcessor) WithSynthesisLadder(ladder backoff.Ladder) *NodeProcessor {
	p.synthLadder = ladder
	return p
}

// Process runs the two-phase pipeline for node and returns its children.
// path is the branching history from root to node (exclusive of future
// children), reconstructed by the caller (spec §4.2 step 2) since only the
// scheduler may read its by-id map.
func (p *NodeProcessor) Process(ctx context.Context, node domain.EventNode, seed domain.SeedInput, path []string) ([]domain.EventNode, error) {
	researchResult, err := p.researcher.Research(ctx, node.Event, path, seed.Context, seed.Timeframe, node.Depth)
	if err != nil || len(researchResult.Sources) == 0 {
		if err != nil {
			p.log.Warnw("phase 1 research failed, falling back", "node_id", node.ID, "error", err)
		}
		return p.fallbackChildren(node), nil
	}

	outcomes, err := p.synthesize(ctx, seed, node, path, researchResult)
	if err != nil {
		p.log.Warnw("phase 2 synthesis failed, falling back", "node_id", node.ID, "error", err)
		return p.fallbackChildren(node), nil
	}

	probabilities := make([]float64, len(outcomes))
	for i, o := range outcomes {
		probabilities[i] = o.Probability
	}
	normalized, ok := domain.NormalizeWithRenormalizeOnce(probabilities)
	if !ok {
		p.log.Warnw("probability normalization failed after renormalize, falling back", "node_id", node.ID)
		return p.fallbackChildren(node), nil
	}

	sources := researchResult.Sources
	if len(sources) > domain.MaxSourcesPerNode {
		sources = sources[:domain.MaxSourcesPerNode]
	}

	children := make([]domain.EventNode, len(outcomes))
	parentID := node.ID
	now := p.clock()
	for i, o := range outcomes {
		children[i] = domain.EventNode{
			ID:               p.idFunc(),
			Event:            o.Event,
			Probability:      normalized[i],
			Justification:    domain.FixedChildJustification,
			Sentiment:        0,
			Depth:            node.Depth + 1,
			Sources:          append([]domain.Source(nil), sources...),
			ParentID:         &parentID,
			CreatedAt:        now,
			ProcessingStatus: domain.StatusPending,
		}
	}

	return children, nil
}

// fallbackChildren builds the degenerate two-child subtree emitted when
// research or synthesis fails irrecoverably for a node (spec §4.2
// Fallback). Fallback nodes are still pending; they are processed like any
// other node at the next depth.
func (p *NodeProcessor) fallbackChildren(node domain.EventNode) []domain.EventNode {
	parentID := node.ID
	now := p.clock()

	statusQuo := domain.EventNode{
		ID:               p.idFunc(),
		Event:            fmt.Sprintf(fallbackStatusQuoLabel, node.Event),
		Probability:      0.5,
		Justification:    "",
		Sentiment:        fallbackStatusQuoSentiment,
		Depth:            node.Depth + 1,
		ParentID:         &parentID,
		CreatedAt:        now,
		ProcessingStatus: domain.StatusPending,
	}
	unexpected := domain.EventNode{
		ID:               p.idFunc(),
		Event:            fmt.Sprintf(fallbackUnexpectedLabel, node.Event),
		Probability:      0.5,
		Justification:    "",
		Sentiment:        fallbackUnexpectedSentiment,
		Depth:            node.Depth + 1,
		ParentID:         &parentID,
		CreatedAt:        now,
		ProcessingStatus: domain.StatusPending,
	}

	return []domain.EventNode{statusQuo, unexpected}
}

// synthesize runs Phase 2: format the research block, render the synthesis
// prompt, and request a strictly-JSON array of outcomes, retrying up to
// SynthesisMaxRetries times on schema failure (spec §4.2 step 5).
func (p *NodeProcessor) synthesize(ctx context.Context, seed domain.SeedInput, node domain.EventNode, path []string, researchResult domain.ResearchResult) ([]domain.ProbabilityOutput, error) {
	prompt, err := p.synthesisPrompt(seed, node, path, researchResult)
	if err != nil {
		return nil, errors.Wrap(err, "render synthesis prompt")
	}

	ladder := p.synthLadder

	var lastErr error
	for attempt := 0; attempt <= SynthesisMaxRetries; attempt++ {
		var outcomes []domain.ProbabilityOutput
		err := p.llmProvider.CompleteJSON(ctx, prompt, &outcomes)
		if err == nil {
			if verr := validateOutcomes(outcomes); verr != nil {
				lastErr = verr
			} else {
				return outcomes, nil
			}
		} else {
			lastErr = err
		}

		if attempt == SynthesisMaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ladder.Duration(attempt)):
		}
	}

	return nil, errors.Wrapf(errors.ErrSchema, "synthesis failed after %d retries: %v", SynthesisMaxRetries, lastErr)
}

// validateOutcomes enforces spec §3's ProbabilityOutput invariants: 1-5
// items, each with an event of at least MinEventLength characters and a
// probability in [0,1].
func validateOutcomes(outcomes []domain.ProbabilityOutput) error {
	if len(outcomes) < domain.MinOutcomes || len(outcomes) > domain.MaxOutcomes {
		return errors.Wrapf(errors.ErrSchema, "synthesis returned %d outcomes, want %d-%d", len(outcomes), domain.MinOutcomes, domain.MaxOutcomes)
	}
	for _, o := range outcomes {
		if len(strings.TrimSpace(o.Event)) < domain.MinEventLength {
			return errors.Wrapf(errors.ErrSchema, "outcome event %q shorter than %d characters", o.Event, domain.MinEventLength)
		}
		if o.Probability < 0 || o.Probability > 1 {
			return errors.Wrapf(errors.ErrSchema, "outcome probability %v out of [0,1]", o.Probability)
		}
	}
	return nil
}

type synthesisPromptData struct {
	Seed      string
	Path      []string
	Event     string
	Depth     int
	MaxDepth  int
	Timeframe string
	Research  string
}

func (p *NodeProcessor) synthesisPrompt(seed domain.SeedInput, node domain.EventNode, path []string, researchResult domain.ResearchResult) (string, error) {
	data := synthesisPromptData{
		Seed:      seed.Event,
		Path:      path,
		Event:     node.Event,
		Depth:     node.Depth,
		MaxDepth:  seed.ClampedMaxDepth(),
		Timeframe: seed.Timeframe,
		Research:  formatResearchBlock(researchResult),
	}
	return templates.Get().Render("synthesis/probability", data)
}

// formatResearchBlock renders the research result as the human-readable
// block described in spec §4.2 step 4: a summary line, the ordered list of
// executed queries, then each source separated by a horizontal rule.
func formatResearchBlock(r domain.ResearchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Research Summary (%s confidence): %s\n\n", r.Confidence, r.Summary)

	if len(r.Queries) > 0 {
		b.WriteString("Queries executed:\n")
		for i, q := range r.Queries {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, q)
		}
		b.WriteString("\n")
	}

	for i, s := range r.Sources {
		if i > 0 {
			b.WriteString("---\n")
		}
		fmt.Fprintf(&b, "%s\n%s\n%s\n", s.Title, s.URL, s.Snippet)
	}

	return b.String()
}
