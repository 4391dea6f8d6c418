// Package domain holds the shared data model for the tree orchestration
// core: nodes, sources, seed input, synthesis output, research results and
// the wire event union. Types here are plain value objects; the scheduler
// in internal/scheduler is the only component that mutates a tree.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is the lifecycle state of an EventNode.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Source is a single piece of supporting evidence gathered during research.
// Two sources are equal by normalized URL; the researcher additionally
// deduplicates by hostname across a single invocation.
type Source struct {
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevanceScore,omitempty"`
}

// EventNode is a vertex in the probability tree.
type EventNode struct {
	ID               string           `json:"id"`
	Event            string           `json:"event"`
	Probability      float64          `json:"probability"`
	Justification    string           `json:"justification"`
	Sentiment        int              `json:"sentiment"`
	Depth            int              `json:"depth"`
	Sources          []Source         `json:"sources"`
	Children         []EventNode      `json:"children"`
	ParentID         *string          `json:"parentId,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
}

// NewNodeID returns a fresh random 128-bit node identifier.
func NewNodeID() string {
	return uuid.NewString()
}

// Snapshot returns an immutable deep copy of the node suitable for handing
// across a component boundary (e.g. into a stream event). Slices are
// copied so a later scheduler mutation cannot be observed by the receiver.
func (n EventNode) Snapshot() EventNode {
	cp := n
	if n.Sources != nil {
		cp.Sources = append([]Source(nil), n.Sources...)
	}
	if n.Children != nil {
		cp.Children = make([]EventNode, len(n.Children))
		for i, c := range n.Children {
			cp.Children[i] = c.Snapshot()
		}
	}
	return cp
}

// SeedInput is the user-provided request that roots a tree.
type SeedInput struct {
	Event     string `json:"event"`
	Context   string `json:"context,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	MaxDepth  int    `json:"maxDepth,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// DefaultMaxDepth is used when SeedInput.MaxDepth is unset (zero).
const DefaultMaxDepth = 3

// ClampedMaxDepth returns the seed's MaxDepth defaulted and clamped to [1,5],
// per spec: the configured value is authoritative, only its range is fixed.
func (s SeedInput) ClampedMaxDepth() int {
	d := s.MaxDepth
	if d == 0 {
		d = DefaultMaxDepth
	}
	if d < 1 {
		d = 1
	}
	if d > 5 {
		d = 5
	}
	return d
}

// Confidence is the researcher's self-reported confidence in its findings.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ResearchResult is the output of Phase 1 (AgenticResearcher).
type ResearchResult struct {
	Sources    []Source
	Summary    string
	Confidence Confidence
	Iterations int
	Queries    []string
}

// ProbabilityOutput is one element of the synthesis model's JSON array.
// This is the "slim" schema: event + probability only. The richer
// {event,probability,justification,sentiment} variant is deliberately not
// implemented — see
// DESIGN.md's Open Questions entry for the justification. Per-child
// justification and sentiment are fixed by the pipeline instead.
type ProbabilityOutput struct {
	Event       string  `json:"event"`
	Probability float64 `json:"probability"`
}

// MinOutcomes and MaxOutcomes bound the synthesis model's response array.
const (
	MinOutcomes = 1
	MaxOutcomes = 5
)

// MinEventLength is the shortest acceptable ProbabilityOutput.Event string.
const MinEventLength = 10

// MaxSourcesPerNode caps how many sources are attached to a node.
const MaxSourcesPerNode = 5

// FixedChildJustification is the justification every synthesized child
// receives; the synthesis model in this system does not return per-child
// rationale (spec §4.2 step 7).
const FixedChildJustification = "Based on historical research and analysis"

// ProbabilitySumTolerance is the maximum allowed deviation of a sibling
// cohort's probabilities from 1.0.
const ProbabilitySumTolerance = 1e-3
