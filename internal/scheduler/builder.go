// Package scheduler implements the TreeBuilder: the depth-synchronous wave
// scheduler that owns a probability tree for the lifetime of one request
// (spec §4.1). It is the sole mutator of the tree; every node-pipeline task
// it dispatches receives an immutable snapshot and returns value children
// only, which the builder installs under the tree's lock as each node's
// pipeline returns.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/internal/metrics"
	"github.com/psychohistory/psychohistory/internal/stream"
	"github.com/psychohistory/psychohistory/pkg/errors"
	"github.com/psychohistory/psychohistory/pkg/logger"
)

// DefaultMaxConcurrent is the default per-batch concurrency ceiling
// (spec §4.1 "maxConcurrent (default 20)").
const DefaultMaxConcurrent = 20

// NodePipeline is the two-phase per-node pipeline the builder dispatches
// once per pending node in a wave (internal/pipeline.NodeProcessor
// satisfies this). It receives a value snapshot of the node and the
// reconstructed root-to-node path, and returns value children only; it
// never touches the builder's tree state (spec §4.2, §9 "mutable tree
// behind a single owner").
type NodePipeline interface {
	Process(ctx context.Context, node domain.EventNode, seed domain.SeedInput, path []string) ([]domain.EventNode, error)
}

// Config configures a Builder.
type Config struct {
	// MaxConcurrent bounds how many node pipelines run in parallel within
	// one batch (spec §4.1). Defaults to DefaultMaxConcurrent.
	MaxConcurrent int
	// NodeTimeout, if non-zero, bounds a single node pipeline invocation.
	NodeTimeout time.Duration
}

// Builder is the TreeBuilder scheduler (spec §4.1). One Builder serves one
// request; it is not reused across builds.
type Builder struct {
	pipeline      NodePipeline
	idFunc        func() string
	clock         func() time.Time
	maxConcurrent int
	nodeTimeout   time.Duration
	log           *logger.Logger

	// activeNodes counts currently-dispatched node pipelines; exposed so
	// tests can assert the concurrency ceiling is respected (spec §8
	// "observable via an injected counter").
	activeNodes int32
	activeMu    sync.Mutex
	onDispatch  func(active int)
}

// New builds a Builder around the given node pipeline.
func New(pipeline NodePipeline, cfg Config) *Builder {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	return &Builder{
		pipeline:      pipeline,
		idFunc:        domain.NewNodeID,
		clock:         time.Now,
		maxConcurrent: maxConcurrent,
		nodeTimeout:   cfg.NodeTimeout,
		log:           logger.Get().With("component", "scheduler"),
		onDispatch:    func(active int) { metrics.SchedulerActiveNodes.WithLabelValues().Set(float64(active)) },
	}
}

// WithClock overrides the builder's time source, for deterministic tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithIDFunc overrides the builder's node id generator, for deterministic
// tests.
func (b *Builder) WithIDFunc(idFunc func() string) *Builder {
	b.idFunc = idFunc
	return b
}

// WithDispatchObserver registers a callback invoked whenever the number of
// concurrently active node pipelines changes, for spec §8's concurrency
// property ("observable via an injected counter"). It must be cheap; it is
// called while the builder's internal lock is held.
func (b *Builder) WithDispatchObserver(fn func(active int)) *Builder {
	b.onDispatch = fn
	return b
}

// tree is the mutable by-id node map the builder exclusively owns for the
// lifetime of one Build call (spec §3 Ownership, §9 "arena-allocate nodes
// and index by id").
type tree struct {
	mu    sync.RWMutex
	nodes map[string]domain.EventNode
	root  string
}

func newTree() *tree {
	return &tree{nodes: make(map[string]domain.EventNode)}
}

func (t *tree) put(n domain.EventNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.ID] = n
}

func (t *tree) get(id string) (domain.EventNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	return n, ok
}

// frontier returns every node at the given depth with StatusPending,
// reading a consistent snapshot under the read lock.
func (t *tree) frontier(depth int) []domain.EventNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []domain.EventNode
	for _, n := range t.nodes {
		if n.Depth == depth && n.ProcessingStatus == domain.StatusPending {
			out = append(out, n)
		}
	}
	return out
}

// path reconstructs the branching history from root to id, inclusive,
// oldest first (spec §4.2 step 2). It only reads; the scheduler is the
// only writer and path reconstruction always runs after the parent's
// mutation has been committed (the depth barrier guarantees this, spec
// §5 "reads must observe the latest committed tree state").
func (t *tree) path(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var rev []string
	cur, ok := t.nodes[id]
	for ok {
		rev = append(rev, cur.Event)
		if cur.ParentID == nil {
			break
		}
		cur, ok = t.nodes[*cur.ParentID]
	}

	out := make([]string, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out
}

func (t *tree) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Build runs the depth-synchronous wave algorithm (spec §4.1) and returns
// the fully-populated root, or a SchedulerError on an unrecoverable fatal
// (an event-sink write failure surfaced by the sink as a non-nil error is
// not modeled here since EventSink.Emit cannot fail by contract; Build's
// own error return is reserved for context cancellation).
func (b *Builder) Build(ctx context.Context, seed domain.SeedInput, sink stream.EventSink) (domain.EventNode, error) {
	start := b.clock()
	maxDepth := seed.ClampedMaxDepth()

	t := newTree()
	rootID := b.idFunc()
	root := domain.EventNode{
		ID:               rootID,
		Event:            seed.Event,
		Probability:      1.0,
		Sentiment:        0,
		Depth:            0,
		CreatedAt:        start,
		ProcessingStatus: domain.StatusPending,
	}
	t.put(root)
	t.root = rootID

	sink.Emit(domain.TreeStarted(root.Snapshot()))
	metrics.RecordTreeStarted()

	for depth := 0; depth < maxDepth; depth++ {
		frontier := t.frontier(depth)
		if len(frontier) == 0 {
			continue
		}

		if err := b.runWave(ctx, t, seed, depth, frontier, sink); err != nil {
			b.log.Errorw("scheduler fatal, aborting build", "depth", depth, "error", err)
			sink.Emit(domain.Error(err.Error(), nil))
			metrics.RecordTreeAborted()
			finalRoot, _ := t.get(rootID)
			return finalRoot, errors.Wrapf(errors.ErrScheduler, "build aborted at depth %d: %v", depth, err)
		}

		sink.Emit(domain.DepthCompleted(depth, len(frontier)))
	}

	totalNodes := t.count()
	duration := b.clock().Sub(start)
	sink.Emit(domain.TreeCompleted(totalNodes, duration.Milliseconds()))

	metrics.RecordTreeCompleted(totalNodes, duration)

	finalRoot, _ := t.get(rootID)
	return b.hydrate(t, finalRoot), nil
}

// runWave drains one depth's frontier in batches of at most maxConcurrent,
// awaiting each batch before dispatching the next (spec §4.1 step 2b).
// Context cancellation (e.g. the caller's fatal) is the only condition
// that returns a non-nil error here; per-node failures are isolated and
// reported as `error` events, never as a wave failure.
func (b *Builder) runWave(ctx context.Context, t *tree, seed domain.SeedInput, depth int, frontier []domain.EventNode, sink stream.EventSink) error {
	for start := 0; start < len(frontier); start += b.maxConcurrent {
		end := start + b.maxConcurrent
		if end > len(frontier) {
			end = len(frontier)
		}
		batch := frontier[start:end]

		if err := b.runBatch(ctx, t, seed, depth, batch, sink); err != nil {
			return err
		}
	}
	return nil
}

// runBatch dispatches one batch of node pipelines concurrently via an
// errgroup bounded by b.maxConcurrent, waits for all of them, and installs
// every non-fatal result into the tree. A context cancellation anywhere in
// the batch is the only thing that propagates as a batch error; individual
// pipeline failures are converted to fallback-or-failed node state inline.
func (b *Builder) runBatch(ctx context.Context, t *tree, seed domain.SeedInput, depth int, batch []domain.EventNode, sink stream.EventSink) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxConcurrent)

	for _, node := range batch {
		node := node
		g.Go(func() error {
			return b.runNode(gctx, t, seed, node, sink)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// runNode processes a single node: emits node_processing, dispatches the
// pipeline, installs children or marks the node failed, and emits
// node_completed/error (spec §4.1 step c). A cancelled context propagates
// up (aborts the batch); any other pipeline error is absorbed locally.
func (b *Builder) runNode(ctx context.Context, t *tree, seed domain.SeedInput, node domain.EventNode, sink stream.EventSink) error {
	b.trackDispatch(1)
	defer b.trackDispatch(-1)

	nodeStart := b.clock()

	node.ProcessingStatus = domain.StatusProcessing
	t.put(node)
	sink.Emit(domain.NodeProcessing(node.ID, node.Depth, node.Event))

	path := t.path(node.ID)

	nodeCtx := ctx
	var cancel context.CancelFunc
	if b.nodeTimeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, b.nodeTimeout)
		defer cancel()
	}

	children, err := b.pipeline.Process(nodeCtx, node, seed, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.log.Warnw("node pipeline failed irrecoverably, marking node failed", "node_id", node.ID, "depth", node.Depth, "error", err)
		node.ProcessingStatus = domain.StatusFailed
		t.put(node)
		nodeID := node.ID
		sink.Emit(domain.Error(err.Error(), &nodeID))
		metrics.RecordNodeProcessed("failed", b.clock().Sub(nodeStart))
		return nil
	}

	now := b.clock()
	parentID := node.ID
	for i := range children {
		if children[i].ID == "" {
			children[i].ID = b.idFunc()
		}
		children[i].Depth = node.Depth + 1
		children[i].ParentID = &parentID
		children[i].ProcessingStatus = domain.StatusPending
		children[i].CreatedAt = now
		t.put(children[i])
	}

	node.Children = make([]domain.EventNode, len(children))
	copy(node.Children, children)
	node.ProcessingStatus = domain.StatusCompleted
	t.put(node)

	sink.Emit(domain.NodeCompleted(node.Snapshot(), snapshotAll(children)))
	metrics.RecordNodeProcessed(outcomeLabel(node.Justification, children), b.clock().Sub(nodeStart))
	return nil
}

// outcomeLabel distinguishes a synthesized-research outcome from a
// fallback subtree for metrics purposes: fallback children always carry
// an empty justification (spec §4.2 Fallback), while synthesized children
// carry domain.FixedChildJustification.
func outcomeLabel(_ string, children []domain.EventNode) string {
	if len(children) > 0 && children[0].Justification == "" {
		return "fallback"
	}
	return "completed"
}

func snapshotAll(nodes []domain.EventNode) []domain.EventNode {
	out := make([]domain.EventNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Snapshot()
	}
	return out
}

func (b *Builder) trackDispatch(delta int32) {
	b.activeMu.Lock()
	b.activeNodes += delta
	active := b.activeNodes
	observer := b.onDispatch
	b.activeMu.Unlock()

	if observer != nil {
		observer(int(active))
	}
}

// hydrate walks the by-id map and assembles the fully nested EventNode
// tree rooted at root's id, for the value the caller of Build receives.
// The wire events already carried flattened node/children pairs; this
// nested form is the "fully-populated root" spec §4.1 promises as Build's
// return value.
func (b *Builder) hydrate(t *tree, root domain.EventNode) domain.EventNode {
	return hydrateNode(t, root)
}

func hydrateNode(t *tree, n domain.EventNode) domain.EventNode {
	if len(n.Children) == 0 {
		return n
	}
	hydrated := make([]domain.EventNode, len(n.Children))
	for i, c := range n.Children {
		full, ok := t.get(c.ID)
		if !ok {
			full = c
		}
		hydrated[i] = hydrateNode(t, full)
	}
	n.Children = hydrated
	return n
}

// ValidateInvariants checks spec §3's tree invariants against a fully
// hydrated tree, for use in property-based tests (spec §8). It is not
// called in the hot path; the scheduler's own algorithm is constructed to
// maintain these invariants by construction.
func ValidateInvariants(root domain.EventNode) error {
	return validateSubtree(root, true)
}

func validateSubtree(n domain.EventNode, isRoot bool) error {
	if isRoot {
		if n.ParentID != nil {
			return fmt.Errorf("root node %s has a parent id", n.ID)
		}
		if n.Depth != 0 {
			return fmt.Errorf("root node %s has depth %d, want 0", n.ID, n.Depth)
		}
	}

	if len(n.Sources) > domain.MaxSourcesPerNode {
		return fmt.Errorf("node %s has %d sources, want <= %d", n.ID, len(n.Sources), domain.MaxSourcesPerNode)
	}

	if len(n.Children) > 0 {
		sum := 0.0
		for _, c := range n.Children {
			sum += c.Probability
			if c.Depth != n.Depth+1 {
				return fmt.Errorf("child %s has depth %d, want %d", c.ID, c.Depth, n.Depth+1)
			}
			if c.ParentID == nil || *c.ParentID != n.ID {
				return fmt.Errorf("child %s does not reference parent %s", c.ID, n.ID)
			}
			if err := validateSubtree(c, false); err != nil {
				return err
			}
		}
		if diff := sum - 1.0; diff > domain.ProbabilitySumTolerance || diff < -domain.ProbabilitySumTolerance {
			return fmt.Errorf("node %s children probabilities sum to %v, want 1.0 +/- %v", n.ID, sum, domain.ProbabilitySumTolerance)
		}
	}

	return nil
}
