package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/internal/stream"
)

// fixedPipeline is a scripted NodePipeline: onProcess decides the children
// for every node it is asked to process.
type fixedPipeline struct {
	onProcess func(node domain.EventNode, depth int) []domain.EventNode
}

func (p *fixedPipeline) Process(ctx context.Context, node domain.EventNode, seed domain.SeedInput, path []string) ([]domain.EventNode, error) {
	return p.onProcess(node, node.Depth), nil
}

func sequentialIDs(prefix string) func() string {
	var n int64
	return func() string {
		v := atomic.AddInt64(&n, 1)
		return fmt.Sprintf("%s-%d", prefix, v)
	}
}

func twoChildren(parentEvent string) []domain.EventNode {
	return []domain.EventNode{
		{Event: "A follows from " + parentEvent, Probability: 0.6},
		{Event: "B follows from " + parentEvent, Probability: 0.4},
	}
}

// TestBuild_S1_HappyPathDepth1 mirrors spec §8 scenario S1.
func TestBuild_S1_HappyPathDepth1(t *testing.T) {
	pipeline := &fixedPipeline{
		onProcess: func(node domain.EventNode, depth int) []domain.EventNode {
			return twoChildren(node.Event)
		},
	}

	b := New(pipeline, Config{MaxConcurrent: 20}).WithIDFunc(sequentialIDs("n"))

	sink := stream.NewChannelSink(64)
	var events []domain.TreeStreamEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range sink.Events() {
			events = append(events, e)
		}
	}()

	root, err := b.Build(context.Background(), domain.SeedInput{Event: "X", MaxDepth: 1}, sink)
	require.NoError(t, err)
	sink.Close()
	wg.Wait()

	require.Len(t, root.Children, 2)
	sum := root.Children[0].Probability + root.Children[1].Probability
	require.InDelta(t, 1.0, sum, 1e-9)

	require.Equal(t, domain.EventTreeStarted, events[0].Type)
	require.Equal(t, domain.EventNodeProcessing, events[1].Type)
	require.Equal(t, domain.EventNodeCompleted, events[2].Type)
	require.Equal(t, domain.EventDepthCompleted, events[3].Type)
	require.Equal(t, domain.EventTreeCompleted, events[4].Type)

	completedData := events[4].Data.(domain.TreeCompletedData)
	require.Equal(t, 3, completedData.TotalNodes)
}

// TestBuild_DepthBarrier mirrors spec §8 scenario S4: no node_processing at
// depth d+1 is observed before depth_completed(d).
func TestBuild_DepthBarrier(t *testing.T) {
	pipeline := &fixedPipeline{
		onProcess: func(node domain.EventNode, depth int) []domain.EventNode {
			return twoChildren(node.Event)
		},
	}

	b := New(pipeline, Config{MaxConcurrent: 20}).WithIDFunc(sequentialIDs("n"))

	sink := stream.NewChannelSink(128)
	var events []domain.TreeStreamEvent
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range sink.Events() {
			events = append(events, e)
		}
	}()

	_, err := b.Build(context.Background(), domain.SeedInput{Event: "X", MaxDepth: 2}, sink)
	require.NoError(t, err)
	sink.Close()
	wg.Wait()

	var depth0CompletedIdx, firstDepth1ProcessingIdx = -1, -1
	for i, e := range events {
		if e.Type == domain.EventDepthCompleted && e.Data.(domain.DepthCompletedData).Depth == 0 {
			depth0CompletedIdx = i
		}
		if e.Type == domain.EventNodeProcessing && e.Data.(domain.NodeProcessingData).Depth == 1 && firstDepth1ProcessingIdx == -1 {
			firstDepth1ProcessingIdx = i
		}
	}

	require.NotEqual(t, -1, depth0CompletedIdx)
	require.NotEqual(t, -1, firstDepth1ProcessingIdx)
	require.Less(t, depth0CompletedIdx, firstDepth1ProcessingIdx)
}

// TestBuild_ConcurrencyCeiling mirrors spec §8's concurrency property: at
// most maxConcurrent node pipelines are active simultaneously.
func TestBuild_ConcurrencyCeiling(t *testing.T) {
	const maxConcurrent = 5
	var active, peak int32

	pipeline := &fixedPipeline{
		onProcess: func(node domain.EventNode, depth int) []domain.EventNode {
			if depth == 0 {
				children := make([]domain.EventNode, 0, 25)
				for i := 0; i < 25; i++ {
					children = append(children, domain.EventNode{Event: fmt.Sprintf("child %d", i), Probability: 1.0 / 25})
				}
				return children
			}

			cur := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		},
	}

	b := New(pipeline, Config{MaxConcurrent: maxConcurrent}).WithIDFunc(sequentialIDs("n"))
	sink := stream.NewChannelSink(256)
	go func() {
		for range sink.Events() {
		}
	}()

	_, err := b.Build(context.Background(), domain.SeedInput{Event: "X", MaxDepth: 2}, sink)
	require.NoError(t, err)

	require.LessOrEqual(t, int(atomic.LoadInt32(&peak)), maxConcurrent)
}

// TestBuild_ValidatesInvariants checks the tree ValidateInvariants helper
// accepts a well-formed build result.
func TestBuild_ValidatesInvariants(t *testing.T) {
	pipeline := &fixedPipeline{
		onProcess: func(node domain.EventNode, depth int) []domain.EventNode {
			return twoChildren(node.Event)
		},
	}

	b := New(pipeline, Config{MaxConcurrent: 20})
	sink := stream.NewChannelSink(32)
	go func() {
		for range sink.Events() {
		}
	}()

	root, err := b.Build(context.Background(), domain.SeedInput{Event: "X", MaxDepth: 1}, sink)
	require.NoError(t, err)
	require.NoError(t, ValidateInvariants(root))
}
