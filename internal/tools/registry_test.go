package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	tool := New("search", "searches the web", func(ctx context.Context, args interface{}) (interface{}, error) {
		return "ok", nil
	})

	registry.Register("search", tool)

	got, ok := registry.Get("search")
	require.True(t, ok)
	assert.Equal(t, tool, got)

	_, ok = registry.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry()
	registry.Register("search", New("search", "", nil))
	registry.Register("finish_research", New("finish_research", "", nil))

	names := registry.List()
	assert.ElementsMatch(t, []string{"search", "finish_research"}, names)
}

func TestFunctionTool_ExecuteWithoutHandler(t *testing.T) {
	tool := New("noop", "", nil)
	_, err := tool.Execute(context.Background(), nil)
	assert.Error(t, err)
}
