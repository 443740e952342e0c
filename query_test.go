package mycelial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryLookupsOverPipeline(t *testing.T) {
	n := mustParse(t, pipelineSrc)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)

	tmpl, ok := FindAgent(st, "Doubler")
	require.True(t, ok)
	require.Equal(t, "Doubler", tmpl.Decl.Name)
	_, ok = FindAgent(st, "Ghost")
	require.False(t, ok)

	fl, ok := FindFrequency(st, "mid")
	require.True(t, ok)
	require.Len(t, fl.Fields, 1)
	_, ok = FindFrequency(st, "ghost")
	require.False(t, ok)

	handlers := FindHandler(tmpl, "in")
	require.Len(t, handlers, 1)
	require.Nil(t, FindHandler(tmpl, "ghost"))

	require.Equal(t, []string{"d1"}, RoutingFor(st, "stdin", "in"))
	require.Equal(t, []string{"i1"}, RoutingFor(st, "d1", "mid"))
	require.Equal(t, []string{"out"}, RoutingFor(st, "i1", "result"))
	require.Nil(t, RoutingFor(st, "d1", "ghost"))

	inst, ok := FindInstance(st, "d1")
	require.True(t, ok)
	require.Equal(t, "Doubler", inst.HyphalType)
	_, ok = FindInstance(st, "ghost1")
	require.False(t, ok)

	require.True(t, IsFruitingBody(st, "stdin"))
	require.True(t, IsFruitingBody(st, "out"))
	require.False(t, IsFruitingBody(st, "d1"))
}
