package mycelial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const pipelineSrc = `network Pipeline
frequencies {
	in {
		x: i64
	}
	mid {
		y: i64
	}
	result {
		z: i64
	}
}
hyphae Doubler {
	on signal(in, msg) {
		emit mid {
			y: msg.x
		}
	}
}
hyphae Inc {
	on signal(mid, msg) {
		emit result {
			z: msg.y
		}
	}
}
topology {
	fruiting_body stdin
	fruiting_body out
	spawn Doubler d1
	spawn Inc i1
	socket stdin : in -> d1
	socket d1 : mid -> i1
	socket i1 : result -> out
}
`

func TestBuildSymbolTableBasic(t *testing.T) {
	n := mustParse(t, pipelineSrc)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	require.Len(t, st.Frequencies, 3)
	require.Len(t, st.Agents, 2)
	require.Len(t, st.Instances, 2)
	require.Equal(t, []string{"d1", "i1"}, st.InstanceOrder)

	d1 := st.Instances["d1"]
	i1 := st.Instances["i1"]
	require.Equal(t, 0, d1.StateOffset)
	require.True(t, i1.StateOffset >= d1.StateOffset)
}

func TestBuildSymbolTableUndeclaredSpawnType(t *testing.T) {
	src := `network N
topology {
	fruiting_body root
	spawn Ghost g1
}
`
	n := mustParse(t, src)
	_, err := BuildSymbolTable(n)
	require.Error(t, err)
	var se SemanticError
	require.ErrorAs(t, err, &se)
}

func TestBuildSymbolTableUndeclaredSocketFrequency(t *testing.T) {
	src := `network N
hyphae H {
	on rest {
		let x = 1
	}
}
topology {
	fruiting_body root
	spawn H h1
	socket root : ghost -> h1
}
`
	n := mustParse(t, src)
	_, err := BuildSymbolTable(n)
	require.Error(t, err)
}

func TestBuildSymbolTableDuplicateInstanceID(t *testing.T) {
	src := `network N
hyphae H {
	on rest {
		let x = 1
	}
}
topology {
	fruiting_body root
	spawn H h1
	spawn H h1
}
`
	n := mustParse(t, src)
	_, err := BuildSymbolTable(n)
	require.Error(t, err)
}
