package mycelial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoutingBroadcastExpandsToSpawnList(t *testing.T) {
	src := `network N
frequencies {
	ping {
		n: i64
	}
}
hyphae Worker {
	on signal(ping, msg) {
		report got: msg.n
	}
}
topology {
	fruiting_body root
	spawn Worker w1
	spawn Worker w2
	spawn Worker w3
	socket root : ping -> *
}
`
	n := mustParse(t, src)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	dests := st.Routing.DestinationsFor("root", "ping")
	require.Equal(t, []string{"w1", "w2", "w3"}, dests)
}

func TestRoutingQueueOrderIsSocketDeclarationOrder(t *testing.T) {
	src := `network N
frequencies {
	a { x: i64 }
	b { x: i64 }
}
hyphae H {
	on rest {
		let x = 1
	}
}
topology {
	fruiting_body root
	spawn H h1
	socket root : b -> h1
	socket root : a -> h1
}
`
	n := mustParse(t, src)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	require.Equal(t, []RouteKey{{Source: "root", Frequency: "b"}, {Source: "root", Frequency: "a"}}, st.Routing.Order)
}

func TestRoutingUndeclaredSocketDestination(t *testing.T) {
	src := `network N
frequencies {
	a { x: i64 }
}
hyphae H {
	on rest {
		let x = 1
	}
}
topology {
	fruiting_body root
	spawn H h1
	socket root : a -> ghost
}
`
	n := mustParse(t, src)
	_, err := BuildSymbolTable(n)
	require.Error(t, err)
}

func TestRoutingHandlerLabelsAssigned(t *testing.T) {
	src := `network N
frequencies {
	tick { n: i64 }
}
hyphae Counter {
	on rest {
		let x = 1
	}
	on signal(tick, msg) {
		report n: msg.n
	}
	on cycle 5 {
		report fired: 1
	}
}
topology {
	fruiting_body root
	spawn Counter c1
	socket root : tick -> c1
}
`
	n := mustParse(t, src)
	st, err := BuildSymbolTable(n)
	require.NoError(t, err)
	restL, ok := st.Routing.RestLabel["c1"]
	require.True(t, ok)
	require.Equal(t, "rest_Counter", restL)

	sigL, ok := st.Routing.HandlerLabelFor("c1", "tick")
	require.True(t, ok)
	require.Equal(t, "handler_Counter_tick", sigL)

	cycL, ok := st.Routing.CycleLabelFor("c1", 5)
	require.True(t, ok)
	require.Equal(t, "cycle_Counter_5", cycL)
}
