package mycelial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayoutFieldsNaturalAlignment(t *testing.T) {
	fields := []*Field{
		{Name: "a", Type: TypeRef{Name: "u8"}},
		{Name: "b", Type: TypeRef{Name: "u32"}},
		{Name: "c", Type: TypeRef{Name: "u8"}},
		{Name: "d", Type: TypeRef{Name: "string"}},
	}
	layout, size := layoutFields(fields)
	require.Equal(t, 0, layout[0].Offset) // a: u8 @ 0
	require.Equal(t, 4, layout[1].Offset) // b: u32 aligned up to 4
	require.Equal(t, 8, layout[2].Offset) // c: u8 @ 8
	require.Equal(t, 16, layout[3].Offset) // d: string, 8-byte aligned
	require.Equal(t, 0, size%8)
	require.GreaterOrEqual(t, size, 24)
}

func TestLayoutStructSizeRoundsUpTo8(t *testing.T) {
	decl := &TypeDecl{
		Name: "Odd",
		Fields: []*Field{
			{Name: "x", Type: TypeRef{Name: "u8"}},
		},
	}
	sl := buildStructLayout(decl)
	require.Equal(t, 8, sl.Size)
}

func TestLayoutEnumIsAlways16Bytes(t *testing.T) {
	decl := &TypeDecl{
		Name:   "Shape",
		IsEnum: true,
		Variants: []*EnumVariant{
			{Name: "Circle", Inner: TypeRef{Name: "u32"}, Ordinal: 0},
			{Name: "Square", Ordinal: 1},
		},
	}
	el := buildEnumLayout(decl)
	require.Equal(t, 16, el.Size)
	v0, ok := el.Variant("Circle")
	require.True(t, ok)
	require.Equal(t, 0, v0.Ordinal)
	require.True(t, v0.HasInner)
	v1, ok := el.Variant("Square")
	require.True(t, ok)
	require.Equal(t, 1, v1.Ordinal)
	require.False(t, v1.HasInner)
}

func TestLayoutAgentStateConcatenatesInOrder(t *testing.T) {
	h := &HyphaDecl{
		Name: "Counter",
		State: []*Field{
			{Name: "count", Type: TypeRef{Name: "u32"}},
			{Name: "total", Type: TypeRef{Name: "u64"}},
		},
	}
	sl := buildAgentStateLayout(h)
	require.Equal(t, 0, sl.Fields[0].Offset)
	require.Equal(t, 8, sl.Fields[1].Offset)
	require.Equal(t, 16, sl.Size)
}
