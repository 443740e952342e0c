package mycelial

// Field offset/size computation for frequencies, structs, and agent
// state regions (spec.md §3, §4.3): natural-alignment packing of
// primitives, 8-byte pointers for every container/struct/enum field,
// total size rounded up to an 8-byte multiple.

// FieldLayout is one member's position within a struct/frequency/
// agent-state region.
type FieldLayout struct {
	Name   string
	Type   TypeRef
	Offset int
	Size   int
}

// fieldSize returns the storage width of a declared type: the natural
// width of a fixed-size primitive, or 8 for every pointer-shaped type
// (string, vec, queue, map, struct, enum) per spec.md §3.
func fieldSize(t TypeRef) int {
	switch t.Name {
	case "u8", "i8", "bool", "boolean":
		return 1
	case "u16", "i16":
		return 2
	case "u32", "i32", "f32":
		return 4
	case "u64", "i64", "f64":
		return 8
	default:
		return 8
	}
}

// fieldAlign returns a field's required alignment, identical to its
// size under natural alignment.
func fieldAlign(t TypeRef) int {
	return fieldSize(t)
}

func alignUp(offset, align int) int {
	if align <= 1 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}

// layoutFields packs fields in declaration order and returns their
// offsets plus the region's total size, rounded up to 8 bytes.
func layoutFields(fields []*Field) ([]FieldLayout, int) {
	offset := 0
	out := make([]FieldLayout, 0, len(fields))
	for _, f := range fields {
		size := fieldSize(f.Type)
		align := fieldAlign(f.Type)
		offset = alignUp(offset, align)
		out = append(out, FieldLayout{Name: f.Name, Type: f.Type, Offset: offset, Size: size})
		offset += size
	}
	return out, alignUp(offset, 8)
}

// FrequencyLayout is a frequency's packed field layout (spec.md §3).
type FrequencyLayout struct {
	Name   string
	Fields []FieldLayout
	Size   int
}

func (fl *FrequencyLayout) Field(name string) (FieldLayout, bool) {
	for _, f := range fl.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldLayout{}, false
}

func buildFrequencyLayout(d *FrequencyDecl) *FrequencyLayout {
	fields, size := layoutFields(d.Fields)
	return &FrequencyLayout{Name: d.Name, Fields: fields, Size: size}
}

// StructLayout is a struct type's packed field layout (spec.md §3).
type StructLayout struct {
	Name   string
	Fields []FieldLayout
	Size   int
}

func (sl *StructLayout) Field(name string) (FieldLayout, bool) {
	for _, f := range sl.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldLayout{}, false
}

func buildStructLayout(d *TypeDecl) *StructLayout {
	fields, size := layoutFields(d.Fields)
	return &StructLayout{Name: d.Name, Fields: fields, Size: size}
}

// enumCellSize is the fixed tagged-union representation size: an
// 8-byte tag followed by an 8-byte inline/pointer payload slot,
// applied uniformly even to data-less variants (spec.md §9).
const enumCellSize = 16

// EnumVariantLayout is one arm of an enum's tagged union.
type EnumVariantLayout struct {
	Name     string
	Ordinal  int
	Inner    TypeRef
	HasInner bool
}

// EnumLayout is an enum type's tagged-union layout.
type EnumLayout struct {
	Name     string
	Variants []EnumVariantLayout
	Size     int
}

func (el *EnumLayout) Variant(name string) (EnumVariantLayout, bool) {
	for _, v := range el.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return EnumVariantLayout{}, false
}

func buildEnumLayout(d *TypeDecl) *EnumLayout {
	variants := make([]EnumVariantLayout, 0, len(d.Variants))
	for _, v := range d.Variants {
		variants = append(variants, EnumVariantLayout{
			Name:     v.Name,
			Ordinal:  v.Ordinal,
			Inner:    v.Inner,
			HasInner: v.Inner.Name != "",
		})
	}
	return &EnumLayout{Name: d.Name, Variants: variants, Size: enumCellSize}
}

// AgentStateLayout is one hypha type's packed state-field layout.
type AgentStateLayout struct {
	Fields []FieldLayout
	Size   int
}

func (al *AgentStateLayout) Field(name string) (FieldLayout, bool) {
	for _, f := range al.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldLayout{}, false
}

func buildAgentStateLayout(h *HyphaDecl) *AgentStateLayout {
	fields, size := layoutFields(h.State)
	return &AgentStateLayout{Fields: fields, Size: size}
}
