// Package spvtest assembles SPIR-V word streams for tests. It emits just
// enough of a module (header, debug names, decorations, types, variables) to
// exercise descriptor reflection without shipping compiled shader fixtures.
package spvtest

import "encoding/binary"

// SPIR-V enum values used when declaring test resources.
const (
	StorageClassUniformConstant uint32 = 0
	StorageClassUniform         uint32 = 2
	StorageClassStorageBuffer   uint32 = 12

	DecorationBlock         uint32 = 2
	DecorationBufferBlock   uint32 = 3
	DecorationBinding       uint32 = 33
	DecorationDescriptorSet uint32 = 34

	Dim1D          uint32 = 0
	Dim2D          uint32 = 1
	DimBuffer      uint32 = 5
	DimSubpassData uint32 = 6

	ExecutionModelVertex    uint32 = 0
	ExecutionModelFragment  uint32 = 4
	ExecutionModelGLCompute uint32 = 5
)

const (
	opName                         uint16 = 5
	opEntryPoint                   uint16 = 15
	opTypeFloat                    uint16 = 22
	opTypeImage                    uint16 = 25
	opTypeSampler                  uint16 = 26
	opTypeSampledImage             uint16 = 27
	opTypeArray                    uint16 = 28
	opTypeRuntimeArray             uint16 = 29
	opTypeStruct                   uint16 = 30
	opTypePointer                  uint16 = 32
	opTypeInt                      uint16 = 21
	opConstant                     uint16 = 43
	opVariable                     uint16 = 59
	opDecorate                     uint16 = 71
	opTypeAccelerationStructureKHR uint16 = 5341
)

// Builder accumulates instructions and renders them behind a valid module
// header. IDs are handed out sequentially; the header's bound reflects them.
type Builder struct {
	nextID       uint32
	names        []uint32
	entryPoints  []uint32
	decorations  []uint32
	typesAndVars []uint32

	intType uint32
}

func NewBuilder() *Builder {
	return &Builder{nextID: 1}
}

func (b *Builder) id() uint32 {
	id := b.nextID
	b.nextID++
	return id
}

func instruction(op uint16, operands ...uint32) []uint32 {
	words := make([]uint32, 0, len(operands)+1)
	words = append(words, uint32(len(operands)+1)<<16|uint32(op))
	return append(words, operands...)
}

func encodeString(s string) []uint32 {
	raw := append([]byte(s), 0)
	for len(raw)%4 != 0 {
		raw = append(raw, 0)
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words
}

// EntryPoint declares an entry point with the given execution model.
func (b *Builder) EntryPoint(model uint32, name string) {
	fn := b.id()
	operands := append([]uint32{model, fn}, encodeString(name)...)
	b.entryPoints = append(b.entryPoints, instruction(opEntryPoint, operands...)...)
}

// Name attaches a debug name to an id.
func (b *Builder) Name(id uint32, name string) {
	operands := append([]uint32{id}, encodeString(name)...)
	b.names = append(b.names, instruction(opName, operands...)...)
}

// Decorate attaches a decoration with optional literal operands.
func (b *Builder) Decorate(id, decoration uint32, literals ...uint32) {
	operands := append([]uint32{id, decoration}, literals...)
	b.decorations = append(b.decorations, instruction(opDecorate, operands...)...)
}

func (b *Builder) TypeStruct() uint32 {
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opTypeStruct, id)...)
	return id
}

func (b *Builder) TypeSampler() uint32 {
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opTypeSampler, id)...)
	return id
}

// TypeImage declares an image type with the given dimensionality and Sampled
// operand (1 = sampled, 2 = storage).
func (b *Builder) TypeImage(dim, sampled uint32) uint32 {
	sampledType := b.typeFloat()
	id := b.id()
	// SampledType Dim Depth Arrayed MS Sampled Format(Unknown)
	b.typesAndVars = append(b.typesAndVars, instruction(opTypeImage, id, sampledType, dim, 0, 0, 0, sampled, 0)...)
	return id
}

func (b *Builder) TypeSampledImage(image uint32) uint32 {
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opTypeSampledImage, id, image)...)
	return id
}

func (b *Builder) TypeAccelerationStructure() uint32 {
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opTypeAccelerationStructureKHR, id)...)
	return id
}

func (b *Builder) TypeRuntimeArray(element uint32) uint32 {
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opTypeRuntimeArray, id, element)...)
	return id
}

// TypeArray declares a fixed-size array of element, emitting the length
// constant it references.
func (b *Builder) TypeArray(element uint32, length uint32) uint32 {
	lengthID := b.Constant(length)
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opTypeArray, id, element, lengthID)...)
	return id
}

func (b *Builder) TypePointer(storageClass, pointee uint32) uint32 {
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opTypePointer, id, storageClass, pointee)...)
	return id
}

func (b *Builder) Constant(value uint32) uint32 {
	typeID := b.typeInt()
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opConstant, typeID, id, value)...)
	return id
}

// Variable declares a module-scope variable of the given pointer type.
func (b *Builder) Variable(pointerType, storageClass uint32) uint32 {
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opVariable, pointerType, id, storageClass)...)
	return id
}

// ResourceVariable is the common case: declare a variable of pointee, point it
// at the storage class, name it, and decorate it with set and binding.
func (b *Builder) ResourceVariable(pointee, storageClass, set, binding uint32, name string) uint32 {
	pointer := b.TypePointer(storageClass, pointee)
	v := b.Variable(pointer, storageClass)
	if name != "" {
		b.Name(v, name)
	}
	b.Decorate(v, DecorationDescriptorSet, set)
	b.Decorate(v, DecorationBinding, binding)
	return v
}

func (b *Builder) typeInt() uint32 {
	if b.intType == 0 {
		b.intType = b.id()
		b.typesAndVars = append(b.typesAndVars, instruction(opTypeInt, b.intType, 32, 0)...)
	}
	return b.intType
}

func (b *Builder) typeFloat() uint32 {
	id := b.id()
	b.typesAndVars = append(b.typesAndVars, instruction(opTypeFloat, id, 32)...)
	return id
}

// Bytes renders the module: header, then entry points, debug names,
// decorations, and types/variables in the canonical section order.
func (b *Builder) Bytes() []byte {
	words := []uint32{
		0x07230203, // magic
		0x00010500, // version 1.5
		0,          // generator
		b.nextID,   // bound
		0,          // schema
	}
	words = append(words, b.entryPoints...)
	words = append(words, b.names...)
	words = append(words, b.decorations...)
	words = append(words, b.typesAndVars...)

	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
