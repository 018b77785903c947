package spirv

import (
	"encoding/binary"
	"strings"

	"github.com/cockroachdb/errors"
)

// spirvMagic is the first word of every valid module, in the producing
// endianness. Byte-swapped modules are rejected rather than translated.
const spirvMagic = 0x07230203

const headerWords = 5

// Opcodes and enum values from the SPIR-V specification, limited to what
// descriptor reflection needs.
const (
	opName                         = 5
	opEntryPoint                   = 15
	opTypeImage                    = 25
	opTypeSampler                  = 26
	opTypeSampledImage             = 27
	opTypeArray                    = 28
	opTypeRuntimeArray             = 29
	opTypeStruct                   = 30
	opTypePointer                  = 32
	opConstant                     = 43
	opVariable                     = 59
	opDecorate                     = 71
	opTypeAccelerationStructureKHR = 5341
)

const (
	decorationBlock         = 2
	decorationBufferBlock   = 3
	decorationBinding       = 33
	decorationDescriptorSet = 34
)

const (
	storageClassUniformConstant = 0
	storageClassUniform         = 2
	storageClassStorageBuffer   = 12
)

const (
	dimBuffer      = 5
	dimSubpassData = 6
)

type typeInstr struct {
	opcode   uint16
	operands []uint32
}

type decorationSet struct {
	set         uint32
	binding     uint32
	hasSet      bool
	hasBinding  bool
	block       bool
	bufferBlock bool
}

type variable struct {
	id           uint32
	pointerType  uint32
	storageClass uint32
}

// Reflection holds the module-level metadata a single parse pass recovered.
// It is immutable once constructed.
type Reflection struct {
	names       map[uint32]string
	decorations map[uint32]decorationSet
	types       map[uint32]typeInstr
	constants   map[uint32]uint32
	variables   []variable
	entryPoints []EntryPoint
}

// Reflect parses bytecode and returns its reflection data. The bytes are not
// retained. A failure is always marked ErrMalformedBytecode.
func Reflect(bytecode []byte) (*Reflection, error) {
	if len(bytecode) < headerWords*4 {
		return nil, errors.Wrapf(ErrMalformedBytecode, "module is %d bytes, shorter than the %d-byte header", len(bytecode), headerWords*4)
	}
	if len(bytecode)%4 != 0 {
		return nil, errors.Wrapf(ErrMalformedBytecode, "module length %d is not a whole number of words", len(bytecode))
	}

	magic := binary.LittleEndian.Uint32(bytecode)
	if magic != spirvMagic {
		return nil, errors.Wrapf(ErrMalformedBytecode, "bad magic number 0x%08x", magic)
	}

	r := &Reflection{
		names:       map[uint32]string{},
		decorations: map[uint32]decorationSet{},
		types:       map[uint32]typeInstr{},
		constants:   map[uint32]uint32{},
	}

	offset := headerWords * 4
	for offset < len(bytecode) {
		word := binary.LittleEndian.Uint32(bytecode[offset:])
		opcode := uint16(word & 0xffff)
		wordCount := int(word >> 16)

		if wordCount == 0 || offset+wordCount*4 > len(bytecode) {
			return nil, errors.Wrapf(ErrMalformedBytecode, "instruction at offset 0x%x has word count %d", offset, wordCount)
		}

		operands := make([]uint32, wordCount-1)
		for i := range operands {
			operands[i] = binary.LittleEndian.Uint32(bytecode[offset+4+i*4:])
		}

		if err := r.consume(opcode, operands, offset); err != nil {
			return nil, err
		}
		offset += wordCount * 4
	}

	return r, nil
}

func (r *Reflection) consume(opcode uint16, operands []uint32, offset int) error {
	switch opcode {
	case opEntryPoint:
		if len(operands) < 3 {
			return errors.Wrapf(ErrMalformedBytecode, "OpEntryPoint at offset 0x%x is truncated", offset)
		}
		name, _ := decodeString(operands[2:])
		r.entryPoints = append(r.entryPoints, EntryPoint{
			Name:  name,
			Model: ExecutionModel(operands[0]),
		})

	case opName:
		if len(operands) < 1 {
			return errors.Wrapf(ErrMalformedBytecode, "OpName at offset 0x%x is truncated", offset)
		}
		name, _ := decodeString(operands[1:])
		r.names[operands[0]] = name

	case opDecorate:
		if len(operands) < 2 {
			return errors.Wrapf(ErrMalformedBytecode, "OpDecorate at offset 0x%x is truncated", offset)
		}
		dec := r.decorations[operands[0]]
		switch operands[1] {
		case decorationDescriptorSet:
			if len(operands) < 3 {
				return errors.Wrapf(ErrMalformedBytecode, "DescriptorSet decoration at offset 0x%x has no operand", offset)
			}
			dec.set = operands[2]
			dec.hasSet = true
		case decorationBinding:
			if len(operands) < 3 {
				return errors.Wrapf(ErrMalformedBytecode, "Binding decoration at offset 0x%x has no operand", offset)
			}
			dec.binding = operands[2]
			dec.hasBinding = true
		case decorationBlock:
			dec.block = true
		case decorationBufferBlock:
			dec.bufferBlock = true
		}
		r.decorations[operands[0]] = dec

	case opTypeImage, opTypeSampler, opTypeSampledImage, opTypeArray,
		opTypeRuntimeArray, opTypeStruct, opTypePointer, opTypeAccelerationStructureKHR:
		if len(operands) < 1 {
			return errors.Wrapf(ErrMalformedBytecode, "type instruction at offset 0x%x is truncated", offset)
		}
		r.types[operands[0]] = typeInstr{opcode: opcode, operands: operands[1:]}

	case opConstant:
		// Only scalar constants narrow enough to be array lengths matter here.
		if len(operands) >= 3 {
			r.constants[operands[1]] = operands[2]
		}

	case opVariable:
		if len(operands) < 3 {
			return errors.Wrapf(ErrMalformedBytecode, "OpVariable at offset 0x%x is truncated", offset)
		}
		r.variables = append(r.variables, variable{
			id:           operands[1],
			pointerType:  operands[0],
			storageClass: operands[2],
		})
	}

	return nil
}

// EntryPoints lists the entry points declared by the module, in declaration
// order.
func (r *Reflection) EntryPoints() []EntryPoint {
	out := make([]EntryPoint, len(r.entryPoints))
	copy(out, r.entryPoints)
	return out
}

// DescriptorSets walks every module-scope variable carrying a DescriptorSet
// decoration and classifies it, returning set index -> binding index ->
// DescriptorInfo. Bindings the reflector cannot classify come back with
// KindUnknown rather than failing, so the caller owns the policy for
// unsupported descriptor classes.
func (r *Reflection) DescriptorSets() (map[uint32]map[uint32]DescriptorInfo, error) {
	sets := map[uint32]map[uint32]DescriptorInfo{}

	for _, v := range r.variables {
		dec, ok := r.decorations[v.id]
		if !ok || !dec.hasSet {
			continue
		}

		info, err := r.describeVariable(v)
		if err != nil {
			return nil, err
		}

		bindings, ok := sets[dec.set]
		if !ok {
			bindings = map[uint32]DescriptorInfo{}
			sets[dec.set] = bindings
		}
		bindings[dec.binding] = info
	}

	return sets, nil
}

func (r *Reflection) describeVariable(v variable) (DescriptorInfo, error) {
	pointer, ok := r.types[v.pointerType]
	if !ok || pointer.opcode != opTypePointer {
		return DescriptorInfo{}, errors.Wrapf(ErrMalformedBytecode, "variable %%%d does not have a pointer type", v.id)
	}
	if len(pointer.operands) < 2 {
		return DescriptorInfo{}, errors.Wrapf(ErrMalformedBytecode, "pointer type of variable %%%d is truncated", v.id)
	}

	pointeeID := pointer.operands[1]
	pointeeID, dim, count, err := r.unwrapArrays(pointeeID)
	if err != nil {
		return DescriptorInfo{}, err
	}

	pointee, ok := r.types[pointeeID]
	if !ok {
		return DescriptorInfo{}, errors.Wrapf(ErrMalformedBytecode, "variable %%%d points at unknown type %%%d", v.id, pointeeID)
	}

	info := DescriptorInfo{
		Kind:           r.classify(v.storageClass, pointeeID, pointee),
		Name:           r.nameFor(v.id, pointeeID),
		Dimensionality: dim,
		Count:          count,
	}
	return info, nil
}

// unwrapArrays peels array wrappers off a type, reporting the binding's
// dimensionality. Only the outermost wrapper determines it, matching how
// shader resource arrays are declared.
func (r *Reflection) unwrapArrays(id uint32) (uint32, Dimensionality, uint32, error) {
	dim := DimensionalitySingle
	var count uint32

	for i := 0; ; i++ {
		t, ok := r.types[id]
		if !ok {
			// Scalar/vector leaf types are not recorded; treat as terminal.
			return id, dim, count, nil
		}

		switch t.opcode {
		case opTypeArray:
			if len(t.operands) < 2 {
				return 0, 0, 0, errors.Wrapf(ErrMalformedBytecode, "array type %%%d is truncated", id)
			}
			if i == 0 {
				dim = DimensionalityArray
				count = r.constants[t.operands[1]]
			}
			id = t.operands[0]
		case opTypeRuntimeArray:
			if len(t.operands) < 1 {
				return 0, 0, 0, errors.Wrapf(ErrMalformedBytecode, "runtime array type %%%d is truncated", id)
			}
			if i == 0 {
				dim = DimensionalityRuntimeArray
			}
			id = t.operands[0]
		default:
			return id, dim, count, nil
		}
	}
}

func (r *Reflection) classify(storageClass, typeID uint32, t typeInstr) DescriptorKind {
	switch storageClass {
	case storageClassStorageBuffer:
		return KindStorageBuffer

	case storageClassUniform:
		dec := r.decorations[typeID]
		if dec.bufferBlock {
			// Pre-1.3 SSBO spelling: Uniform storage class, BufferBlock struct.
			return KindStorageBuffer
		}
		if t.opcode == opTypeStruct {
			return KindUniformBuffer
		}

	case storageClassUniformConstant:
		switch t.opcode {
		case opTypeSampler:
			return KindSampler
		case opTypeSampledImage:
			return KindCombinedImageSampler
		case opTypeAccelerationStructureKHR:
			return KindAccelerationStructure
		case opTypeImage:
			return classifyImage(t)
		}
	}

	return KindUnknown
}

// classifyImage maps an OpTypeImage to a descriptor kind using its Dim and
// Sampled operands: Dim=Buffer declares a texel buffer, Sampled=1 a read-only
// sampled resource, Sampled=2 a storage resource.
func classifyImage(t typeInstr) DescriptorKind {
	// Operands: SampledType Dim Depth Arrayed MS Sampled Format [Access]
	if len(t.operands) < 7 {
		return KindUnknown
	}
	dim := t.operands[1]
	sampled := t.operands[5]

	switch {
	case dim == dimSubpassData:
		return KindInputAttachment
	case dim == dimBuffer && sampled == 1:
		return KindUniformTexelBuffer
	case dim == dimBuffer && sampled == 2:
		return KindStorageTexelBuffer
	case sampled == 1:
		return KindSampledImage
	case sampled == 2:
		return KindStorageImage
	}
	return KindUnknown
}

func (r *Reflection) nameFor(variableID, typeID uint32) string {
	if name := r.names[variableID]; name != "" {
		return name
	}
	// Anonymous block instances carry their name on the struct type instead.
	return r.names[typeID]
}

// decodeString reads a NUL-terminated UTF-8 literal packed little-endian into
// operand words, returning the string and the number of words it occupied.
func decodeString(words []uint32) (string, int) {
	var sb strings.Builder
	for i, word := range words {
		for shift := 0; shift < 32; shift += 8 {
			b := byte(word >> shift)
			if b == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(b)
		}
	}
	return sb.String(), len(words)
}
