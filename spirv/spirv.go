// Package spirv extracts resource-binding metadata from compiled SPIR-V
// bytecode: which descriptor sets and bindings a shader declares, what kind of
// descriptor each binding is, and how it is named in the source. It consumes
// the binary form only and never executes or transforms the shader.
package spirv

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrMalformedBytecode is returned when the provided bytes cannot be parsed as
// a SPIR-V module. The asset is broken; there is nothing to retry.
var ErrMalformedBytecode = errors.New("malformed SPIR-V bytecode")

// DescriptorKind identifies the descriptor class a binding was declared as.
// It is deliberately independent of any graphics API's descriptor-type enum so
// that translation policy (dynamic offsets, immutable samplers) stays with the
// consumer.
type DescriptorKind int

const (
	// KindUnknown marks a binding whose declaration the reflector recognized
	// structurally but cannot classify. Consumers decide whether that is fatal.
	KindUnknown DescriptorKind = iota
	KindUniformBuffer
	KindStorageBuffer
	KindUniformTexelBuffer
	KindStorageTexelBuffer
	KindSampledImage
	KindStorageImage
	KindSampler
	KindCombinedImageSampler
	KindInputAttachment
	KindAccelerationStructure
)

var descriptorKindNames = map[DescriptorKind]string{
	KindUnknown:               "Unknown",
	KindUniformBuffer:         "UniformBuffer",
	KindStorageBuffer:         "StorageBuffer",
	KindUniformTexelBuffer:    "UniformTexelBuffer",
	KindStorageTexelBuffer:    "StorageTexelBuffer",
	KindSampledImage:          "SampledImage",
	KindStorageImage:          "StorageImage",
	KindSampler:               "Sampler",
	KindCombinedImageSampler:  "CombinedImageSampler",
	KindInputAttachment:       "InputAttachment",
	KindAccelerationStructure: "AccelerationStructure",
}

func (k DescriptorKind) String() string {
	name, ok := descriptorKindNames[k]
	if !ok {
		return fmt.Sprintf("DescriptorKind(%d)", int(k))
	}
	return name
}

// Dimensionality describes whether a binding is a single descriptor, a
// fixed-size array, or a runtime-sized array.
type Dimensionality int

const (
	DimensionalitySingle Dimensionality = iota
	DimensionalityArray
	DimensionalityRuntimeArray
)

func (d Dimensionality) String() string {
	switch d {
	case DimensionalitySingle:
		return "Single"
	case DimensionalityArray:
		return "Array"
	case DimensionalityRuntimeArray:
		return "RuntimeArray"
	}
	return fmt.Sprintf("Dimensionality(%d)", int(d))
}

// DescriptorInfo is the reflected description of one binding. It is derived
// from bytecode and never mutated.
type DescriptorInfo struct {
	Kind DescriptorKind
	// Name is the identifier the shader source declared the resource under,
	// falling back to the name of the underlying block type when the variable
	// itself is anonymous.
	Name           string
	Dimensionality Dimensionality
	// Count is the declared element count for DimensionalityArray bindings
	// and zero otherwise.
	Count uint32
}

// ExecutionModel mirrors the SPIR-V execution model of an entry point.
type ExecutionModel uint32

const (
	ExecutionModelVertex    ExecutionModel = 0
	ExecutionModelFragment  ExecutionModel = 4
	ExecutionModelGLCompute ExecutionModel = 5
)

func (m ExecutionModel) String() string {
	switch m {
	case ExecutionModelVertex:
		return "Vertex"
	case ExecutionModelFragment:
		return "Fragment"
	case ExecutionModelGLCompute:
		return "GLCompute"
	}
	return fmt.Sprintf("ExecutionModel(%d)", uint32(m))
}

// EntryPoint is a single entry point recovered from the module header
// instructions.
type EntryPoint struct {
	Name  string
	Model ExecutionModel
}
