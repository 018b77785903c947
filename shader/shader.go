// Package shader loads compiled shader bytecode, reflects its descriptor
// bindings, and turns the reflected layout into descriptor-set-layout and
// descriptor-pool objects. Binding names carry extra meaning: a storage
// buffer ending in _dyn becomes a dynamic storage buffer, and sampler
// bindings encode their parameters in the name itself (see ParseSamplerName).
//
// A Shader is immutable after New. Layout building and set allocation issue
// device calls and follow the same caller-serialized contract as package
// resource.
package shader

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/dylanblokhuis/someday/spirv"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// Kind is the pipeline stage a shader was compiled for.
type Kind int

const (
	KindVertex Kind = iota
	KindFragment
	KindCompute
)

func (k Kind) String() string {
	switch k {
	case KindVertex:
		return "Vertex"
	case KindFragment:
		return "Fragment"
	case KindCompute:
		return "Compute"
	}
	return "Unknown"
}

// StageFlags is the stage bit for this kind.
func (k Kind) StageFlags() core1_0.ShaderStageFlags {
	switch k {
	case KindVertex:
		return core1_0.StageVertex
	case KindFragment:
		return core1_0.StageFragment
	case KindCompute:
		return core1_0.StageCompute
	}
	return 0
}

// Shader is one compiled entry point plus the descriptor layout reflected
// from its bytecode.
type Shader struct {
	logger     *slog.Logger
	kind       Kind
	entryPoint string
	code       []byte

	sets         map[uint32]map[uint32]spirv.DescriptorInfo
	samplerSpecs map[string]SamplerSpec
}

// New reflects bytecode and builds an immutable Shader. The bytecode is
// copied, so the caller may reuse its slice. Sampler binding names are parsed
// here rather than at layout-build time, so a shader with a malformed sampler
// name fails once, at load.
func New(logger *slog.Logger, bytecode []byte, kind Kind, entryPoint string) (*Shader, error) {
	logger.Debug("shader.New")

	code := make([]byte, len(bytecode))
	copy(code, bytecode)

	reflection, err := spirv.Reflect(code)
	if err != nil {
		return nil, err
	}

	sets, err := reflection.DescriptorSets()
	if err != nil {
		return nil, err
	}

	samplerSpecs := make(map[string]SamplerSpec)
	for setIndex, bindings := range sets {
		for bindingIndex, info := range bindings {
			if info.Kind != spirv.KindSampler {
				continue
			}

			spec, err := ParseSamplerName(info.Name)
			if err != nil {
				return nil, errors.Wrapf(err, "set %d binding %d", setIndex, bindingIndex)
			}
			samplerSpecs[info.Name] = spec
		}
	}

	return &Shader{
		logger:       logger,
		kind:         kind,
		entryPoint:   entryPoint,
		code:         code,
		sets:         sets,
		samplerSpecs: samplerSpecs,
	}, nil
}

func (s *Shader) Kind() Kind         { return s.kind }
func (s *Shader) EntryPoint() string { return s.entryPoint }

// DescriptorSets is the reflected layout, keyed by set index then binding
// index. Callers must not mutate it.
func (s *Shader) DescriptorSets() map[uint32]map[uint32]spirv.DescriptorInfo {
	return s.sets
}

// ModuleCreateInfo packs the bytecode into the word form device module
// creation expects.
func (s *Shader) ModuleCreateInfo() core1_0.ShaderModuleCreateInfo {
	code := make([]uint32, len(s.code)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(s.code[i*4:])
	}

	return core1_0.ShaderModuleCreateInfo{
		Code: code,
	}
}

// StageInfo is the stage-creation descriptor for a module created from this
// shader's bytecode.
func (s *Shader) StageInfo(module core1_0.ShaderModule) core1_0.PipelineShaderStageCreateInfo {
	return core1_0.PipelineShaderStageCreateInfo{
		Stage:  s.kind.StageFlags(),
		Module: module,
		Name:   s.entryPoint,
	}
}
