package shader

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dylanblokhuis/someday/spirv"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
)

// ErrUnsupportedDescriptorType is returned when a reflected binding cannot be
// expressed in a layout. Partial pipelines are not supported, so the whole
// build fails.
var ErrUnsupportedDescriptorType = errors.New("unsupported descriptor type")

// DescriptorTypeAccelerationStructure is the ray-tracing acceleration
// structure descriptor type from VK_KHR_acceleration_structure.
const DescriptorTypeAccelerationStructure core1_0.DescriptorType = 1000150000

// CreateDescriptorSetLayouts builds one descriptor-set layout per set index
// the shader declares, from 0 through the highest declared index. Set indices
// the shader skips get an empty layout so the returned slice stays aligned
// with the shader's own set numbering.
//
// Alongside the layouts it returns, per set, the binding-to-descriptor-type
// mapping that pool sizing needs.
//
// Storage buffers named *_dyn become dynamic storage buffers. Sampler
// bindings carry their parameters in the binding name and resolve to
// immutable samplers through the registry. Every binding gets a descriptor
// count of one and the partially-bound flag; runtime descriptor arrays are
// not supported.
func (s *Shader) CreateDescriptorSetLayouts(device core1_0.Device, samplers SamplerRegistry) ([]core1_0.DescriptorSetLayout, []map[uint32]core1_0.DescriptorType, error) {
	s.logger.Debug("Shader::CreateDescriptorSetLayouts")

	maxSet := 0
	for setIndex := range s.sets {
		if int(setIndex)+1 > maxSet {
			maxSet = int(setIndex) + 1
		}
	}

	layouts := make([]core1_0.DescriptorSetLayout, 0, maxSet)
	typeMaps := make([]map[uint32]core1_0.DescriptorType, 0, maxSet)

	destroyPartial := func() {
		for _, layout := range layouts {
			layout.Destroy(nil)
		}
	}

	for setIndex := 0; setIndex < maxSet; setIndex++ {
		bindings := s.sets[uint32(setIndex)]

		bindingIndices := make([]uint32, 0, len(bindings))
		for bindingIndex := range bindings {
			bindingIndices = append(bindingIndices, bindingIndex)
		}
		sort.Slice(bindingIndices, func(i, j int) bool { return bindingIndices[i] < bindingIndices[j] })

		layoutBindings := make([]core1_0.DescriptorSetLayoutBinding, 0, len(bindings))
		bindingFlags := make([]core1_2.DescriptorBindingFlags, 0, len(bindings))
		typeMap := make(map[uint32]core1_0.DescriptorType, len(bindings))

		for _, bindingIndex := range bindingIndices {
			info := bindings[bindingIndex]

			if info.Dimensionality == spirv.DimensionalityRuntimeArray {
				destroyPartial()
				return nil, nil, errors.Wrapf(ErrUnsupportedDescriptorType, "set %d binding %d (%s): runtime descriptor arrays", setIndex, bindingIndex, info.Name)
			}

			layoutBinding := core1_0.DescriptorSetLayoutBinding{
				Binding:         int(bindingIndex),
				DescriptorCount: 1,
				StageFlags:      core1_0.StageAll,
			}

			switch info.Kind {
			case spirv.KindUniformBuffer:
				layoutBinding.DescriptorType = core1_0.DescriptorTypeUniformBuffer
			case spirv.KindUniformTexelBuffer:
				layoutBinding.DescriptorType = core1_0.DescriptorTypeUniformTexelBuffer
			case spirv.KindStorageImage:
				layoutBinding.DescriptorType = core1_0.DescriptorTypeStorageImage
			case spirv.KindStorageBuffer:
				if strings.HasSuffix(info.Name, "_dyn") {
					layoutBinding.DescriptorType = core1_0.DescriptorTypeStorageBufferDynamic
				} else {
					layoutBinding.DescriptorType = core1_0.DescriptorTypeStorageBuffer
				}
			case spirv.KindSampledImage:
				layoutBinding.DescriptorType = core1_0.DescriptorTypeSampledImage
			case spirv.KindSampler:
				sampler, err := samplers.GetOrCreate(s.samplerSpecs[info.Name])
				if err != nil {
					destroyPartial()
					return nil, nil, errors.Wrapf(err, "set %d binding %d (%s)", setIndex, bindingIndex, info.Name)
				}
				layoutBinding.DescriptorType = core1_0.DescriptorTypeSampler
				layoutBinding.ImmutableSamplers = []core1_0.Sampler{sampler}
			case spirv.KindAccelerationStructure:
				layoutBinding.DescriptorType = DescriptorTypeAccelerationStructure
			default:
				destroyPartial()
				return nil, nil, errors.Wrapf(ErrUnsupportedDescriptorType, "set %d binding %d (%s): %s", setIndex, bindingIndex, info.Name, info.Kind)
			}

			typeMap[bindingIndex] = layoutBinding.DescriptorType
			layoutBindings = append(layoutBindings, layoutBinding)
			bindingFlags = append(bindingFlags, core1_2.DescriptorBindingPartiallyBound)
		}

		createInfo := core1_0.DescriptorSetLayoutCreateInfo{
			Bindings: layoutBindings,
		}
		if len(bindingFlags) > 0 {
			createInfo.NextOptions = common.NextOptions{
				Next: core1_2.DescriptorSetLayoutBindingFlagsCreateInfo{
					BindingFlags: bindingFlags,
				},
			}
		}

		layout, _, err := device.CreateDescriptorSetLayout(nil, createInfo)
		if err != nil {
			destroyPartial()
			return nil, nil, errors.Wrapf(err, "creating layout for set %d", setIndex)
		}

		layouts = append(layouts, layout)
		typeMaps = append(typeMaps, typeMap)
	}

	return layouts, typeMaps, nil
}
