package shader

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"golang.org/x/exp/slog"
)

// ErrMalformedSamplerSpec is returned when a sampler binding's name does not
// follow the sampler_<filter><mipmap><address> grammar.
var ErrMalformedSamplerSpec = errors.New("malformed sampler name")

// SamplerSpec is the parameter tuple a sampler binding name encodes.
type SamplerSpec struct {
	Filter      core1_0.Filter
	MipmapMode  core1_0.SamplerMipmapMode
	AddressMode core1_0.SamplerAddressMode
}

// ParseSamplerName decodes a binding name of the form
// sampler_<filter><mipmap><address>, with <filter> and <mipmap> one of
// n (nearest) or l (linear), and <address> one of r (repeat),
// mr (mirrored repeat), c (clamp to edge), or cb (clamp to border).
func ParseSamplerName(name string) (SamplerSpec, error) {
	code, ok := strings.CutPrefix(name, "sampler_")
	if !ok {
		return SamplerSpec{}, errors.Wrapf(ErrMalformedSamplerSpec, "%s: missing sampler_ prefix", name)
	}
	if len(code) < 3 {
		return SamplerSpec{}, errors.Wrapf(ErrMalformedSamplerSpec, "%s: parameter code too short", name)
	}

	var spec SamplerSpec

	switch code[0] {
	case 'n':
		spec.Filter = core1_0.FilterNearest
	case 'l':
		spec.Filter = core1_0.FilterLinear
	default:
		return SamplerSpec{}, errors.Wrapf(ErrMalformedSamplerSpec, "%s: unknown filter code %q", name, code[0])
	}

	switch code[1] {
	case 'n':
		spec.MipmapMode = core1_0.SamplerMipmapModeNearest
	case 'l':
		spec.MipmapMode = core1_0.SamplerMipmapModeLinear
	default:
		return SamplerSpec{}, errors.Wrapf(ErrMalformedSamplerSpec, "%s: unknown mipmap code %q", name, code[1])
	}

	switch code[2:] {
	case "r":
		spec.AddressMode = core1_0.SamplerAddressModeRepeat
	case "mr":
		spec.AddressMode = core1_0.SamplerAddressModeMirroredRepeat
	case "c":
		spec.AddressMode = core1_0.SamplerAddressModeClampToEdge
	case "cb":
		spec.AddressMode = core1_0.SamplerAddressModeClampToBorder
	default:
		return SamplerSpec{}, errors.Wrapf(ErrMalformedSamplerSpec, "%s: unknown address code %q", name, code[2:])
	}

	return spec, nil
}

// SamplerRegistry hands out immutable samplers for parameter tuples. The
// layout builder looks bindings up here so that shaders sharing a spec share
// one sampler object.
type SamplerRegistry interface {
	GetOrCreate(spec SamplerSpec) (core1_0.Sampler, error)
}

// SamplerCache is the default SamplerRegistry. It creates each distinct
// sampler once and keeps it until Destroy. Unlike the rest of this package it
// locks internally, since one cache serves every shader in the program.
type SamplerCache struct {
	logger              *slog.Logger
	device              core1_0.Device
	allocationCallbacks *driver.AllocationCallbacks

	mutex    sync.Mutex
	samplers *swiss.Map[SamplerSpec, core1_0.Sampler]
}

func NewSamplerCache(logger *slog.Logger, device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks) *SamplerCache {
	return &SamplerCache{
		logger:              logger,
		device:              device,
		allocationCallbacks: allocationCallbacks,
		samplers:            swiss.NewMap[SamplerSpec, core1_0.Sampler](42),
	}
}

func (c *SamplerCache) GetOrCreate(spec SamplerSpec) (core1_0.Sampler, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	sampler, ok := c.samplers.Get(spec)
	if ok {
		return sampler, nil
	}

	c.logger.Debug("SamplerCache::GetOrCreate creating sampler")

	sampler, _, err := c.device.CreateSampler(c.allocationCallbacks, core1_0.SamplerCreateInfo{
		MagFilter:    spec.Filter,
		MinFilter:    spec.Filter,
		MipmapMode:   spec.MipmapMode,
		AddressModeU: spec.AddressMode,
		AddressModeV: spec.AddressMode,
		AddressModeW: spec.AddressMode,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating sampler")
	}

	c.samplers.Put(spec, sampler)
	return sampler, nil
}

// Destroy releases every cached sampler. Samplers handed out by GetOrCreate
// are invalid afterward.
func (c *SamplerCache) Destroy() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.samplers.Iter(func(spec SamplerSpec, sampler core1_0.Sampler) bool {
		sampler.Destroy(c.allocationCallbacks)
		return false
	})
	c.samplers = swiss.NewMap[SamplerSpec, core1_0.Sampler](42)
}
