// Package resource creates and destroys GPU-resident buffers and images whose
// memory comes from an external allocator. It owns the pairing between a
// device object handle and its backing Allocation: each resource frees its
// allocation exactly once, and mapped writes are bounds-checked before they
// touch memory.
//
// Nothing in this package is internally synchronized. The caller serializes
// access to a resource and to the allocator, and guarantees the GPU is not
// using a resource when it is written to or destroyed.
package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"golang.org/x/exp/slog"
)

var (
	// ErrAllocationFailed classifies failures to obtain or bind backing memory.
	ErrAllocationFailed = errors.New("failed to allocate resource memory")
	// ErrDeviceObjectCreationFailed classifies failures to create the device
	// object a resource wraps.
	ErrDeviceObjectCreationFailed = errors.New("failed to create device object")
	// ErrDoubleFree is returned when a resource is destroyed twice. This is a
	// programming error in the caller, not a recoverable condition.
	ErrDoubleFree = errors.New("resource has already been destroyed")
	// ErrBufferNotMapped is returned when writing to a buffer whose memory does
	// not expose a host pointer.
	ErrBufferNotMapped = errors.New("buffer memory is not host-mapped")
	// ErrOffsetOutOfBounds is returned when a write would run past the end of
	// a buffer. The buffer is left unmodified.
	ErrOffsetOutOfBounds = errors.New("write exceeds buffer bounds")
)

// AddressQuerier answers buffer device-address queries. Devices promoted to
// core 1.2 and the khr_buffer_device_address extension both satisfy it through
// a one-line adapter.
type AddressQuerier interface {
	BufferDeviceAddress(buffer core1_0.Buffer) (uint64, common.VkResult, error)
}

// CreateOptions adjusts Resources construction.
type CreateOptions struct {
	// VulkanCallbacks is an optional set of allocation callbacks passed to
	// device object creation and destruction.
	VulkanCallbacks *driver.AllocationCallbacks
}

// Resources creates buffers and images against one device and one allocator.
type Resources struct {
	logger              *slog.Logger
	device              core1_0.Device
	addresses           AddressQuerier
	allocator           Allocator
	allocationCallbacks *driver.AllocationCallbacks
}

func NewResources(logger *slog.Logger, device core1_0.Device, addresses AddressQuerier, allocator Allocator, options CreateOptions) *Resources {
	return &Resources{
		logger:              logger,
		device:              device,
		addresses:           addresses,
		allocator:           allocator,
		allocationCallbacks: options.VulkanCallbacks,
	}
}
