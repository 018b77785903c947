package resource

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
)

// Buffer is a device buffer plus the Allocation backing it. After Destroy the
// allocation is gone and every other method fails.
type Buffer struct {
	parent *Resources

	buffer        core1_0.Buffer
	allocation    Allocation
	size          int
	deviceAddress uint64
	written       bool
}

// CreateBuffer creates a device buffer, backs it with memory from the
// allocator, and queries its device address. Every buffer is given the
// shader-device-address usage flag whether or not the description asked for
// it, so address queries are always valid.
func (r *Resources) CreateBuffer(o core1_0.BufferCreateInfo, location MemoryLocation) (*Buffer, common.VkResult, error) {
	r.logger.Debug("Resources::CreateBuffer")

	if o.Usage&khr_buffer_device_address.BufferUsageShaderDeviceAddress == 0 {
		o.Usage |= khr_buffer_device_address.BufferUsageShaderDeviceAddress
	}

	buffer, res, err := r.device.CreateBuffer(r.allocationCallbacks, o)
	if err != nil {
		return nil, res, errors.Mark(errors.Wrap(err, "creating buffer"), ErrDeviceObjectCreationFailed)
	}

	allocation, res, err := r.allocator.Allocate(AllocationCreateInfo{
		Name:         "buffer",
		Requirements: *buffer.MemoryRequirements(),
		Location:     location,
		Linear:       true,
	})
	if err != nil {
		buffer.Destroy(r.allocationCallbacks)
		return nil, res, errors.Mark(errors.Wrap(err, "allocating buffer memory"), ErrAllocationFailed)
	}

	res, err = buffer.BindBufferMemory(allocation.Memory(), allocation.Offset())
	if err != nil {
		_ = r.allocator.Free(allocation)
		buffer.Destroy(r.allocationCallbacks)
		return nil, res, errors.Mark(errors.Wrap(err, "binding buffer memory"), ErrAllocationFailed)
	}

	deviceAddress, res, err := r.addresses.BufferDeviceAddress(buffer)
	if err != nil {
		_ = r.allocator.Free(allocation)
		buffer.Destroy(r.allocationCallbacks)
		return nil, res, errors.Mark(errors.Wrap(err, "querying buffer device address"), ErrDeviceObjectCreationFailed)
	}

	return &Buffer{
		parent:        r,
		buffer:        buffer,
		allocation:    allocation,
		size:          o.Size,
		deviceAddress: deviceAddress,
	}, res, nil
}

// Handle is the underlying device buffer.
func (b *Buffer) Handle() core1_0.Buffer { return b.buffer }

// Size is the buffer's byte size.
func (b *Buffer) Size() int { return b.size }

// DeviceAddress is the buffer's GPU-visible address, valid from construction
// until Destroy.
func (b *Buffer) DeviceAddress() uint64 { return b.deviceAddress }

// HasBeenWrittenTo reports whether any WriteBytes call has succeeded.
func (b *Buffer) HasBeenWrittenTo() bool { return b.written }

// WriteBytes copies data into the buffer's mapped memory starting at offset.
// The buffer's memory must be host-visible, and the write must fit: a write
// past the end fails with ErrOffsetOutOfBounds and leaves the buffer
// untouched. The caller guarantees the GPU is not reading the region.
func (b *Buffer) WriteBytes(data []byte, offset int) error {
	if b.allocation == nil {
		return errors.Wrap(ErrBufferNotMapped, "buffer has no backing allocation")
	}

	ptr := b.allocation.MappedPtr()
	if ptr == nil {
		return errors.Wrapf(ErrBufferNotMapped, "buffer was allocated %s", b.allocationLocationHint())
	}

	if offset < 0 || offset+len(data) > b.size {
		return errors.Wrapf(ErrOffsetOutOfBounds, "write of %d bytes at offset %d into buffer of size %d", len(data), offset, b.size)
	}

	dst := unsafe.Slice((*byte)(unsafe.Add(ptr, offset)), len(data))
	copy(dst, data)
	b.written = true
	return nil
}

func (b *Buffer) allocationLocationHint() string {
	return "without host access; use MemoryLocationCpuToGpu or MemoryLocationGpuToCpu"
}

// Destroy returns the buffer's memory to the allocator and destroys the
// handle. It must be called exactly once, before the device and allocator are
// torn down; a second call fails with ErrDoubleFree.
func (b *Buffer) Destroy() error {
	if b.allocation == nil {
		return errors.Wrap(ErrDoubleFree, "buffer")
	}

	freeErr := b.parent.allocator.Free(b.allocation)
	b.allocation = nil
	b.buffer.Destroy(b.parent.allocationCallbacks)

	if freeErr != nil {
		return errors.Wrap(freeErr, "freeing buffer memory")
	}
	return nil
}
