package resource

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// MemoryLocation states which side of the bus needs efficient access to an
// allocation.
type MemoryLocation int

const (
	// MemoryLocationUnknown lets the allocator decide.
	MemoryLocationUnknown MemoryLocation = iota
	// MemoryLocationGpuOnly requests device-local memory with no host access.
	MemoryLocationGpuOnly
	// MemoryLocationCpuToGpu requests host-mapped memory for streaming writes.
	MemoryLocationCpuToGpu
	// MemoryLocationGpuToCpu requests host-mapped memory for readback.
	MemoryLocationGpuToCpu
)

func (l MemoryLocation) String() string {
	switch l {
	case MemoryLocationGpuOnly:
		return "GpuOnly"
	case MemoryLocationCpuToGpu:
		return "CpuToGpu"
	case MemoryLocationGpuToCpu:
		return "GpuToCpu"
	}
	return "Unknown"
}

// Allocation is a block of device memory handed out by an Allocator. Exactly
// one Buffer or Image owns an Allocation at a time, and it is returned to the
// allocator exactly once.
type Allocation interface {
	// Memory is the device memory block this allocation lives in.
	Memory() core1_0.DeviceMemory
	// Offset is the allocation's byte offset within Memory.
	Offset() int
	// MappedPtr is a persistently-mapped host pointer to the allocation's
	// first byte, or nil when the memory is not host-visible.
	MappedPtr() unsafe.Pointer
}

// AllocationCreateInfo describes one allocation request.
type AllocationCreateInfo struct {
	// Name tags the allocation for debug tooling.
	Name string
	// Requirements are the size, alignment, and memory-type constraints the
	// device reported for the resource being backed.
	Requirements core1_0.MemoryRequirements
	Location     MemoryLocation
	// Linear distinguishes buffer-like allocations from (tiled) image
	// allocations for granularity bookkeeping.
	Linear bool
}

// Allocator is the external memory allocator boundary. Implementations are not
// assumed to be safe for concurrent use; callers serialize.
type Allocator interface {
	Allocate(o AllocationCreateInfo) (Allocation, common.VkResult, error)
	Free(allocation Allocation) error
}
