package resource

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/memutils"
	"github.com/vkngwrapper/arsenal/vam"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// VamAllocator adapts a vam.Allocator to the Allocator boundary. Host-visible
// allocations are persistently mapped for their whole lifetime, so MappedPtr
// is stable until Free.
type VamAllocator struct {
	allocator *vam.Allocator
}

func NewVamAllocator(allocator *vam.Allocator) *VamAllocator {
	return &VamAllocator{allocator: allocator}
}

type vamAllocation struct {
	alloc  *vam.Allocation
	mapped unsafe.Pointer
}

func (a *vamAllocation) Memory() core1_0.DeviceMemory { return a.alloc.Memory() }
func (a *vamAllocation) Offset() int                  { return a.alloc.FindOffset() }
func (a *vamAllocation) MappedPtr() unsafe.Pointer    { return a.mapped }

func (a *VamAllocator) Allocate(o AllocationCreateInfo) (Allocation, common.VkResult, error) {
	info := allocationCreateInfo(o.Location)

	// vam classifies linear vs. tiled suballocations from its own granularity
	// bookkeeping; o.Linear is part of the boundary contract but needs no
	// translation here.
	var alloc vam.Allocation
	res, err := a.allocator.AllocateMemory(&o.Requirements, info, &alloc)
	if err != nil {
		return nil, res, err
	}

	if o.Name != "" {
		alloc.SetName(o.Name)
	}

	wrapped := &vamAllocation{alloc: &alloc}
	if info.Flags&memutils.AllocationCreateMapped != 0 {
		ptr, _, err := alloc.Map()
		if err != nil {
			_ = alloc.Free()
			return nil, res, errors.Wrap(err, "mapping host-visible allocation")
		}
		wrapped.mapped = ptr
	}

	return wrapped, res, nil
}

func (a *VamAllocator) Free(allocation Allocation) error {
	wrapped, ok := allocation.(*vamAllocation)
	if !ok {
		return errors.Newf("allocation of type %T was not created by this allocator", allocation)
	}

	if wrapped.mapped != nil {
		if err := wrapped.alloc.Unmap(); err != nil {
			return errors.Wrap(err, "unmapping allocation")
		}
		wrapped.mapped = nil
	}

	return wrapped.alloc.Free()
}

func allocationCreateInfo(location MemoryLocation) vam.AllocationCreateInfo {
	switch location {
	case MemoryLocationGpuOnly:
		return vam.AllocationCreateInfo{Usage: vam.MemoryUsageAutoPreferDevice}
	case MemoryLocationCpuToGpu:
		return vam.AllocationCreateInfo{
			Usage: vam.MemoryUsageAutoPreferDevice,
			Flags: memutils.AllocationCreateHostAccessSequentialWrite | memutils.AllocationCreateMapped,
		}
	case MemoryLocationGpuToCpu:
		return vam.AllocationCreateInfo{
			Usage: vam.MemoryUsageAutoPreferHost,
			Flags: memutils.AllocationCreateHostAccessRandom | memutils.AllocationCreateMapped,
		}
	default:
		return vam.AllocationCreateInfo{Usage: vam.MemoryUsageAuto}
	}
}
