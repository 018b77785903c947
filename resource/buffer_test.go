package resource

import (
	"io"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type fakeAllocation struct {
	memory  core1_0.DeviceMemory
	offset  int
	backing []byte
}

func (a *fakeAllocation) Memory() core1_0.DeviceMemory { return a.memory }
func (a *fakeAllocation) Offset() int                  { return a.offset }
func (a *fakeAllocation) MappedPtr() unsafe.Pointer {
	if a.backing == nil {
		return nil
	}
	return unsafe.Pointer(&a.backing[0])
}

type fakeAllocator struct {
	memory      core1_0.DeviceMemory
	offset      int
	hostVisible bool

	failAllocate bool
	failFree     error

	lastInfo AllocationCreateInfo
	frees    int
}

func (a *fakeAllocator) Allocate(o AllocationCreateInfo) (Allocation, common.VkResult, error) {
	a.lastInfo = o
	if a.failAllocate {
		return nil, core1_0.VKErrorOutOfDeviceMemory, errors.New("out of device memory")
	}

	alloc := &fakeAllocation{memory: a.memory, offset: a.offset}
	if a.hostVisible {
		alloc.backing = make([]byte, o.Requirements.Size)
	}
	return alloc, core1_0.VKSuccess, nil
}

func (a *fakeAllocator) Free(allocation Allocation) error {
	a.frees++
	return a.failFree
}

type fakeAddresses struct {
	address uint64
	err     error
}

func (q *fakeAddresses) BufferDeviceAddress(buffer core1_0.Buffer) (uint64, common.VkResult, error) {
	if q.err != nil {
		return 0, core1_0.VKErrorUnknown, q.err
	}
	return q.address, core1_0.VKSuccess, nil
}

func testResources(t *testing.T, ctrl *gomock.Controller, allocator Allocator, addresses AddressQuerier) (*Resources, *mocks.MockDevice) {
	t.Helper()

	_, _, device := mocks.MockRig1_2(ctrl, common.Vulkan1_2, []string{}, []string{})
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewResources(logger, device, addresses, allocator, CreateOptions{}), device
}

func expectBufferCreation(ctrl *gomock.Controller, device *mocks.MockDevice, allocator *fakeAllocator, size int, usage core1_0.BufferUsageFlags) *mocks.MockBuffer {
	buffer := mocks.NewMockBuffer(ctrl)
	device.EXPECT().CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage | khr_buffer_device_address.BufferUsageShaderDeviceAddress,
		SharingMode: core1_0.SharingModeExclusive,
	}).Return(buffer, core1_0.VKSuccess, nil)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           size,
		Alignment:      16,
		MemoryTypeBits: 0xffffffff,
	})
	buffer.EXPECT().BindBufferMemory(allocator.memory, allocator.offset).Return(core1_0.VKSuccess, nil)
	return buffer
}

func TestCreateBufferForcesDeviceAddressUsage(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl), offset: 256}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{address: 0xdeadbeef0})

	handle := expectBufferCreation(ctrl, device, allocator, 128, core1_0.BufferUsageStorageBuffer)

	buffer, res, err := resources.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        128,
		Usage:       core1_0.BufferUsageStorageBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}, MemoryLocationGpuOnly)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)

	require.Equal(t, handle, buffer.Handle())
	require.Equal(t, 128, buffer.Size())
	require.Equal(t, uint64(0xdeadbeef0), buffer.DeviceAddress())
	require.False(t, buffer.HasBeenWrittenTo())

	require.Equal(t, "buffer", allocator.lastInfo.Name)
	require.Equal(t, MemoryLocationGpuOnly, allocator.lastInfo.Location)
	require.True(t, allocator.lastInfo.Linear)
}

func TestCreateBufferDeviceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl)}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{})

	device.EXPECT().CreateBuffer(nil, gomock.Any()).Return(nil, core1_0.VKErrorOutOfDeviceMemory, errors.New("out of device memory"))

	_, res, err := resources.CreateBuffer(core1_0.BufferCreateInfo{Size: 128}, MemoryLocationGpuOnly)
	require.ErrorIs(t, err, ErrDeviceObjectCreationFailed)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)
}

func TestCreateBufferAllocationFailureDestroysHandle(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl), failAllocate: true}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{})

	buffer := mocks.NewMockBuffer(ctrl)
	device.EXPECT().CreateBuffer(nil, gomock.Any()).Return(buffer, core1_0.VKSuccess, nil)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{Size: 128, Alignment: 16, MemoryTypeBits: 0xffffffff})
	buffer.EXPECT().Destroy(nil)

	_, _, err := resources.CreateBuffer(core1_0.BufferCreateInfo{Size: 128}, MemoryLocationGpuOnly)
	require.ErrorIs(t, err, ErrAllocationFailed)
}

func TestCreateBufferBindFailureFreesAllocation(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl)}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{})

	buffer := mocks.NewMockBuffer(ctrl)
	device.EXPECT().CreateBuffer(nil, gomock.Any()).Return(buffer, core1_0.VKSuccess, nil)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{Size: 128, Alignment: 16, MemoryTypeBits: 0xffffffff})
	buffer.EXPECT().BindBufferMemory(allocator.memory, 0).Return(core1_0.VKErrorUnknown, errors.New("bind failed"))
	buffer.EXPECT().Destroy(nil)

	_, _, err := resources.CreateBuffer(core1_0.BufferCreateInfo{Size: 128}, MemoryLocationGpuOnly)
	require.ErrorIs(t, err, ErrAllocationFailed)
	require.Equal(t, 1, allocator.frees)
}

func TestCreateBufferAddressQueryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl)}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{err: errors.New("no address")})

	buffer := expectBufferCreation(ctrl, device, allocator, 128, core1_0.BufferUsageStorageBuffer)
	buffer.EXPECT().Destroy(nil)

	_, _, err := resources.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        128,
		Usage:       core1_0.BufferUsageStorageBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}, MemoryLocationGpuOnly)
	require.ErrorIs(t, err, ErrDeviceObjectCreationFailed)
	require.Equal(t, 1, allocator.frees)
}

func TestWriteBytes(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl), hostVisible: true}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{})

	expectBufferCreation(ctrl, device, allocator, 64, core1_0.BufferUsageUniformBuffer)

	buffer, _, err := resources.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        64,
		Usage:       core1_0.BufferUsageUniformBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}, MemoryLocationCpuToGpu)
	require.NoError(t, err)

	err = buffer.WriteBytes([]byte{1, 2, 3, 4}, 8)
	require.NoError(t, err)
	require.True(t, buffer.HasBeenWrittenTo())

	backing := buffer.allocation.(*fakeAllocation).backing
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4}, backing[:12])

	// A second write at the very end of the buffer still fits.
	err = buffer.WriteBytes([]byte{9}, 63)
	require.NoError(t, err)
	require.Equal(t, byte(9), backing[63])
}

func TestWriteBytesOutOfBounds(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl), hostVisible: true}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{})

	expectBufferCreation(ctrl, device, allocator, 16, core1_0.BufferUsageUniformBuffer)

	buffer, _, err := resources.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        16,
		Usage:       core1_0.BufferUsageUniformBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}, MemoryLocationCpuToGpu)
	require.NoError(t, err)

	err = buffer.WriteBytes([]byte{1, 2, 3, 4}, 14)
	require.ErrorIs(t, err, ErrOffsetOutOfBounds)

	err = buffer.WriteBytes([]byte{1}, -1)
	require.ErrorIs(t, err, ErrOffsetOutOfBounds)

	// Failed writes leave the buffer untouched.
	require.False(t, buffer.HasBeenWrittenTo())
	backing := buffer.allocation.(*fakeAllocation).backing
	require.Equal(t, make([]byte, 16), backing)
}

func TestWriteBytesWithoutHostAccess(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl)}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{})

	expectBufferCreation(ctrl, device, allocator, 16, core1_0.BufferUsageStorageBuffer)

	buffer, _, err := resources.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        16,
		Usage:       core1_0.BufferUsageStorageBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}, MemoryLocationGpuOnly)
	require.NoError(t, err)

	err = buffer.WriteBytes([]byte{1}, 0)
	require.ErrorIs(t, err, ErrBufferNotMapped)
}

func TestBufferDestroy(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl)}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{})

	handle := expectBufferCreation(ctrl, device, allocator, 32, core1_0.BufferUsageStorageBuffer)
	handle.EXPECT().Destroy(nil)

	buffer, _, err := resources.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        32,
		Usage:       core1_0.BufferUsageStorageBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}, MemoryLocationGpuOnly)
	require.NoError(t, err)

	require.NoError(t, buffer.Destroy())
	require.Equal(t, 1, allocator.frees)

	err = buffer.Destroy()
	require.ErrorIs(t, err, ErrDoubleFree)
	require.Equal(t, 1, allocator.frees)

	err = buffer.WriteBytes([]byte{1}, 0)
	require.ErrorIs(t, err, ErrBufferNotMapped)
}

func TestBufferDestroySurfacesFreeError(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := &fakeAllocator{memory: mocks.EasyMockDeviceMemory(ctrl), failFree: errors.New("corrupt block")}
	resources, device := testResources(t, ctrl, allocator, &fakeAddresses{})

	handle := expectBufferCreation(ctrl, device, allocator, 32, core1_0.BufferUsageStorageBuffer)
	handle.EXPECT().Destroy(nil)

	buffer, _, err := resources.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        32,
		Usage:       core1_0.BufferUsageStorageBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}, MemoryLocationGpuOnly)
	require.NoError(t, err)

	err = buffer.Destroy()
	require.ErrorContains(t, err, "corrupt block")

	// The handle is gone even when the free failed, so a repeat call is still
	// a double free.
	require.ErrorIs(t, buffer.Destroy(), ErrDoubleFree)
}
