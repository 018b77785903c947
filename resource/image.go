package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Image is a device image plus the Allocation backing it and, once CreateView
// has been called, a view over the whole image.
type Image struct {
	parent *Resources

	image      core1_0.Image
	allocation Allocation
	view       core1_0.ImageView
	format     core1_0.Format
}

// CreateImage creates a device image and backs it with memory from the
// allocator. Images are allocated as non-linear (tiled) memory.
func (r *Resources) CreateImage(o core1_0.ImageCreateInfo, location MemoryLocation) (*Image, common.VkResult, error) {
	r.logger.Debug("Resources::CreateImage")

	image, res, err := r.device.CreateImage(r.allocationCallbacks, o)
	if err != nil {
		return nil, res, errors.Mark(errors.Wrap(err, "creating image"), ErrDeviceObjectCreationFailed)
	}

	allocation, res, err := r.allocator.Allocate(AllocationCreateInfo{
		Name:         "image",
		Requirements: *image.MemoryRequirements(),
		Location:     location,
		Linear:       false,
	})
	if err != nil {
		image.Destroy(r.allocationCallbacks)
		return nil, res, errors.Mark(errors.Wrap(err, "allocating image memory"), ErrAllocationFailed)
	}

	res, err = image.BindImageMemory(allocation.Memory(), allocation.Offset())
	if err != nil {
		_ = r.allocator.Free(allocation)
		image.Destroy(r.allocationCallbacks)
		return nil, res, errors.Mark(errors.Wrap(err, "binding image memory"), ErrAllocationFailed)
	}

	return &Image{
		parent:     r,
		image:      image,
		allocation: allocation,
		format:     o.Format,
	}, res, nil
}

// Handle is the underlying device image.
func (i *Image) Handle() core1_0.Image { return i.image }

// Format is the pixel format the image was created with.
func (i *Image) Format() core1_0.Format { return i.format }

// View is the view created by CreateView, or nil.
func (i *Image) View() core1_0.ImageView { return i.view }

// CreateView creates a 2D, single-mip, single-layer, color-aspect view with
// identity channel mapping, in the image's own format. Cube maps, array
// layers, and depth/stencil aspects are not supported; this is a known
// limitation of the view model, not an error case. Repeat calls return the
// view created first.
func (i *Image) CreateView() (core1_0.ImageView, common.VkResult, error) {
	if i.allocation == nil {
		return nil, core1_0.VKErrorUnknown, errors.Wrap(ErrDoubleFree, "image")
	}
	if i.view != nil {
		return i.view, core1_0.VKSuccess, nil
	}

	view, res, err := i.parent.device.CreateImageView(i.parent.allocationCallbacks, core1_0.ImageViewCreateInfo{
		Image:    i.image,
		ViewType: core1_0.ImageViewType2D,
		Format:   i.format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask: core1_0.ImageAspectColor,
			LevelCount: 1,
			LayerCount: 1,
		},
	})
	if err != nil {
		return nil, res, errors.Mark(errors.Wrap(err, "creating image view"), ErrDeviceObjectCreationFailed)
	}

	i.view = view
	return view, res, nil
}

// Destroy destroys the view if one exists, returns the image's memory to the
// allocator, and destroys the image handle, in that order. A second call
// fails with ErrDoubleFree.
func (i *Image) Destroy() error {
	if i.allocation == nil {
		return errors.Wrap(ErrDoubleFree, "image")
	}

	if i.view != nil {
		i.view.Destroy(i.parent.allocationCallbacks)
		i.view = nil
	}

	freeErr := i.parent.allocator.Free(i.allocation)
	i.allocation = nil
	i.image.Destroy(i.parent.allocationCallbacks)

	if freeErr != nil {
		return errors.Wrap(freeErr, "freeing image memory")
	}
	return nil
}
