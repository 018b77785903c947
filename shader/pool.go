package shader

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// DescriptorPool owns a single-use pool and the sets allocated from it. The
// pool is sized exactly to its layouts: no growth, no reuse. Destroying the
// pool releases every set with it.
type DescriptorPool struct {
	logger *slog.Logger
	pool   core1_0.DescriptorPool
	sets   []core1_0.DescriptorSet
}

// AllocateDescriptorSets sizes a descriptor pool to the aggregate binding
// counts of typeMaps, creates it, and allocates one set per layout. The
// layouts and typeMaps slices must be index-aligned, as returned by
// CreateDescriptorSetLayouts.
func AllocateDescriptorSets(logger *slog.Logger, device core1_0.Device, layouts []core1_0.DescriptorSetLayout, typeMaps []map[uint32]core1_0.DescriptorType) (*DescriptorPool, common.VkResult, error) {
	logger.Debug("shader.AllocateDescriptorSets")

	counts := make(map[core1_0.DescriptorType]int)
	for _, typeMap := range typeMaps {
		for _, descriptorType := range typeMap {
			counts[descriptorType]++
		}
	}

	// Deterministic pool-size order keeps device call arguments stable run
	// to run.
	descriptorTypes := make([]core1_0.DescriptorType, 0, len(counts))
	for descriptorType := range counts {
		descriptorTypes = append(descriptorTypes, descriptorType)
	}
	sort.Slice(descriptorTypes, func(i, j int) bool { return descriptorTypes[i] < descriptorTypes[j] })

	poolSizes := make([]core1_0.DescriptorPoolSize, 0, len(descriptorTypes))
	for _, descriptorType := range descriptorTypes {
		poolSizes = append(poolSizes, core1_0.DescriptorPoolSize{
			Type:            descriptorType,
			DescriptorCount: counts[descriptorType],
		})
	}

	pool, res, err := device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   len(layouts),
		PoolSizes: poolSizes,
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "creating descriptor pool")
	}

	sets, res, err := device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     layouts,
	})
	if err != nil {
		pool.Destroy(nil)
		return nil, res, errors.Wrap(err, "allocating descriptor sets")
	}

	return &DescriptorPool{
		logger: logger,
		pool:   pool,
		sets:   sets,
	}, res, nil
}

// Sets is the allocated sets, index-aligned with the layouts the pool was
// built from.
func (p *DescriptorPool) Sets() []core1_0.DescriptorSet { return p.sets }

// Handle is the underlying pool.
func (p *DescriptorPool) Handle() core1_0.DescriptorPool { return p.pool }

// Destroy releases the pool and with it every set it allocated. A second
// call is a no-op error.
func (p *DescriptorPool) Destroy() error {
	if p.pool == nil {
		return errors.New("descriptor pool has already been destroyed")
	}

	p.pool.Destroy(nil)
	p.pool = nil
	p.sets = nil
	return nil
}
