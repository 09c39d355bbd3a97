package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"surveillance_service/internal/metrics"
)

type Parameter string

const (
	DistanceFromExtent       Parameter = "distance_from_extent"
	EnvironmentalSuitability Parameter = "environmental_suitability"
)

// Key identifies one cached validation parameter of a location for a disease group.
type Key struct {
	Parameter      Parameter
	DiseaseGroupID int
	LocationID     int
}

func (k Key) String() string {
	return fmt.Sprintf("validation:%s:%d:%d", k.Parameter, k.DiseaseGroupID, k.LocationID)
}

// ComputeFunc produces a parameter value; nil means "unavailable" and is never stored.
type ComputeFunc func(ctx context.Context) (*float64, error)

// ValidationParameterCache is shared by every writer of validation parameters.
// Entries are not invalidated when a disease extent is regenerated; Invalidate exists for operators.
type ValidationParameterCache interface {
	Get(ctx context.Context, key Key) (*float64, error)
	Put(ctx context.Context, key Key, value float64) error
	GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (*float64, error)
	Invalidate(ctx context.Context, diseaseGroupID int) error
}

type MemoryCache struct {
	mu     sync.RWMutex
	values map[Key]float64
	group  singleflight.Group
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{values: map[Key]float64{}}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (*float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[key]; ok {
		return &v, nil
	}
	return nil, nil
}

func (c *MemoryCache) Put(_ context.Context, key Key, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *MemoryCache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (*float64, error) {
	if v, _ := c.Get(ctx, key); v != nil {
		metrics.CacheLookups.WithLabelValues(string(key.Parameter), "hit").Inc()
		return v, nil
	}
	metrics.CacheLookups.WithLabelValues(string(key.Parameter), "miss").Inc()

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		// A concurrent caller may have stored the value between our read and this call.
		if v, _ := c.Get(ctx, key); v != nil {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil || v == nil {
			return v, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.values[key]; ok {
			return &existing, nil
		}
		c.values[key] = *v
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return copyValue(v.(*float64)), nil
}

func (c *MemoryCache) Invalidate(_ context.Context, diseaseGroupID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.values {
		if k.DiseaseGroupID == diseaseGroupID {
			delete(c.values, k)
		}
	}
	return nil
}

func copyValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
