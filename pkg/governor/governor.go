package governor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MaxStorageBytes is the largest storage quota a manifest may request.
const MaxStorageBytes int64 = 100 * 1024 * 1024

var (
	// ErrAlreadyAllocated is returned when a plugin id already holds an allocation.
	ErrAlreadyAllocated = errors.New("resources already allocated")

	// ErrInvalidLimits is returned when limits are out of range.
	ErrInvalidLimits = errors.New("invalid resource limits")
)

// Limits is the resource policy recorded for one plugin. Enforcement happens
// in the sandbox that executes the plugin.
type Limits struct {
	MaxMemoryMB        int   `json:"max_memory_mb" mapstructure:"max_memory_mb"`
	MaxCPUPercent      int   `json:"max_cpu_percent" mapstructure:"max_cpu_percent"`
	MaxExecutionTimeMs int   `json:"max_execution_time_ms" mapstructure:"max_execution_time_ms"`
	MaxStorageBytes    int64 `json:"max_storage_bytes" mapstructure:"max_storage_bytes"`
}

// DefaultLimits returns the limits applied when configuration sets none.
func DefaultLimits() Limits {
	return Limits{
		MaxMemoryMB:        128,
		MaxCPUPercent:      50,
		MaxExecutionTimeMs: 5000,
		MaxStorageBytes:    10 * 1024 * 1024,
	}
}

// ExecutionTimeout returns MaxExecutionTimeMs as a duration. Zero means no limit.
func (l Limits) ExecutionTimeout() time.Duration {
	return time.Duration(l.MaxExecutionTimeMs) * time.Millisecond
}

// Validate checks that every limit is in range.
func (l Limits) Validate() error {
	switch {
	case l.MaxMemoryMB < 0:
		return fmt.Errorf("%w: maxMemoryMB must be >= 0, got %d", ErrInvalidLimits, l.MaxMemoryMB)
	case l.MaxCPUPercent < 0 || l.MaxCPUPercent > 100:
		return fmt.Errorf("%w: maxCpuPercent must be 0-100, got %d", ErrInvalidLimits, l.MaxCPUPercent)
	case l.MaxExecutionTimeMs < 0:
		return fmt.Errorf("%w: maxExecutionTimeMs must be >= 0, got %d", ErrInvalidLimits, l.MaxExecutionTimeMs)
	case l.MaxStorageBytes < 0 || l.MaxStorageBytes > MaxStorageBytes:
		return fmt.Errorf("%w: maxStorageBytes must be 0-%d, got %d", ErrInvalidLimits, MaxStorageBytes, l.MaxStorageBytes)
	}
	return nil
}

// WithStorage returns a copy of l whose storage quota is maxSize when the
// manifest declared one.
func (l Limits) WithStorage(maxSize *int64) Limits {
	if maxSize != nil {
		l.MaxStorageBytes = *maxSize
	}
	return l
}

// Allocation is the quota held by one plugin.
type Allocation struct {
	PluginID    string
	Limits      Limits
	AllocatedAt time.Time
}

// Recorder receives the number of live allocations.
type Recorder interface {
	AllocationsChanged(count int)
}

// Governor is the ledger of per-plugin resource quotas.
type Governor struct {
	logger   zerolog.Logger
	recorder Recorder

	mu          sync.RWMutex
	allocations map[string]Allocation
}

// New creates a governor. recorder may be nil.
func New(logger zerolog.Logger, recorder Recorder) *Governor {
	return &Governor{
		logger:      logger.With().Str("component", "resource-governor").Logger(),
		recorder:    recorder,
		allocations: make(map[string]Allocation),
	}
}

// Allocate records limits for pluginID. An existing allocation for the same
// id is rejected; callers release before re-allocating.
func (g *Governor) Allocate(pluginID string, limits Limits) error {
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("allocate %s: %w", pluginID, err)
	}

	g.mu.Lock()
	if _, exists := g.allocations[pluginID]; exists {
		g.mu.Unlock()
		return fmt.Errorf("allocate %s: %w", pluginID, ErrAlreadyAllocated)
	}
	g.allocations[pluginID] = Allocation{
		PluginID:    pluginID,
		Limits:      limits,
		AllocatedAt: time.Now(),
	}
	count := len(g.allocations)
	g.mu.Unlock()

	g.report(count)
	g.logger.Debug().
		Str("plugin", pluginID).
		Int("max_memory_mb", limits.MaxMemoryMB).
		Int("max_cpu_percent", limits.MaxCPUPercent).
		Int("max_execution_time_ms", limits.MaxExecutionTimeMs).
		Int64("max_storage_bytes", limits.MaxStorageBytes).
		Msg("Resources allocated")
	return nil
}

// Release drops the allocation for pluginID. Unknown ids are ignored.
func (g *Governor) Release(pluginID string) {
	g.mu.Lock()
	_, exists := g.allocations[pluginID]
	delete(g.allocations, pluginID)
	count := len(g.allocations)
	g.mu.Unlock()

	if !exists {
		return
	}
	g.report(count)
	g.logger.Debug().Str("plugin", pluginID).Msg("Resources released")
}

// Get returns the allocation for pluginID.
func (g *Governor) Get(pluginID string) (Allocation, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	alloc, ok := g.allocations[pluginID]
	return alloc, ok
}

// Allocations returns every live allocation ordered by plugin id.
func (g *Governor) Allocations() []Allocation {
	g.mu.RLock()
	allocs := make([]Allocation, 0, len(g.allocations))
	for _, alloc := range g.allocations {
		allocs = append(allocs, alloc)
	}
	g.mu.RUnlock()

	sort.Slice(allocs, func(i, j int) bool { return allocs[i].PluginID < allocs[j].PluginID })
	return allocs
}

// Count returns the number of live allocations.
func (g *Governor) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.allocations)
}

func (g *Governor) report(count int) {
	if g.recorder != nil {
		g.recorder.AllocationsChanged(count)
	}
}
