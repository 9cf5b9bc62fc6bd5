package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"voiceover-mixer/pkg/models"
)

// Sampler reads raw host load. The gopsutil-backed implementation is used
// unless a test swaps it out.
type Sampler interface {
	CPUPercent(ctx context.Context) (float64, error)
	RAMPercent(ctx context.Context) (float64, error)
}

// Thresholds above which the host is considered busy.
type Thresholds struct {
	CPUPercent float64
	RAMPercent float64
}

// SystemMonitor reports host load and decides whether new mixes are admitted.
type SystemMonitor struct {
	sampler    Sampler
	thresholds Thresholds
	maxAge     time.Duration

	mu     sync.Mutex
	last   models.HostStats
	lastAt time.Time
}

// NewSystemMonitor creates a monitor. Samples younger than maxAge are reused,
// so admission checks on every request stay cheap.
func NewSystemMonitor(thresholds Thresholds, maxAge time.Duration) *SystemMonitor {
	return NewWithSampler(gopsutilSampler{}, thresholds, maxAge)
}

// NewWithSampler creates a monitor reading from s.
func NewWithSampler(s Sampler, thresholds Thresholds, maxAge time.Duration) *SystemMonitor {
	if thresholds.CPUPercent <= 0 {
		thresholds.CPUPercent = 80
	}
	if thresholds.RAMPercent <= 0 {
		thresholds.RAMPercent = 90
	}
	return &SystemMonitor{sampler: s, thresholds: thresholds, maxAge: maxAge}
}

// GetStats gathers real-time CPU and RAM usage.
func (m *SystemMonitor) GetStats(ctx context.Context) (models.HostStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastAt.IsZero() && time.Since(m.lastAt) < m.maxAge {
		return m.last, nil
	}

	stats := models.HostStats{}

	// 1. Get Memory Stats
	ram, err := m.sampler.RAMPercent(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get mem stats: %w", err)
	}
	stats.RAMPercent = ram

	// 2. Get CPU Percent
	cpuPct, err := m.sampler.CPUPercent(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	stats.CPUPercent = cpuPct

	// 3. Busy Logic
	// Above either threshold the host turns away new mixes.
	stats.IsBusy = stats.CPUPercent > m.thresholds.CPUPercent || stats.RAMPercent > m.thresholds.RAMPercent

	m.last, m.lastAt = stats, time.Now()
	return stats, nil
}

type gopsutilSampler struct{}

func (gopsutilSampler) RAMPercent(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	// UsedPercent returns percentage of memory used (0.0 to 100.0)
	return v.UsedPercent, nil
}

func (gopsutilSampler) CPUPercent(ctx context.Context) (float64, error) {
	// A small interval is more accurate than the instantaneous gauge.
	pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}
