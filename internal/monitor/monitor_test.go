package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	cpu, ram float64
	err      error
	calls    int
}

func (f *fakeSampler) CPUPercent(context.Context) (float64, error) {
	f.calls++
	return f.cpu, f.err
}

func (f *fakeSampler) RAMPercent(context.Context) (float64, error) {
	return f.ram, f.err
}

func TestGetStatsBusyThresholds(t *testing.T) {
	tests := []struct {
		name     string
		cpu, ram float64
		busy     bool
	}{
		{"idle", 10, 40, false},
		{"cpu saturated", 95, 40, true},
		{"ram saturated", 10, 97, true},
		{"at threshold", 80, 90, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewWithSampler(&fakeSampler{cpu: tt.cpu, ram: tt.ram}, Thresholds{}, 0)
			stats, err := m.GetStats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.busy, stats.IsBusy)
		})
	}
}

func TestGetStatsCachesSample(t *testing.T) {
	s := &fakeSampler{cpu: 5, ram: 5}
	m := NewWithSampler(s, Thresholds{CPUPercent: 50, RAMPercent: 50}, time.Minute)

	_, err := m.GetStats(context.Background())
	require.NoError(t, err)
	s.cpu = 99
	stats, err := m.GetStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, s.calls)
	assert.InDelta(t, 5, stats.CPUPercent, 1e-9)
}

func TestGetStatsSamplerError(t *testing.T) {
	m := NewWithSampler(&fakeSampler{err: errors.New("no /proc")}, Thresholds{}, 0)
	stats, err := m.GetStats(context.Background())
	assert.ErrorContains(t, err, "no /proc")
	assert.False(t, stats.IsBusy)
}
