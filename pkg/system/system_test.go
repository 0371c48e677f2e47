package system

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"

	"airwave/pkg/jsonrpc"
	"airwave/pkg/log"
)

func newTestSystem() *System {
	return &System{
		cpu: func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{11}, nil
		},
		ram: func() (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{UsedPercent: 22}, nil
		},
		disk: func(string) (*disk.UsageStat, error) {
			return &disk.UsageStat{UsedPercent: 33, Used: 2_000_000_000}, nil
		},
		uptime: func() (uint64, error) {
			return 44, nil
		},
		logger: log.NewMockLogger(),
	}
}

func TestStatus(t *testing.T) {
	s := newTestSystem()
	require.NoError(t, s.update(context.Background()))

	expected := Status{
		CPUUsage:           11,
		RAMUsage:           22,
		DiskUsage:          33,
		DiskUsageFormatted: "2.0GB",
		Uptime:             44,
	}
	require.Equal(t, expected, s.Status())
}

func TestStatusLoop(t *testing.T) {
	s := newTestSystem()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StatusLoop(ctx)
		close(done)
	}()

	// Wait for at least one update.
	for s.Status().CPUUsage == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}

func TestRegisterCommands(t *testing.T) {
	s := newTestSystem()
	require.NoError(t, s.update(context.Background()))

	registry := jsonrpc.NewRegistry()
	s.RegisterCommands(registry)

	data := registry.Process([]byte(
		`{"jsonrpc": "2.0", "method": "system.status", "id": 1}`))

	var res struct {
		Result Status `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &res))
	require.Equal(t, 11, res.Result.CPUUsage)
	require.Equal(t, uint64(44), res.Result.Uptime)
}

func TestFormatDisk(t *testing.T) {
	cases := []struct {
		used     uint64
		expected string
	}{
		{500_000, "500KB"},
		{500_000_000, "500MB"},
		{500_000_000_000, "500.0GB"},
		{5_000_000_000_000, "5.00TB"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, formatDisk(tc.used))
	}
}
