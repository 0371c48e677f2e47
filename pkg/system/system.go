// Copyright 2020-2022 The Airwave Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package system

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"airwave/pkg/jsonrpc"
	"airwave/pkg/log"
)

// Status stores a system status snapshot.
type Status struct {
	CPUUsage           int    `json:"cpuUsage"`
	RAMUsage           int    `json:"ramUsage"`
	DiskUsage          int    `json:"diskUsage"`
	DiskUsageFormatted string `json:"diskUsageFormatted"`
	Uptime             uint64 `json:"uptime"`
}

type (
	cpuFunc    func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc    func() (*mem.VirtualMemoryStat, error)
	diskFunc   func(string) (*disk.UsageStat, error)
	uptimeFunc func() (uint64, error)
)

// System polls resource usage in the background.
type System struct {
	cpu    cpuFunc
	ram    ramFunc
	disk   diskFunc
	uptime uptimeFunc

	status     Status
	storageDir string
	duration   time.Duration

	logger *log.Logger
	mu     sync.Mutex
	o      sync.Once
}

// New returns a system monitor for the given storage directory.
func New(storageDir string, logger *log.Logger) *System {
	return &System{
		cpu:    cpu.PercentWithContext,
		ram:    mem.VirtualMemory,
		disk:   disk.Usage,
		uptime: host.Uptime,

		storageDir: storageDir,
		duration:   10 * time.Second,

		logger: logger,
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("get cpu usage: %w", err)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("get ram usage: %w", err)
	}
	diskUsage, err := s.disk(s.storageDir)
	if err != nil {
		return fmt.Errorf("get disk usage: %w", err)
	}
	uptime, err := s.uptime()
	if err != nil {
		return fmt.Errorf("get uptime: %w", err)
	}

	s.mu.Lock()
	s.status = Status{
		CPUUsage:           int(cpuUsage[0]),
		RAMUsage:           int(ramUsage.UsedPercent),
		DiskUsage:          int(diskUsage.UsedPercent),
		DiskUsageFormatted: formatDisk(diskUsage.Used),
		Uptime:             uptime,
	}
	s.mu.Unlock()

	return nil
}

// StatusLoop polls the status until the context is canceled. The cpu
// probe blocks for the poll duration so the loop needs no timer.
func (s *System) StatusLoop(ctx context.Context) {
	s.o.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil {
				s.logger.Error().Src("system").
					Msgf("could not update system status: %v", err)
			}
		}
	})
}

// Status returns the last snapshot.
func (s *System) Status() Status {
	defer s.mu.Unlock()
	s.mu.Lock()
	return s.status
}

// RegisterCommands exposes the status over the control protocol.
func (s *System) RegisterCommands(registry *jsonrpc.Registry) {
	registry.Register("system.status",
		func(json.RawMessage) (interface{}, *jsonrpc.Error) {
			return s.Status(), nil
		})
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatDisk(used uint64) string {
	switch {
	case float64(used) < megabyte:
		return fmt.Sprintf("%.0fKB", float64(used)/kilobyte)
	case float64(used) < gigabyte:
		return fmt.Sprintf("%.0fMB", float64(used)/megabyte)
	case float64(used) < terabyte:
		return fmt.Sprintf("%.1fGB", float64(used)/gigabyte)
	default:
		return fmt.Sprintf("%.2fTB", float64(used)/terabyte)
	}
}
