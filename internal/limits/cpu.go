// Package limits implements admission control for the replay core: rate
// limiting new writer/reader connections and a container-aware CPU/memory
// safety valve that rejects connections before the process falls over.
// Grounded on the teacher's internal/shared/limits/resource_guard.go
// (rate.Limiter-based admission gates) and internal/single/platform/cgroup_cpu.go
// (cgroup v1/v2 CPU accounting with gopsutil host fallback).
package limits

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// cgroupCPU reads cumulative CPU usage from cgroup v1 or v2 accounting files
// and turns it into a percentage of the CPUs actually allocated to this
// container, rather than the host's full core count.
type cgroupCPU struct {
	mu               sync.Mutex
	lastUsageUsec    uint64
	lastSampleAt     time.Time
	cgroupPath       string
	version          int // 1 or 2
	numCPUsAllocated float64
}

func newCgroupCPU() (*cgroupCPU, error) {
	path, version, err := detectCgroupPath()
	if err != nil {
		return nil, fmt.Errorf("detect cgroup path: %w", err)
	}

	quota, period, err := readCPUQuota(path, version)
	if err != nil {
		return nil, fmt.Errorf("read cpu quota: %w", err)
	}

	allocated := float64(runtime.NumCPU())
	if quota > 0 && period > 0 {
		allocated = float64(quota) / float64(period)
	}

	usage, err := readCPUUsage(path, version)
	if err != nil {
		return nil, fmt.Errorf("read initial cpu usage: %w", err)
	}

	return &cgroupCPU{
		lastUsageUsec:    usage,
		lastSampleAt:     time.Now(),
		cgroupPath:       path,
		version:          version,
		numCPUsAllocated: allocated,
	}, nil
}

// percent returns CPU usage as a share of the CPUs allocated to this
// container (0-100, can briefly exceed 100 under throttling).
func (c *cgroupCPU) percent() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	elapsedUsec := now.Sub(c.lastSampleAt).Microseconds()
	if elapsedUsec <= 0 {
		return 0, fmt.Errorf("sample interval too small")
	}

	usage, err := readCPUUsage(c.cgroupPath, c.version)
	if err != nil {
		return 0, err
	}

	delta := usage - c.lastUsageUsec
	c.lastUsageUsec = usage
	c.lastSampleAt = now

	raw := (float64(delta) / float64(elapsedUsec)) * 100.0
	return raw / c.numCPUsAllocated, nil
}

func detectCgroupPath() (path string, version int, err error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" && parts[1] == "" {
			return "/sys/fs/cgroup" + parts[2], 2, nil
		}
		if strings.Contains(parts[1], "cpu") {
			return "/sys/fs/cgroup/cpu" + parts[2], 1, nil
		}
	}
	return "", 0, fmt.Errorf("no usable cgroup entry found")
}

func readCPUQuota(cgroupPath string, version int) (quota, period int64, err error) {
	if version == 2 {
		data, err := os.ReadFile(cgroupPath + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("unexpected cpu.max format: %q", data)
		}
		if fields[0] == "max" {
			return -1, 0, nil
		}
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		period, err = strconv.ParseInt(fields[1], 10, 64)
		return quota, period, err
	}

	quotaData, err := os.ReadFile(cgroupPath + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	periodData, err := os.ReadFile(cgroupPath + "/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(strings.TrimSpace(string(quotaData)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(strings.TrimSpace(string(periodData)), 10, 64)
	return quota, period, err
}

func readCPUUsage(cgroupPath string, version int) (uint64, error) {
	if version == 2 {
		f, err := os.Open(cgroupPath + "/cpu.stat")
		if err != nil {
			return 0, err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if fields := strings.Fields(scanner.Text()); len(fields) == 2 && fields[0] == "usage_usec" {
				return strconv.ParseUint(fields[1], 10, 64)
			}
		}
		return 0, fmt.Errorf("usage_usec not found in cpu.stat")
	}

	data, err := os.ReadFile(cgroupPath + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nsec, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return nsec / 1000, nil
}

// CPUMonitor reports CPU usage as a percentage of what the process is
// actually allocated, preferring cgroup accounting and falling back to
// whole-host gopsutil measurement when no cgroup is detected (e.g. local
// development outside a container).
type CPUMonitor struct {
	mode   string // "cgroup" or "host"
	cg     *cgroupCPU
	logger zerolog.Logger
}

// NewCPUMonitor probes for a usable cgroup and falls back to host-wide
// measurement if none is found.
func NewCPUMonitor(logger zerolog.Logger) *CPUMonitor {
	cg, err := newCgroupCPU()
	if err != nil {
		logger.Warn().Err(err).Msg("no cgroup CPU accounting available, falling back to host CPU")
		return &CPUMonitor{mode: "host", logger: logger}
	}

	logger.Info().
		Int("cgroup_version", cg.version).
		Float64("cpus_allocated", cg.numCPUsAllocated).
		Msg("using cgroup-aware CPU measurement")

	return &CPUMonitor{mode: "cgroup", cg: cg, logger: logger}
}

// Percent returns current CPU usage (0-100+) relative to the process's
// allocation.
func (m *CPUMonitor) Percent() (float64, error) {
	if m.mode == "cgroup" {
		return m.cg.percent()
	}

	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("no host CPU sample available")
	}
	return percents[0], nil
}

// Mode reports which measurement strategy is active ("cgroup" or "host").
func (m *CPUMonitor) Mode() string { return m.mode }
