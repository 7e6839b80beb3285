// Package platform detects the hardware/container CPU allocation available
// to the process and derives the worker budget the orchestrator sizes its
// pool from, reading cgroup CPU quota files the same way
// container memory/CPU limits are detected elsewhere in this codebase.
package platform

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

// DefaultMaxWorkers caps the worker budget even on very large hosts:
// W = min(hardware_cores, 8).
const DefaultMaxWorkers = 8

// WorkerBudget returns the number of CPU-bound pipeline workers to run:
// the container's cgroup CPU quota if one is set, otherwise the host's
// logical core count, capped at max (0 or negative max means
// DefaultMaxWorkers).
func WorkerBudget(max int) int {
	if max <= 0 {
		max = DefaultMaxWorkers
	}
	cores := detectCgroupCPUQuota()
	if cores <= 0 {
		if n, err := cpu.Counts(true); err == nil && n > 0 {
			cores = n
		} else {
			cores = 1
		}
	}
	if cores > max {
		cores = max
	}
	if cores < 1 {
		cores = 1
	}
	return cores
}

// detectCgroupCPUQuota returns the number of CPUs allocated to this
// container (quota/period, rounded up), or 0 if no limit is set or the
// cgroup files aren't present (bare metal, VM, non-Linux).
func detectCgroupCPUQuota() int {
	path, version, err := detectCgroupPath()
	if err != nil {
		return 0
	}
	quota, period, err := readCPUQuota(path, version)
	if err != nil || quota <= 0 || period <= 0 {
		return 0
	}
	n := quota / period
	if quota%period != 0 {
		n++
	}
	return int(n)
}

func detectCgroupPath() (path string, version int, err error) {
	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
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
	return "", 0, os.ErrNotExist
}

func readCPUQuota(path string, version int) (quota, period int64, err error) {
	if version == 2 {
		data, err := os.ReadFile(path + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 || fields[0] == "max" {
			return -1, 0, nil
		}
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		period, err = strconv.ParseInt(fields[1], 10, 64)
		return quota, period, err
	}

	quotaData, err := os.ReadFile(path + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	periodData, err := os.ReadFile(path + "/cpu.cfs_period_us")
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
