// Package sysinfo provides lightweight host resource probes used by the
// admission guards and the health endpoint. Linux only; values come from
// /proc and statfs rather than a third-party dependency.
package sysinfo

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// MemoryPercent returns the fraction of physical memory in use, 0-100.
func MemoryPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("failed to read meminfo: %w", err)
	}
	defer f.Close()

	var totalKB, availKB int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = value
		case "MemAvailable:":
			availKB = value
		}
		if totalKB > 0 && availKB > 0 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan meminfo: %w", err)
	}
	if totalKB <= 0 {
		return 0, fmt.Errorf("meminfo missing MemTotal")
	}
	used := totalKB - availKB
	return float64(used) / float64(totalKB) * 100, nil
}

// DiskFreeBytes returns the free bytes on the filesystem containing path.
func DiskFreeBytes(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
