// Package monitor periodically samples host resource usage and scan
// progress and prints it to the console, adapted from the teacher's
// gopsutil-based system metrics collector (originally
// internal/pkg/monitor/metrics.go) and its pterm-based console
// reporter (internal/core/reporter/console.go).
package monitor

import (
	"fmt"
	"runtime"
	"time"

	"github.com/pterm/pterm"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	mem "github.com/shirou/gopsutil/v3/mem"
	netstat "github.com/shirou/gopsutil/v3/net"

	"zscan/internal/pkg/logger"
)

// HostInfo is a one-time snapshot of the machine the scanner runs on.
type HostInfo struct {
	Hostname        string
	OS              string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	Arch            string
	CPUCores        int
	MemoryTotal     uint64
	DiskTotal       uint64
}

// SystemMetrics is a point-in-time resource usage sample.
type SystemMetrics struct {
	CPUUsage         float64
	MemoryUsage      float64
	DiskUsage        float64
	NetworkBytesSent int64
	NetworkBytesRecv int64
}

// GetHostInfo collects static host facts, falling back to Go runtime
// values for anything gopsutil can't determine on this platform.
func GetHostInfo() (*HostInfo, error) {
	info := &HostInfo{OS: runtime.GOOS, Arch: runtime.GOARCH, CPUCores: runtime.NumCPU()}

	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.Platform = hi.Platform
		info.PlatformVersion = hi.PlatformVersion
		info.KernelVersion = hi.KernelVersion
	} else {
		logger.LogSystemEvent("monitor", "host_info", err.Error(), logger.WarnLevel, nil)
	}

	if cis, err := cpu.Info(); err == nil {
		cores := 0
		for _, ci := range cis {
			cores += int(ci.Cores)
		}
		if cores > 0 {
			info.CPUCores = cores
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
	}

	if du, err := diskUsage(); err == nil {
		info.DiskTotal = du.Total
	}

	return info, nil
}

// GetSystemMetrics samples current resource usage. Each collector's
// failure is logged and skipped rather than aborting the whole
// sample -- a missing disk mount shouldn't blind the operator to CPU
// and memory pressure.
func GetSystemMetrics() (*SystemMetrics, error) {
	m := &SystemMetrics{}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		m.CPUUsage = pct[0]
	} else if err != nil {
		logger.LogSystemEvent("monitor", "cpu_percent", err.Error(), logger.WarnLevel, nil)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsage = vm.UsedPercent
	} else {
		logger.LogSystemEvent("monitor", "virtual_memory", err.Error(), logger.WarnLevel, nil)
	}

	if du, err := diskUsage(); err == nil {
		m.DiskUsage = du.UsedPercent
	} else {
		logger.LogSystemEvent("monitor", "disk_usage", err.Error(), logger.WarnLevel, nil)
	}

	if counters, err := netstat.IOCounters(false); err == nil && len(counters) > 0 {
		m.NetworkBytesSent = int64(counters[0].BytesSent)
		m.NetworkBytesRecv = int64(counters[0].BytesRecv)
	} else if err != nil {
		logger.LogSystemEvent("monitor", "net_io_counters", err.Error(), logger.WarnLevel, nil)
	}

	return m, nil
}

func diskUsage() (*disk.UsageStat, error) {
	path := "/"
	if runtime.GOOS == "windows" {
		path = "C:"
	}
	return disk.Usage(path)
}

// ScanProgress is what the orchestrator feeds the console printer
// each tick.
type ScanProgress struct {
	TargetsScanned uint64
	PacketsSent    uint64
	PacketsFailed  uint64
	ResponsesSeen  uint64
	Rate           float64
	Elapsed        time.Duration
}

// PrintProgress writes one pterm status line combining scan progress
// and host load.
func PrintProgress(p ScanProgress, m *SystemMetrics) {
	pterm.Info.Printf(
		"scanned=%d sent=%d failed=%d responses=%d rate=%.0f/s elapsed=%s cpu=%.1f%% mem=%.1f%%\n",
		p.TargetsScanned, p.PacketsSent, p.PacketsFailed, p.ResponsesSeen,
		p.Rate, p.Elapsed.Round(time.Second), m.CPUUsage, m.MemoryUsage)
}

// PrintSummary writes the final one-line scan summary.
func PrintSummary(p ScanProgress) {
	pterm.Success.Println(fmt.Sprintf(
		"scan complete: %d targets scanned, %d packets sent, %d responses, %s elapsed",
		p.TargetsScanned, p.PacketsSent, p.ResponsesSeen, p.Elapsed.Round(time.Second)))
}
