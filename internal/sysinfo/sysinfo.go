package sysinfo

import (
	"time"

	"github.com/droidpipe/agent/internal/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status samples host metrics plus the disk holding diskPath. Broadcast
// to presentation layers so they can warn about a filling destination.
func Status(agentID, diskPath string) models.AgentStatus {
	status := models.AgentStatus{
		AgentID:   agentID,
		Timestamp: time.Now().Unix(),
	}
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		status.CPUUsage = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		status.MemoryUsage = memStat.UsedPercent
	}
	if diskStat, err := disk.Usage(diskPath); err == nil {
		status.DiskUsage = diskStat.UsedPercent
		status.DiskFree = diskStat.Free
	}
	if hostInfo, err := host.Info(); err == nil {
		status.Hostname = hostInfo.Hostname
		status.OS = hostInfo.OS
		status.Uptime = hostInfo.Uptime
	}
	return status
}

// FreeBytes reports free space on the filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
