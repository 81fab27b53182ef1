package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot holds one sample of the resources a fetch run leans on:
// network for the downloads, disk for the store writes, CPU and memory
// for the workers.
type Snapshot struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // This process, can exceed 100% on multi-core
	MemoryUsedGB      float64
	MemoryTotalGB     float64
	MemoryPercent     float64
	NetRecvMBps       float64 // Download rate across all interfaces
	NetSentMBps       float64
	DiskReadMBps      float64
	DiskWriteMBps     float64 // Mostly tile artifacts landing in the store
	Timestamp         time.Time
}

// counters holds the cumulative byte counters a rate sample diffs against.
type counters struct {
	diskRead  uint64
	diskWrite uint64
	netRecv   uint64
	netSent   uint64
	sampledAt time.Time
}

// Collector periodically samples system metrics and logs them
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	base     *counters

	mu   sync.RWMutex
	last *Snapshot
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	// Get handle to current process for CPU tracking
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// Start begins periodic metrics collection. Returns when context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample establishes the counter baselines, rates start at zero
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Last returns the most recent snapshot, nil before the first sample
func (c *Collector) Last() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// collect gathers one snapshot and logs it
func (c *Collector) collect() {
	snap := &Snapshot{
		Timestamp: time.Now(),
	}

	// System-wide CPU percentage
	cpuPercent, err := cpu.Percent(0, false)
	if err == nil && len(cpuPercent) > 0 {
		snap.CPUPercent = cpuPercent[0]
	}

	// Process-specific CPU percentage
	if c.proc != nil {
		if procCPU, err := c.proc.Percent(0); err == nil {
			snap.ProcessCPUPercent = procCPU
		}
	}

	// Memory usage
	vmem, err := mem.VirtualMemory()
	if err == nil {
		snap.MemoryPercent = vmem.UsedPercent
		snap.MemoryUsedGB = float64(vmem.Used) / (1024 * 1024 * 1024)
		snap.MemoryTotalGB = float64(vmem.Total) / (1024 * 1024 * 1024)
	}

	// Transfer rates against the previous sample's counters
	cur := readCounters()
	if c.base != nil && cur != nil {
		elapsed := cur.sampledAt.Sub(c.base.sampledAt).Seconds()
		if elapsed >= 0.1 {
			snap.NetRecvMBps = rateMBps(cur.netRecv, c.base.netRecv, elapsed)
			snap.NetSentMBps = rateMBps(cur.netSent, c.base.netSent, elapsed)
			snap.DiskReadMBps = rateMBps(cur.diskRead, c.base.diskRead, elapsed)
			snap.DiskWriteMBps = rateMBps(cur.diskWrite, c.base.diskWrite, elapsed)
		}
	}
	if cur != nil {
		c.base = cur
	}

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	c.logger.Info("System metrics",
		zap.Float64("sys_cpu", snap.CPUPercent),
		zap.Float64("proc_cpu", snap.ProcessCPUPercent),
		zap.Float64("mem_pct", snap.MemoryPercent),
		zap.String("mem_used", formatGB(snap.MemoryUsedGB)),
		zap.String("net_r", formatMBps(snap.NetRecvMBps)),
		zap.String("net_s", formatMBps(snap.NetSentMBps)),
		zap.String("disk_r", formatMBps(snap.DiskReadMBps)),
		zap.String("disk_w", formatMBps(snap.DiskWriteMBps)),
	)
}

// readCounters sums the cumulative disk and network byte counters across
// devices and interfaces. Nil when neither subsystem could be read.
func readCounters() *counters {
	cur := &counters{sampledAt: time.Now()}
	ok := false

	if diskStats, err := disk.IOCounters(); err == nil {
		for _, d := range diskStats {
			cur.diskRead += d.ReadBytes
			cur.diskWrite += d.WriteBytes
		}
		ok = true
	}
	if netStats, err := gopsnet.IOCounters(false); err == nil && len(netStats) > 0 {
		cur.netRecv = netStats[0].BytesRecv
		cur.netSent = netStats[0].BytesSent
		ok = true
	}

	if !ok {
		return nil
	}
	return cur
}

// rateMBps converts a counter delta over elapsed seconds into MB/s.
// A counter that moved backwards (reset or wrap) yields zero.
func rateMBps(cur, prev uint64, elapsed float64) float64 {
	if cur < prev || elapsed <= 0 {
		return 0
	}
	return float64(cur-prev) / elapsed / (1024 * 1024)
}

// formatGB formats gigabytes with one decimal place
func formatGB(gb float64) string {
	return fmt.Sprintf("%.1f GB", gb)
}

// formatMBps formats MB/s with one decimal place
func formatMBps(mbps float64) string {
	return fmt.Sprintf("%.1f MB/s", mbps)
}
