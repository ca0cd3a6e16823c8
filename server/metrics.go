package server

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Ishiihara/chroma/system"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics are the gauges filled by SystemCollector.
type SystemMetrics struct {
	CPUUsagePercent  *expvar.Float
	MemUsagePercent  *expvar.Float
	DiskUsagePercent *expvar.Float
	ProcessRSSBytes  *expvar.Int
}

// NewSystemMetrics creates gauges. With a non-empty prefix they are
// published as prefix_<name>; otherwise they stay private.
func NewSystemMetrics(prefix string) *SystemMetrics {
	newFloat := func(name string) *expvar.Float {
		if prefix == "" {
			return new(expvar.Float)
		}
		return expvar.NewFloat(prefix + "_" + name)
	}
	newInt := func(name string) *expvar.Int {
		if prefix == "" {
			return new(expvar.Int)
		}
		return expvar.NewInt(prefix + "_" + name)
	}
	return &SystemMetrics{
		CPUUsagePercent:  newFloat("system_cpu_usage_percent"),
		MemUsagePercent:  newFloat("system_mem_usage_percent"),
		DiskUsagePercent: newFloat("system_disk_usage_percent"),
		ProcessRSSBytes:  newInt("process_rss_bytes"),
	}
}

// SystemCollector periodically samples host and process resource usage.
// It runs as a component on its own thread so sampling never blocks the
// shared pool.
type SystemCollector struct {
	system.Base
	metrics  *SystemMetrics
	diskPath string
	interval time.Duration
	proc     *process.Process
	logger   *slog.Logger
}

var _ system.Runner = (*SystemCollector)(nil)

// NewSystemCollector creates a new collector.
// diskPath should be the path of the disk to monitor (e.g., the segment directory).
func NewSystemCollector(diskPath string, interval time.Duration, metrics *SystemMetrics, logger *slog.Logger) *SystemCollector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if metrics == nil {
		metrics = NewSystemMetrics("")
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	sc := &SystemCollector{
		metrics:  metrics,
		diskPath: diskPath,
		interval: interval,
		logger:   logger.With("component", "SystemCollector"),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sc.proc = p
	} else {
		sc.logger.Warn("Process metrics unavailable", "error", err)
	}
	return sc
}

func (sc *SystemCollector) Name() string                { return "SystemCollector" }
func (sc *SystemCollector) Placement() system.Placement { return system.PlacementDedicated }

// Metrics returns the gauges the collector writes to.
func (sc *SystemCollector) Metrics() *SystemMetrics { return sc.metrics }

// Run samples once immediately and then on every tick until ctx is done.
func (sc *SystemCollector) Run(ctx context.Context, _ *system.Context) {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval)
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	sc.Collect(ctx)
	for {
		select {
		case <-ticker.C:
			sc.Collect(ctx)
		case <-ctx.Done():
			sc.logger.Info("Stopping system metrics collector")
			return
		}
	}
}

// Collect takes one sample. Sources that fail keep their previous value.
func (sc *SystemCollector) Collect(ctx context.Context) {
	// Sampling for the whole interval would make the next tick late.
	window := sc.interval / 2
	if window > time.Second {
		window = time.Second
	}
	if pct, err := cpu.PercentWithContext(ctx, window, false); err == nil && len(pct) > 0 {
		sc.metrics.CPUUsagePercent.Set(pct[0])
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sc.metrics.MemUsagePercent.Set(vm.UsedPercent)
	}
	if sc.diskPath != "" {
		if du, err := disk.UsageWithContext(ctx, sc.diskPath); err == nil {
			sc.metrics.DiskUsagePercent.Set(du.UsedPercent)
		} else {
			sc.logger.Debug("Disk usage sample failed", "path", sc.diskPath, "error", err)
		}
	}
	if sc.proc != nil {
		if mi, err := sc.proc.MemoryInfoWithContext(ctx); err == nil {
			sc.metrics.ProcessRSSBytes.Set(int64(mi.RSS))
		}
	}
}
