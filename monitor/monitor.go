// Package monitor samples host health (CPU, memory, disk, network)
// and raises threshold alerts with a per-type cooldown.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// Metrics is one snapshot of host health. Network values are deltas
// since the previous snapshot, not lifetime counters.
type Metrics struct {
	Timestamp time.Time `json:"timestamp"`

	CPUPercent float64 `json:"cpu_percent"`
	CPUCount   int     `json:"cpu_count"`

	MemTotal   uint64  `json:"mem_total"`
	MemUsed    uint64  `json:"mem_used"`
	MemPercent float64 `json:"mem_percent"`

	DiskTotal   uint64  `json:"disk_total"`
	DiskUsed    uint64  `json:"disk_used"`
	DiskPercent float64 `json:"disk_percent"`

	NetBytesSent uint64 `json:"net_bytes_sent"`
	NetBytesRecv uint64 `json:"net_bytes_recv"`

	Load1   float64 `json:"load1"`
	Load5   float64 `json:"load5"`
	Load15  float64 `json:"load15"`
	HasLoad bool    `json:"has_load"` // false where the platform has no loadavg
}

// AlertType names a threshold breach.
type AlertType string

const (
	AlertCPU    AlertType = "cpu"
	AlertMemory AlertType = "memory"
	AlertDisk   AlertType = "disk"
)

// Alert is one threshold breach.
type Alert struct {
	Type      AlertType `json:"type"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// Config sets thresholds (percent) and the alert cooldown. Zero
// values get defaults.
type Config struct {
	CPUThreshold  float64
	MemThreshold  float64
	DiskThreshold float64
	Cooldown      time.Duration
	DiskPath      string
}

// Monitor collects snapshots and tracks alert cooldowns.
type Monitor struct {
	cfg Config

	mu        sync.Mutex
	seeded    bool
	lastSent  uint64
	lastRecv  uint64
	lastAlert map[AlertType]time.Time
}

// New builds a Monitor. Defaults: CPU 80%, memory 90%, disk 90%,
// five-minute cooldown, disk usage measured at /.
func New(cfg Config) *Monitor {
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = 80
	}
	if cfg.MemThreshold <= 0 {
		cfg.MemThreshold = 90
	}
	if cfg.DiskThreshold <= 0 {
		cfg.DiskThreshold = 90
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	return &Monitor{
		cfg:       cfg,
		lastAlert: make(map[AlertType]time.Time),
	}
}

// Collect takes one snapshot. CPU, memory and disk are required;
// network and load are best effort and zero out when unavailable.
func (m *Monitor) Collect(ctx context.Context) (*Metrics, error) {
	metrics := &Metrics{Timestamp: time.Now()}

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pct) > 0 {
		metrics.CPUPercent = pct[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		metrics.CPUCount = n
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	metrics.MemTotal = vm.Total
	metrics.MemUsed = vm.Used
	metrics.MemPercent = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, m.cfg.DiskPath)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	metrics.DiskTotal = du.Total
	metrics.DiskUsed = du.Used
	metrics.DiskPercent = du.UsedPercent

	if counters, err := psnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		metrics.NetBytesSent, metrics.NetBytesRecv = m.netDelta(counters[0].BytesSent, counters[0].BytesRecv)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		metrics.Load1 = avg.Load1
		metrics.Load5 = avg.Load5
		metrics.Load15 = avg.Load15
		metrics.HasLoad = true
	}

	return metrics, nil
}

// netDelta converts lifetime counters into per-snapshot deltas. The
// first snapshot seeds the baseline and reports zero; a counter that
// went backwards means a reset, and the raw value is the delta.
func (m *Monitor) netDelta(sent, recv uint64) (deltaSent, deltaRecv uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.seeded {
		m.seeded = true
		m.lastSent, m.lastRecv = sent, recv
		return 0, 0
	}
	deltaSent = counterDelta(m.lastSent, sent)
	deltaRecv = counterDelta(m.lastRecv, recv)
	m.lastSent, m.lastRecv = sent, recv
	return deltaSent, deltaRecv
}

func counterDelta(baseline, current uint64) uint64 {
	if current >= baseline {
		return current - baseline
	}
	return current
}

// CheckAlerts returns the threshold breaches in metrics that are not
// muted by a recent alert of the same type.
func (m *Monitor) CheckAlerts(metrics *Metrics, now time.Time) []Alert {
	checks := []struct {
		typ       AlertType
		value     float64
		threshold float64
	}{
		{AlertCPU, metrics.CPUPercent, m.cfg.CPUThreshold},
		{AlertMemory, metrics.MemPercent, m.cfg.MemThreshold},
		{AlertDisk, metrics.DiskPercent, m.cfg.DiskThreshold},
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var alerts []Alert
	for _, c := range checks {
		if c.value <= c.threshold {
			continue
		}
		if last, ok := m.lastAlert[c.typ]; ok && now.Sub(last) < m.cfg.Cooldown {
			continue
		}
		m.lastAlert[c.typ] = now
		alerts = append(alerts, Alert{Type: c.typ, Value: c.value, Threshold: c.threshold})
	}
	return alerts
}

// Uptime reports when the host booted and how long it has been up.
func Uptime(ctx context.Context) (bootedAt time.Time, uptime time.Duration, err error) {
	boot, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, 0, err
	}
	bootedAt = time.Unix(int64(boot), 0)
	return bootedAt, time.Since(bootedAt), nil
}
