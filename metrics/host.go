package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// HostSampler periodically publishes process-host CPU/memory gauges. The
// searcher's correctness does not depend on these, but slow hosts quietly
// widen the block-processing window (spec.md §9's fixed block-time
// budget), so they are worth a graph when the window starts slipping.
type HostSampler struct {
	cpuPct prometheus.Gauge
	memPct prometheus.Gauge
}

// NewHostSampler registers the host gauges against reg.
func NewHostSampler(reg prometheus.Registerer) *HostSampler {
	h := &HostSampler{
		cpuPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flasharb",
			Name:      "host_cpu_percent",
			Help:      "Host CPU utilization, sampled periodically.",
		}),
		memPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flasharb",
			Name:      "host_mem_percent",
			Help:      "Host memory utilization, sampled periodically.",
		}),
	}
	reg.MustRegister(h.cpuPct, h.memPct)
	return h
}

// Run samples host metrics every interval until ctx is done.
func (h *HostSampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

func (h *HostSampler) sample() {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		h.cpuPct.Set(pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.memPct.Set(vm.UsedPercent)
	}
}
