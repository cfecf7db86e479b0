package crawlers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/RecoveryAshes/courtcrawl/internal/utils"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// 内存压力等级
const (
	PressureNormal    = "normal"
	PressureWarning   = "warning"
	PressureCritical  = "critical"
	PressureEmergency = "emergency"
)

// ResourceMonitorConfig 资源监控配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory int64 // 为系统保留的内存(字节)
	CPULoadThreshold    int   // CPU负载阈值(%), >=200 视为禁用
	MaxSessionsLimit    int   // 同时运行的浏览器会话上限
	SessionMemoryUsage  int64 // 单个Chromium会话的预估内存(字节)
}

// ResourceMonitor 根据系统可用内存和CPU负载限制同时打开的浏览器会话.
// 采样结果由 Run 定期刷新, 其他方法只读取最近一次采样.
type ResourceMonitor struct {
	config ResourceMonitorConfig

	mu        sync.RWMutex
	headroom  int64   // 可用内存减去保留内存
	cpuUsage  float64 // %
	sampledAt time.Time

	// 测试替换
	sample func() (available int64, cpuUsage float64)
}

// NewResourceMonitor 创建资源监控器并立即采样一次
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.SessionMemoryUsage <= 0 {
		config.SessionMemoryUsage = 300 * 1024 * 1024
	}
	if config.MaxSessionsLimit <= 0 {
		config.MaxSessionsLimit = 4
	}
	rm := &ResourceMonitor{config: config, sample: systemSample}
	rm.refresh()
	return rm
}

// systemSample 读取系统可用内存与CPU使用率; 读取失败时内存按2GB估计
func systemSample() (int64, float64) {
	available := int64(2 * 1024 * 1024 * 1024)
	if vm, err := mem.VirtualMemory(); err == nil {
		available = int64(vm.Available)
	} else {
		utils.Debugf("读取系统内存失败: %v", err)
	}

	var usage float64
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		usage = pct[0]
	}
	return available, usage
}

func (rm *ResourceMonitor) refresh() {
	available, usage := rm.sample()
	rm.mu.Lock()
	rm.headroom = available - rm.config.SafetyReserveMemory
	rm.cpuUsage = usage
	rm.sampledAt = time.Now()
	rm.mu.Unlock()
}

func (rm *ResourceMonitor) snapshot() (headroom int64, usage float64) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.headroom, rm.cpuUsage
}

// Run 按 interval 周期采样, 直到ctx取消
func (rm *ResourceMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.refresh()
		}
	}
}

// CalculateMaxSessions 会话上限: 取 requested, 内存可容纳数, CPU核数, 配置上限 中的最小值, 至少为1
func (rm *ResourceMonitor) CalculateMaxSessions(requested int) int {
	headroom, _ := rm.snapshot()

	limit := rm.config.MaxSessionsLimit
	if requested > 0 && requested < limit {
		limit = requested
	}
	limit = min(limit, int(headroom/rm.config.SessionMemoryUsage), runtime.NumCPU())
	return max(limit, 1)
}

// CheckResourceAvailability 当前资源能否再启动一个浏览器会话
func (rm *ResourceMonitor) CheckResourceAvailability() (bool, string) {
	headroom, usage := rm.snapshot()
	if headroom < rm.config.SessionMemoryUsage {
		return false, fmt.Sprintf("内存不足(剩余%dMB, %s)", headroom/(1024*1024), rm.Pressure())
	}
	if rm.config.CPULoadThreshold < 200 && usage > float64(rm.config.CPULoadThreshold) {
		return false, fmt.Sprintf("CPU负载过高(%.1f%%)", usage)
	}
	return true, ""
}

// WaitForCapacity 资源紧张时推迟启动会话. 超过maxWait后放行; 只有ctx取消时返回错误.
func (rm *ResourceMonitor) WaitForCapacity(ctx context.Context, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		ok, reason := rm.CheckResourceAvailability()
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			utils.Warnf("资源持续紧张(%s),继续启动会话", reason)
			return nil
		}
		utils.Debugf("推迟启动会话: %s", reason)
		if err := Sleep(ctx, time.Second); err != nil {
			return err
		}
		rm.refresh()
	}
}

// Pressure 内存压力等级
func (rm *ResourceMonitor) Pressure() string {
	headroom, _ := rm.snapshot()
	switch mb := headroom / (1024 * 1024); {
	case mb < 200:
		return PressureEmergency
	case mb < 500:
		return PressureCritical
	case mb < 1024:
		return PressureWarning
	}
	return PressureNormal
}
