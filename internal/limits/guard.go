package limits

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config controls Guard's thresholds and admission rates.
type Config struct {
	MaxWriterConnectsPerSec float64
	MaxReaderConnectsPerSec float64
	CPURejectThreshold      float64 // percent, 0-100
	MemoryLimitBytes        int64
}

// Guard is the core's single admission-control point: every inbound
// connection is checked against it before a Replay is handed the socket.
// Unlike the teacher's ResourceGuard, Guard has no notion of Kafka or
// broadcast throughput — this service's only inbound traffic is writer and
// reader connections, so those are the only two rate limiters it keeps.
type Guard struct {
	writerLimiter *rate.Limiter
	readerLimiter *rate.Limiter

	cpuMonitor         *CPUMonitor
	cpuRejectThreshold float64
	memoryLimitBytes   int64

	currentCPU    atomic.Value // float64
	currentMemory atomic.Value // int64

	logger zerolog.Logger
}

// New builds a Guard. Burst capacity is set to twice the steady-state rate
// plus one, matching the teacher's Kafka/broadcast limiter sizing.
func New(cfg Config, logger zerolog.Logger) *Guard {
	g := &Guard{
		writerLimiter:      rate.NewLimiter(rate.Limit(cfg.MaxWriterConnectsPerSec), int(cfg.MaxWriterConnectsPerSec*2)+1),
		readerLimiter:      rate.NewLimiter(rate.Limit(cfg.MaxReaderConnectsPerSec), int(cfg.MaxReaderConnectsPerSec*2)+1),
		cpuMonitor:         NewCPUMonitor(logger),
		cpuRejectThreshold: cfg.CPURejectThreshold,
		memoryLimitBytes:   cfg.MemoryLimitBytes,
		logger:             logger,
	}
	g.currentCPU.Store(0.0)
	g.currentMemory.Store(int64(0))
	return g
}

// AllowWriterConnect reports whether a new writer connection may proceed
// under the configured connect-rate limit.
func (g *Guard) AllowWriterConnect() bool { return g.writerLimiter.Allow() }

// AllowReaderConnect reports whether a new reader connection may proceed
// under the configured connect-rate limit.
func (g *Guard) AllowReaderConnect() bool { return g.readerLimiter.Allow() }

// ShouldAcceptConnection applies the CPU and memory emergency brakes,
// independent of the per-category rate limiters above. A false return means
// the process itself is under enough load that accepting more work risks
// taking down replays already in flight.
func (g *Guard) ShouldAcceptConnection() (accept bool, reason string) {
	cpuPct := g.currentCPU.Load().(float64)
	memBytes := g.currentMemory.Load().(int64)

	if cpuPct > g.cpuRejectThreshold {
		return false, fmt.Sprintf("cpu %.1f%% > %.1f%%", cpuPct, g.cpuRejectThreshold)
	}
	if g.memoryLimitBytes > 0 && memBytes > g.memoryLimitBytes {
		return false, fmt.Sprintf("memory %d bytes > limit %d bytes", memBytes, g.memoryLimitBytes)
	}
	return true, ""
}

// Sample refreshes the CPU and memory readings used by ShouldAcceptConnection.
// Call it periodically (StartMonitoring does this on a ticker); it is cheap
// enough to also call synchronously from tests.
func (g *Guard) Sample() {
	cpuPct, err := g.cpuMonitor.Percent()
	if err != nil {
		g.logger.Debug().Err(err).Msg("cpu sample failed, keeping previous reading")
	} else {
		g.currentCPU.Store(cpuPct)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	g.currentMemory.Store(int64(mem.Alloc))
}

// StartMonitoring samples CPU and memory on the given interval until ctx is
// done.
func (g *Guard) StartMonitoring(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				g.Sample()
			case <-ctx.Done():
				return
			}
		}
	}()
}
