package observability

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Snapshot is the lightweight status exposed by the admin /healthz endpoint.
type Snapshot struct {
	InstanceID        string    `json:"instance_id"`
	StartedAt         time.Time `json:"started_at"`
	Uptime            string    `json:"uptime"`
	LiveConnections   int       `json:"live_connections"`
	Goroutines        int       `json:"goroutines"`
	AllocMemMb        uint64    `json:"alloc_mem_mb"`
	NumGC             uint32    `json:"num_gc"`
	RSSBytes          uint64    `json:"rss_bytes,omitempty"`
	CPUPercent        float64   `json:"cpu_percent,omitempty"`
	ProcessStatus     string    `json:"process_status,omitempty"`
	BroadcastsEnabled bool      `json:"broadcasts_enabled"`
}

type ConnectionCounter interface {
	Count() int
}

// MonitoringManager builds snapshots on demand from live components.
type MonitoringManager struct {
	instanceID        string
	startedAt         time.Time
	connections       ConnectionCounter
	broadcastsEnabled bool
	process           *process.Process
}

func NewMonitoringManager(instanceID string, connections ConnectionCounter, broadcastsEnabled bool) *MonitoringManager {
	// Without process stats the snapshot still carries the Go runtime figures.
	p, _ := process.NewProcess(int32(os.Getpid()))
	return &MonitoringManager{
		process:           p,
		instanceID:        instanceID,
		startedAt:         time.Now().UTC(),
		connections:       connections,
		broadcastsEnabled: broadcastsEnabled,
	}
}

func (m *MonitoringManager) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snapshot := Snapshot{
		InstanceID:        m.instanceID,
		StartedAt:         m.startedAt,
		Uptime:            time.Since(m.startedAt).Round(time.Second).String(),
		LiveConnections:   m.connections.Count(),
		Goroutines:        runtime.NumGoroutine(),
		AllocMemMb:        mem.Alloc / 1024 / 1024,
		NumGC:             mem.NumGC,
		BroadcastsEnabled: m.broadcastsEnabled,
	}
	if m.process != nil {
		if rss, cpu, status, err := selfStats(m.process); err == nil {
			snapshot.RSSBytes, snapshot.CPUPercent, snapshot.ProcessStatus = rss, cpu, status
		}
	}
	return snapshot
}

// selfStats reads memory, CPU and OS status of the current process.
func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
