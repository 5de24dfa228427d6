package falcon

import "github.com/falcon-dl/falcon/internal/allocator"

// DiskUsage reports free/used space for the volume backing DataDir,
// grounded on the teacher's StatsManager.GetDiskUsage (internal/core/stats.go).
type DiskUsage struct {
	UsedGB  float64
	FreeGB  float64
	TotalGB float64
	Percent float64
}

// DailyTotal is one day's completed-download tally.
type DailyTotal struct {
	Date  string
	Bytes int64
	Files int64
}

// Statistics aggregates lifetime download totals, a recent daily
// history and current disk usage, generalizing the teacher's
// StatsManager.GetAnalytics into a single snapshot.
type Statistics struct {
	TotalBytes   int64
	TotalFiles   int64
	DailyHistory []DailyTotal
	Disk         DiskUsage
}

const bytesPerGB = 1024 * 1024 * 1024

// Statistics returns a snapshot of lifetime totals, the last 7 days of
// history and disk usage under the engine's data directory.
func (e *Engine) Statistics() (Statistics, error) {
	lifetime, err := e.storage.GetTotalLifetime()
	if err != nil {
		return Statistics{}, newEngineError(classifyError(err), err)
	}
	totalFiles, err := e.storage.GetTotalFiles()
	if err != nil {
		return Statistics{}, newEngineError(classifyError(err), err)
	}
	history, err := e.storage.GetDailyHistory(7)
	if err != nil {
		return Statistics{}, newEngineError(classifyError(err), err)
	}

	daily := make([]DailyTotal, 0, len(history))
	for _, h := range history {
		daily = append(daily, DailyTotal{Date: h.Date, Bytes: h.Bytes, Files: h.Files})
	}

	stats := Statistics{
		TotalBytes:   lifetime,
		TotalFiles:   totalFiles,
		DailyHistory: daily,
	}

	if usage, err := allocator.New().DiskUsage(e.cfg.DataDir); err == nil {
		stats.Disk = DiskUsage{
			UsedGB:  float64(usage.Used) / bytesPerGB,
			FreeGB:  float64(usage.Free) / bytesPerGB,
			TotalGB: float64(usage.Total) / bytesPerGB,
			Percent: usage.UsedPercent,
		}
	}

	return stats, nil
}
