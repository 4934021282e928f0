package metrics

import "klineflow/logger"

// WriterStats holds metrics for the persistence sinks.
type WriterStats struct {
	Symbol       string
	FilesWritten int64
	RowsWritten  int64
	BytesWritten int64
	ErrorsCount  int64
}

// ReportWriter emits common writer metrics using the provided logger and component name.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.FilesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.FilesWritten+stats.ErrorsCount)
	}

	avgBytesPerFile := float64(0)
	if stats.FilesWritten > 0 {
		avgBytesPerFile = float64(stats.BytesWritten) / float64(stats.FilesWritten)
	}

	fields := logger.Fields{"symbol": stats.Symbol}
	EmitMetric(log, component, "files_written", stats.FilesWritten, "counter", fields)
	EmitMetric(log, component, "rows_written", stats.RowsWritten, "counter", fields)
	EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", logger.Fields{"symbol": stats.Symbol, "unit": "bytes"})
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", fields)
	EmitMetric(log, component, "error_rate", errorRate, "gauge", fields)

	entry := l.WithFields(logger.Fields{
		"symbol":             stats.Symbol,
		"files_written":      stats.FilesWritten,
		"rows_written":       stats.RowsWritten,
		"bytes_written":      stats.BytesWritten,
		"errors_count":       stats.ErrorsCount,
		"error_rate":         errorRate,
		"avg_bytes_per_file": avgBytesPerFile,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}

	entry.Info(component + " metrics")
}
