package binancemetrics

import (
	"net/http"
	"strconv"

	"klineflow/internal/metrics"
	"klineflow/logger"
)

var usedWeightHeaders = []struct {
	key    string
	window string
}{
	{"X-MBX-USED-WEIGHT-1M", "1m"},
	{"X-MBX-USED-WEIGHT", "1m"},
	{"X-MBX-USED-WEIGHT-1S", "1s"},
}

// ReportUsedWeight inspects Binance used-weight headers and emits a gauge for
// the first numeric value found. When limit is greater than zero the share of
// the minute budget consumed is emitted as a percentage as well. The parsed
// weight and whether a metric was recorded are returned.
func ReportUsedWeight(log *logger.Log, header http.Header, component, symbol, ip string, limit int64) (float64, bool) {
	if log == nil || header == nil {
		return 0, false
	}

	for _, h := range usedWeightHeaders {
		value := header.Get(h.key)
		if value == "" {
			continue
		}

		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.WithComponent(component).WithFields(logger.Fields{
				"symbol": symbol,
				"header": h.key,
				"value":  value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}

		fields := logger.Fields{
			"symbol": symbol,
			"window": h.window,
		}
		if ip != "" {
			fields["ip"] = ip
		}

		metrics.EmitMetric(log, component, "used_weight", used, "gauge", fields)

		if limit > 0 && h.window == "1m" {
			pct := used / float64(limit) * 100
			pctFields := logger.Fields{"symbol": symbol, "unit": "percent"}
			metrics.EmitMetric(log, component, "used_weight_percent", pct, "gauge", pctFields)
		}

		return used, true
	}

	return 0, false
}

// ProjectedWeight returns the weight a run of requests will consume.
func ProjectedWeight(requests int, weightPerRequest int) int64 {
	if requests <= 0 || weightPerRequest <= 0 {
		return 0
	}
	return int64(requests) * int64(weightPerRequest)
}
