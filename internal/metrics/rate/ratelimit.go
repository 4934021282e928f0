package rate

import (
	"strings"

	"klineflow/internal/metrics"
	"klineflow/logger"
)

// ReportRateLimitExceeded increments the rate limit exceeded counter and emits
// the metric. Symbol and ip are attached to the log entry.
func ReportRateLimitExceeded(log *logger.Log, component, symbol, ip string) {
	fields := logger.Fields{
		"symbol": symbol,
		"ip":     ip,
	}
	metrics.EmitMetric(log, component, "rate_limit_exceeded", int64(1), "counter", fields)
	log.WithComponent(component).WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan increments the IP ban counter and emits the metric.
func ReportIPBan(log *logger.Log, component, symbol, ip string) {
	fields := logger.Fields{
		"symbol": symbol,
		"ip":     ip,
	}
	metrics.EmitMetric(log, component, "ip_ban", int64(1), "counter", fields)
	log.WithComponent(component).WithFields(fields).Error("ip banned")
}

// detectLimit inspects an error body returned by Binance and determines
// whether it signals a rate limit or an IP ban.
func detectLimit(msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	rateLimit = !ipBan && (strings.Contains(lowerMsg, "too many requests") ||
		strings.Contains(lowerMsg, "rate limit") ||
		strings.Contains(lowerMsg, "too much request weight"))
	return
}

// ReportLimitFromMessage checks an error body for rate limit or IP ban
// wording, records the matching metrics and reports what was found.
func ReportLimitFromMessage(log *logger.Log, component, symbol, ip, msg string) (rateLimit bool, ipBan bool) {
	rateLimit, ipBan = detectLimit(msg)
	if rateLimit {
		ReportRateLimitExceeded(log, component, symbol, ip)
	}
	if ipBan {
		ReportIPBan(log, component, symbol, ip)
	}
	return
}
