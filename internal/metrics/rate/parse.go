package rate

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// extractInts returns all integer substrings contained in s. Any non-digit
// characters are treated as separators. Missing or unparsable values result in
// an empty slice.
func extractInts(s string) []int64 {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r < '0' || r > '9'
	})
	nums := make([]int64, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

// BanUntil extracts the ban expiry from a Binance error message such as
// "Way too much request weight used; IP banned until 1700000000000.".
// Epoch milliseconds are the only supported form.
func BanUntil(msg string) (time.Time, bool) {
	lower := strings.ToLower(msg)
	idx := strings.Index(lower, "until")
	if idx < 0 {
		return time.Time{}, false
	}
	for _, n := range extractInts(lower[idx:]) {
		// Anything shorter cannot be a millisecond timestamp after 2001.
		if n >= 1_000_000_000_000 {
			return time.UnixMilli(n).UTC(), true
		}
	}
	return time.Time{}, false
}

// RetryAfter returns the delay advertised in the Retry-After header, which
// Binance sends with 429 and 418 responses.
func RetryAfter(header http.Header) (time.Duration, bool) {
	if header == nil {
		return 0, false
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
