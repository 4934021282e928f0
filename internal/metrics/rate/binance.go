package rate

import (
	"context"
	"fmt"

	binance "github.com/adshao/go-binance/v2"
)

// FetchRequestWeightLimit queries Binance exchangeInfo endpoint to retrieve the
// REQUEST_WEIGHT per minute limit. It returns 0 if the limit cannot be
// determined.
func FetchRequestWeightLimit(ctx context.Context, client *binance.Client) (int64, error) {
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, rl := range info.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			return rl.Limit, nil
		}
	}
	return 0, nil
}

// RequestsPerWindow converts a weight limit into a request count for endpoints
// costing weight per call.
func RequestsPerWindow(weightLimit int64, weight int) (int, error) {
	if weightLimit <= 0 {
		return 0, fmt.Errorf("weight limit must be greater than 0")
	}
	if weight <= 0 {
		weight = 1
	}
	n := int(weightLimit / int64(weight))
	if n <= 0 {
		return 0, fmt.Errorf("weight limit %d is below request weight %d", weightLimit, weight)
	}
	return n, nil
}
