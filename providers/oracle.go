package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilnworks/kiln/utils"
)

const lastKnownRateKey = "oracle:last_rate"

// HTTPOracle fetches the native-unit USD rate from a JSON price feed with
// bounded retries. Every good quote is stashed in Redis so a feed outage can
// degrade to the last observed rate instead of failing mint requests.
type HTTPOracle struct {
	endpoint string
	http     *http.Client
	redis    *redis.Client
	retry    *utils.RetryConfig
	logger   *utils.Logger
}

func CreateHTTPOracle(endpoint string, timeout time.Duration, redisClient *redis.Client) *HTTPOracle {
	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.BaseDelay = 250 * time.Millisecond
	return &HTTPOracle{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		redis:    redisClient,
		retry:    retry,
		logger:   utils.NewLogger("oracle"),
	}
}

type rateQuote struct {
	Rate      float64 `json:"rate"`
	Timestamp int64   `json:"timestamp"`
	Source    string  `json:"source"`
}

func (o *HTTPOracle) GetRate(ctx context.Context) (float64, error) {
	var quote rateQuote

	err := utils.Retry(ctx, o.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := o.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("price feed returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&quote)
	})

	if err == nil && quote.Rate > 0 {
		o.stashLastKnown(ctx, quote.Rate)
		return quote.Rate, nil
	}

	if err != nil {
		o.logger.Warn(ctx, "price feed unavailable, trying last-known rate", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if rate, ok := o.lastKnown(ctx); ok {
		return rate, nil
	}
	return 0, utils.ErrOracleUnavailable
}

func (o *HTTPOracle) stashLastKnown(ctx context.Context, rate float64) {
	if o.redis == nil {
		return
	}
	if err := o.redis.Set(ctx, lastKnownRateKey, rate, 24*time.Hour).Err(); err != nil {
		o.logger.Warn(ctx, "failed to stash last-known rate", map[string]interface{}{"error": err.Error()})
	}
}

func (o *HTTPOracle) lastKnown(ctx context.Context) (float64, bool) {
	if o.redis == nil {
		return 0, false
	}
	raw, err := o.redis.Get(ctx, lastKnownRateKey).Result()
	if err != nil {
		return 0, false
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}
