package cryptoexch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/username/wealthos/backend/src/connectors"
)

// exchangeClient talks to one Binance-dialect venue. Signed endpoints carry
// an HMAC-SHA256 signature of the query string plus a recvWindow-bounded
// timestamp, the way the dialect requires.
type exchangeClient struct {
	exchangeID string
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	now        func() time.Time
}

const requestTimeout = 30 * time.Second

func newExchangeClient(exchangeID, baseURL, apiKey, apiSecret string) *exchangeClient {
	return &exchangeClient{
		exchangeID: exchangeID,
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: requestTimeout},
		now:        time.Now,
	}
}

func (c *exchangeClient) sign(query url.Values) url.Values {
	query.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query.Encode()))
	query.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return query
}

// get performs a GET against path, signing the query when signed is true, and
// decodes the JSON response into out.
func (c *exchangeClient) get(ctx context.Context, path string, query url.Values, signed bool, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	if signed {
		query = c.sign(query)
	}

	reqURL := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &connectors.DataFetchError{Source: c.exchangeID, Endpoint: path, Message: "building request", Err: err}
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &connectors.DataFetchError{Source: c.exchangeID, Endpoint: path, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &connectors.AuthenticationError{Source: c.exchangeID, Message: fmt.Sprintf("exchange rejected credentials (%d)", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		return &connectors.RateLimitError{
			Message:    fmt.Sprintf("%s throttled request to %s", c.exchangeID, path),
			RetryAfter: retryAfterHeader(resp),
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &connectors.DataFetchError{
			Source:   c.exchangeID,
			Endpoint: path,
			Message:  fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &connectors.DataFetchError{Source: c.exchangeID, Endpoint: path, Message: "decoding response", Err: err}
	}
	return nil
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 60 * time.Second
}

// Wire shapes of the Binance dialect.

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type tradeRecord struct {
	ID              int64  `json:"id"`
	Symbol          string `json:"symbol"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
}

type depositRecord struct {
	ID         string `json:"id"`
	Coin       string `json:"coin"`
	Amount     string `json:"amount"`
	Status     int    `json:"status"`
	InsertTime int64  `json:"insertTime"`
}

type withdrawRecord struct {
	ID             string `json:"id"`
	Coin           string `json:"coin"`
	Amount         string `json:"amount"`
	TransactionFee string `json:"transactionFee"`
	Status         int    `json:"status"`
	ApplyTime      string `json:"applyTime"`
}

func parseAmount(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
