package feed

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Alpaca is a PriceFeed backed by Alpaca's market-data REST API. Grounded
// on provider/alpaca_stock_data.go's alpacaRequest (plain net/http.Client
// with the APCA-API-KEY-ID/APCA-API-SECRET-KEY header pair, no SDK) and
// market/historical.go's bar-fetching shape; narrowed to the two calls
// this domain needs (latest quote, recent bars) out of the teacher's much
// larger surface (news, options, short interest, analyst ratings — none
// of which this paper-trading lab consumes).
type Alpaca struct {
	apiKey    string
	apiSecret string
	client    *http.Client

	mu    sync.RWMutex
	cache map[string]Quote
}

const alpacaDataBaseURL = "https://data.alpaca.markets"

// NewAlpaca builds an Alpaca-backed feed from API credentials.
func NewAlpaca(apiKey, apiSecret string) *Alpaca {
	return &Alpaca{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: 30 * time.Second},
		cache:     make(map[string]Quote),
	}
}

func (a *Alpaca) request(url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.apiSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: alpaca request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed: reading alpaca response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: alpaca returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

type alpacaQuoteResponse struct {
	Quote struct {
		BidPrice  float64 `json:"bp"`
		AskPrice  float64 `json:"ap"`
		Timestamp string  `json:"t"`
	} `json:"quote"`
}

// RefreshQuote fetches the latest quote for symbol and caches it for
// LastQuote. The feed never polls internally; a caller has to invoke this
// on its own schedule. Neither the engine nor cmd/lab calls it.
func (a *Alpaca) RefreshQuote(symbol string) error {
	url := fmt.Sprintf("%s/v2/stocks/%s/quotes/latest", alpacaDataBaseURL, symbol)
	body, err := a.request(url)
	if err != nil {
		return err
	}

	var resp alpacaQuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("feed: decoding quote for %s: %w", symbol, err)
	}

	ts, _ := time.Parse(time.RFC3339Nano, resp.Quote.Timestamp)
	mid := (resp.Quote.BidPrice + resp.Quote.AskPrice) / 2

	a.mu.Lock()
	a.cache[symbol] = Quote{
		Symbol:    symbol,
		Price:     mid,
		BidPrice:  resp.Quote.BidPrice,
		AskPrice:  resp.Quote.AskPrice,
		Timestamp: ts,
	}
	a.mu.Unlock()
	return nil
}

func (a *Alpaca) LastQuote(symbol string) (Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.cache[symbol]
	return q, ok
}

type alpacaBarsResponse struct {
	Bars []struct {
		Timestamp string  `json:"t"`
		Open      float64 `json:"o"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Close     float64 `json:"c"`
		Volume    float64 `json:"v"`
	} `json:"bars"`
}

// Bars fetches up to limit 1-minute bars for symbol.
func (a *Alpaca) Bars(symbol string, limit int) ([]Bar, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("feed: limit must be positive")
	}

	url := fmt.Sprintf("%s/v2/stocks/%s/bars?timeframe=1Min&limit=%s",
		alpacaDataBaseURL, symbol, strconv.Itoa(limit))
	body, err := a.request(url)
	if err != nil {
		return nil, err
	}

	var resp alpacaBarsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("feed: decoding bars for %s: %w", symbol, err)
	}

	out := make([]Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		ts, _ := time.Parse(time.RFC3339Nano, b.Timestamp)
		out = append(out, Bar{
			Timestamp: ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return out, nil
}
