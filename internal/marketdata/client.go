package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/taiki-kuraishi/stock-price-predictor/internal/dataset"
)

// ErrNoData is returned when the chart API answers with no bars at all.
var ErrNoData = errors.New("market data: empty response")

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Client fetches OHLCV bars from the Yahoo Finance chart API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *zap.SugaredLogger
}

func NewClient(log *zap.SugaredLogger) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Logger:  log,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchRange downloads bars for [start, end) at the given interval and
// returns them in loc, chronologically sorted. An empty result is not an
// error; callers decide whether "no new bars" is a problem.
func (c *Client) FetchRange(ctx context.Context, symbol string, start, end time.Time, interval string, loc *time.Location) ([]dataset.Bar, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", start.Unix()))
	q.Set("period2", fmt.Sprintf("%d", end.Unix()))
	q.Set("interval", interval)
	q.Set("events", "div,splits")
	return c.fetch(ctx, symbol, q, loc)
}

// FetchPeriod downloads as much history as the API serves for a relative
// range like "2y". Used for the initial backfill.
func (c *Client) FetchPeriod(ctx context.Context, symbol, period, interval string, loc *time.Location) ([]dataset.Bar, error) {
	q := url.Values{}
	q.Set("range", period)
	q.Set("interval", interval)
	q.Set("events", "div,splits")
	bars, err := c.fetch(ctx, symbol, q, loc)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s period=%s", ErrNoData, symbol, period)
	}
	return bars, nil
}

func (c *Client) fetch(ctx context.Context, symbol string, q url.Values, loc *time.Location) ([]dataset.Bar, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.BaseURL, url.PathEscape(symbol), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "stock-price-predictor/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart request: unexpected status %d", resp.StatusCode)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("chart response: %w", err)
	}
	if body.Chart.Error != nil {
		return nil, fmt.Errorf("chart response: %s: %s", body.Chart.Error.Code, body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 {
		return nil, nil
	}

	res := body.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]dataset.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		// the API pads incomplete bars with nulls; skip them
		if !has(quote.Open, i) || !has(quote.High, i) || !has(quote.Low, i) || !has(quote.Close, i) {
			continue
		}
		t := time.Unix(ts, 0).In(loc)
		date, clock := dataset.FromTime(t)
		b := dataset.Bar{
			Date:     date,
			Time:     clock,
			Open:     *quote.Open[i],
			High:     *quote.High[i],
			Low:      *quote.Low[i],
			Close:    *quote.Close[i],
			AdjClose: *quote.Close[i],
		}
		if has(adj, i) {
			b.AdjClose = *adj[i]
		}
		if has(quote.Volume, i) {
			b.Volume = *quote.Volume[i]
		}
		bars = append(bars, b)
	}
	dataset.Sort(bars)
	if c.Logger != nil {
		c.Logger.Infow("market data fetched", "symbol", symbol, "rows", len(bars))
	}
	return bars, nil
}

func has(vs []*float64, i int) bool { return i < len(vs) && vs[i] != nil }
