package collector

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"RSISentinel/internal/model"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTwelveDataURL is the public TwelveData REST endpoint.
const DefaultTwelveDataURL = "https://api.twelvedata.com"

// TwelveDataFetcher implements Fetcher using the TwelveData time_series API.
type TwelveDataFetcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	logger  zerolog.Logger
}

// NewTwelveDataFetcher creates a new fetcher with optional proxy support.
func NewTwelveDataFetcher(baseURL, apiKey, proxyURL string, timeout time.Duration) *TwelveDataFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if baseURL == "" {
		baseURL = DefaultTwelveDataURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TwelveDataFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: log.With().Str("component", "twelvedata").Logger(),
	}
}

func (f *TwelveDataFetcher) Name() string { return "twelvedata" }

// timeSeriesResponse is the JSON shape of /time_series. Errors come back with
// HTTP 200 and a non-200 "code".
type timeSeriesResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
	Meta    struct {
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
	} `json:"meta"`
	Values []struct {
		Datetime string `json:"datetime"`
		Close    string `json:"close"`
	} `json:"values"`
}

var datetimeLayouts = []string{"2006-01-02 15:04:05", "2006-01-02"}

func parseDatetime(s string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", s)
}

func (f *TwelveDataFetcher) FetchSeries(ctx context.Context, instrument model.Instrument, tf model.Timeframe, size int) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("symbol", string(instrument))
	q.Set("interval", string(tf))
	q.Set("outputsize", strconv.Itoa(size))
	q.Set("timezone", "UTC")
	q.Set("apikey", f.APIKey)
	endpoint := f.BaseURL + "/time_series?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteAPIError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}

	var data timeSeriesResponse
	if err := sonic.Unmarshal(body, &data); err != nil {
		return nil, &DataError{Reason: fmt.Sprintf("decode time_series: %v", err)}
	}
	if (data.Code != 0 && data.Code != http.StatusOK) || data.Status == "error" {
		msg := data.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, &RemoteAPIError{StatusCode: resp.StatusCode, Code: data.Code, Message: msg}
	}
	if len(data.Values) == 0 {
		return nil, &DataError{Reason: "no values in response"}
	}

	// Values arrive newest first; reverse into chronological order.
	bars := make([]model.Bar, 0, len(data.Values))
	for i := len(data.Values) - 1; i >= 0; i-- {
		v := data.Values[i]
		closePrice, err := strconv.ParseFloat(v.Close, 64)
		if err != nil {
			return nil, &DataError{Reason: fmt.Sprintf("parse close %q: %v", v.Close, err)}
		}
		if math.IsNaN(closePrice) || math.IsInf(closePrice, 0) {
			return nil, &DataError{Reason: fmt.Sprintf("non-finite close %q at %s", v.Close, v.Datetime)}
		}
		ts, err := parseDatetime(v.Datetime)
		if err != nil {
			return nil, &DataError{Reason: err.Error()}
		}
		bars = append(bars, model.Bar{Time: ts, Close: closePrice})
	}

	f.logger.Debug().
		Str("symbol", string(instrument)).
		Str("interval", string(tf)).
		Int("count", len(bars)).
		Msg("fetched series")
	return bars, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
