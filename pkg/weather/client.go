// Package weather provides the weather-map item pipeline: current conditions
// per district, a same-day forecast for the town center, and the Polish
// caption text the published map carries. Image compositing happens outside
// this module; the caption and item identity are produced here.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is the open-meteo forecast API.
const DefaultEndpoint = "https://api.open-meteo.com/v1/forecast"

// District is one labelled point on the temperature map.
type District struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

// Conditions is the current weather at one district.
type Conditions struct {
	District    District
	Temperature float64
	Code        int
}

// Client fetches open-meteo data with bounded retries. The zero value is not
// usable; construct with NewClient.
type Client struct {
	endpoint string
	timezone string
	http     *http.Client
	retries  int
	backoff  func(attempt int) time.Duration
}

// Option mutates a Client during construction.
type Option func(*Client)

// WithEndpoint overrides the API endpoint, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets how many attempts each fetch gets.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

func NewClient(timezone string, opts ...Option) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		timezone: timezone,
		http:     &http.Client{Timeout: 30 * time.Second},
		retries:  2,
		backoff: func(attempt int) time.Duration {
			return time.Duration(5*(attempt+1)) * time.Second
		},
	}
	if c.timezone == "" {
		c.timezone = "Europe/Warsaw"
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type currentPayload struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Code        int     `json:"weather_code"`
	} `json:"current"`
}

// FetchCurrent returns current conditions for every district. It tries one
// batch request first; when that fails each district is fetched individually,
// and a district that still cannot be fetched gets a neutral fallback so the
// map renders with the stations that did answer.
func (c *Client) FetchCurrent(ctx context.Context, districts []District) ([]Conditions, error) {
	if len(districts) == 0 {
		return nil, fmt.Errorf("no districts configured")
	}

	if conditions, err := c.fetchCurrentBatch(ctx, districts); err == nil {
		return conditions, nil
	}

	results := make([]Conditions, 0, len(districts))
	usable := 0
	for _, d := range districts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cond, err := c.fetchCurrentOne(ctx, d)
		if err != nil {
			results = append(results, Conditions{District: d, Temperature: 0, Code: 3})
			continue
		}
		results = append(results, cond)
		usable++
	}
	if usable == 0 {
		return nil, fmt.Errorf("no district answered")
	}
	return results, nil
}

func (c *Client) fetchCurrentBatch(ctx context.Context, districts []District) ([]Conditions, error) {
	lats := make([]string, len(districts))
	lons := make([]string, len(districts))
	for i, d := range districts {
		lats[i] = formatCoord(d.Lat)
		lons[i] = formatCoord(d.Lon)
	}

	body, err := c.get(ctx, url.Values{
		"latitude":  {strings.Join(lats, ",")},
		"longitude": {strings.Join(lons, ",")},
		"current":   {"temperature_2m,weather_code"},
		"timezone":  {c.timezone},
	})
	if err != nil {
		return nil, err
	}

	// With multiple coordinates the API answers with an array; a single
	// coordinate pair yields a bare object.
	var payloads []currentPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		var single currentPayload
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("decoding current weather: %w", err)
		}
		payloads = []currentPayload{single}
	}
	if len(payloads) != len(districts) {
		return nil, fmt.Errorf("got %d stations for %d districts", len(payloads), len(districts))
	}

	conditions := make([]Conditions, len(districts))
	for i, p := range payloads {
		conditions[i] = Conditions{
			District:    districts[i],
			Temperature: p.Current.Temperature,
			Code:        p.Current.Code,
		}
	}
	return conditions, nil
}

func (c *Client) fetchCurrentOne(ctx context.Context, d District) (Conditions, error) {
	body, err := c.get(ctx, url.Values{
		"latitude":  {formatCoord(d.Lat)},
		"longitude": {formatCoord(d.Lon)},
		"current":   {"temperature_2m,weather_code"},
		"timezone":  {c.timezone},
	})
	if err != nil {
		return Conditions{}, err
	}

	var payload currentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Conditions{}, fmt.Errorf("decoding current weather: %w", err)
	}
	return Conditions{District: d, Temperature: payload.Current.Temperature, Code: payload.Current.Code}, nil
}

type hourlyPayload struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Temperature   []float64 `json:"temperature_2m"`
		PrecipProb    []float64 `json:"precipitation_probability"`
		WeatherCode   []int     `json:"weather_code"`
	} `json:"hourly"`
}

// FetchForecast returns today's day and tonight's night window for the given
// center coordinates. Two forecast days are requested so the night window can
// reach past midnight.
func (c *Client) FetchForecast(ctx context.Context, center District, now time.Time) (*Forecast, error) {
	body, err := c.get(ctx, url.Values{
		"latitude":      {formatCoord(center.Lat)},
		"longitude":     {formatCoord(center.Lon)},
		"hourly":        {"temperature_2m,precipitation_probability,weather_code"},
		"timezone":      {c.timezone},
		"forecast_days": {"2"},
	})
	if err != nil {
		return nil, err
	}

	var payload hourlyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding forecast: %w", err)
	}
	if len(payload.Hourly.Time) == 0 || len(payload.Hourly.Temperature) == 0 {
		return nil, fmt.Errorf("forecast response has no hourly data")
	}
	return buildForecast(payload, now)
}

// get performs one GET with retries. Timeouts back off before retrying;
// response bodies are returned raw for the caller to decode.
func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		body, err := c.getOnce(ctx, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempt(s): %w", c.retries, lastErr)
}

func (c *Client) getOnce(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open-meteo returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
