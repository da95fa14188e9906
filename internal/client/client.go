package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/comfortindex/comfort-dashboard/internal/circuitbreaker"
	"github.com/comfortindex/comfort-dashboard/internal/models"
	"github.com/comfortindex/comfort-dashboard/internal/observability"
)

// WeatherClient fetches a raw observation for one city code from the
// upstream provider.
type WeatherClient interface {
	GetCityWeather(ctx context.Context, cityCode string) (models.CityObservation, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrCityNotFound    = errors.New("city not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// OpenWeatherClient calls an OpenWeatherMap-compatible current-weather
// endpoint by city id. Each call is a single attempt bounded by the
// configured timeout; the pipeline's skip-and-continue policy handles
// failures, so there is no retry here.
type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewOpenWeatherClient creates a client for the given base URL and key.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	return &OpenWeatherClient{
		apiKey:  apiKey,
		apiURL:  apiURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker installs a breaker in front of upstream calls. When the
// circuit is open, fetches fail fast with ErrUpstreamFailure.
func (c *OpenWeatherClient) SetCircuitBreaker(b *circuitbreaker.Breaker) {
	c.breaker = b
}

type openWeatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
		Pressure int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Visibility int    `json:"visibility"` // meters
	Timezone   int    `json:"timezone"`   // shift from UTC in seconds
	Name       string `json:"name"`
}

// GetCityWeather fetches the current observation for a city id.
func (c *OpenWeatherClient) GetCityWeather(ctx context.Context, cityCode string) (models.CityObservation, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, cityCode)
	}

	var obs models.CityObservation
	err := c.breaker.Call(func() error {
		var callErr error
		obs, callErr = c.callAPI(ctx, cityCode)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return models.CityObservation{}, fmt.Errorf("%w: circuit open", ErrUpstreamFailure)
	}
	return obs, err
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, cityCode string) (models.CityObservation, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, cityCode)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.CityObservation{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.CityObservation{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.CityObservation{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return models.CityObservation{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CityObservation{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.CityObservation{}, fmt.Errorf("parse response: %w", err)
	}

	return mapResponse(apiResp), nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, cityCode string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("id", cityCode)
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenWeatherClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrCityNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

// mapResponse converts the provider payload into a CityObservation.
// Temperature stays in Kelvin (scoring converts); visibility becomes
// kilometers rounded to one decimal; sunrise and sunset are rendered in the
// city's local time using the provider's timezone offset.
func mapResponse(apiResp openWeatherResponse) models.CityObservation {
	condition := ""
	if len(apiResp.Weather) > 0 {
		condition = apiResp.Weather[0].Main
		if apiResp.Weather[0].Description != "" {
			condition = apiResp.Weather[0].Description
		}
	}

	zone := time.FixedZone("local", apiResp.Timezone)

	return models.CityObservation{
		CityName:     apiResp.Name,
		Country:      apiResp.Sys.Country,
		Temperature:  apiResp.Main.Temp,
		Condition:    condition,
		Humidity:     apiResp.Main.Humidity,
		Pressure:     apiResp.Main.Pressure,
		VisibilityKm: math.Round(float64(apiResp.Visibility)/100) / 10,
		Sunrise:      formatLocalTime(apiResp.Sys.Sunrise, zone),
		Sunset:       formatLocalTime(apiResp.Sys.Sunset, zone),
		Wind:         strconv.FormatFloat(apiResp.Wind.Speed, 'g', -1, 64) + " m/s",
		WindSpeed:    apiResp.Wind.Speed,
		Cloudiness:   apiResp.Clouds.All,
	}
}

// formatLocalTime renders a Unix timestamp as a local time-of-day string,
// e.g. "06:12 AM".
func formatLocalTime(unixSec int64, zone *time.Location) string {
	if unixSec == 0 {
		return ""
	}
	return time.Unix(unixSec, 0).In(zone).Format("03:04 PM")
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey probes the upstream with a well-known city id to confirm the
// key is accepted. Used by the health endpoint.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// 2643743 is London; any stable city id works for the probe.
	req, err := c.buildRequest(ctx, "2643743")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
