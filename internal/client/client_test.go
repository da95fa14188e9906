package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/comfortindex/comfort-dashboard/internal/circuitbreaker"
)

const testAPIKey = "test-api-key-12345"

const sampleResponse = `{
	"main": {"temp": 303.15, "humidity": 78, "pressure": 1009},
	"weather": [{"main": "Rain", "description": "light rain"}],
	"wind": {"speed": 3.6},
	"clouds": {"all": 75},
	"sys": {"country": "LK", "sunrise": 1749960000, "sunset": 1750010000},
	"visibility": 8000,
	"timezone": 19800,
	"name": "Colombo"
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*OpenWeatherClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenWeatherClient(testAPIKey, srv.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c, srv
}

// TestNewOpenWeatherClient_KeyValidation verifies construction rejects
// missing or obviously invalid API keys.
func TestNewOpenWeatherClient_KeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", testAPIKey, false},
		{"empty key", "", true},
		{"short key", "abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOpenWeatherClient(tt.key, "http://example.com", time.Second)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewOpenWeatherClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidAPIKey) {
				t.Errorf("error = %v, want ErrInvalidAPIKey", err)
			}
		})
	}
}

// TestGetCityWeather_RequestShape verifies the upstream request carries the
// city id and API key as query parameters.
func TestGetCityWeather_RequestShape(t *testing.T) {
	var gotID, gotKey string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotID = r.URL.Query().Get("id")
		gotKey = r.URL.Query().Get("appid")
		w.Write([]byte(sampleResponse))
	})

	if _, err := c.GetCityWeather(context.Background(), "1248991"); err != nil {
		t.Fatalf("GetCityWeather() error = %v", err)
	}
	if gotID != "1248991" {
		t.Errorf("id param = %q, want %q", gotID, "1248991")
	}
	if gotKey != testAPIKey {
		t.Errorf("appid param = %q, want %q", gotKey, testAPIKey)
	}
}

// TestGetCityWeather_MapsResponse verifies the full provider payload maps
// into a CityObservation: Kelvin preserved, visibility in km, local sunrise
// and sunset, wind display string, description preferred over main.
func TestGetCityWeather_MapsResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleResponse))
	})

	obs, err := c.GetCityWeather(context.Background(), "1248991")
	if err != nil {
		t.Fatalf("GetCityWeather() error = %v", err)
	}

	if obs.CityName != "Colombo" {
		t.Errorf("CityName = %q, want Colombo", obs.CityName)
	}
	if obs.Country != "LK" {
		t.Errorf("Country = %q, want LK", obs.Country)
	}
	if obs.Temperature != 303.15 {
		t.Errorf("Temperature = %v, want 303.15 (Kelvin preserved)", obs.Temperature)
	}
	if obs.Condition != "light rain" {
		t.Errorf("Condition = %q, want description over main", obs.Condition)
	}
	if obs.Humidity != 78 || obs.Pressure != 1009 || obs.Cloudiness != 75 {
		t.Errorf("Humidity/Pressure/Cloudiness = %d/%d/%d, want 78/1009/75", obs.Humidity, obs.Pressure, obs.Cloudiness)
	}
	if obs.VisibilityKm != 8 {
		t.Errorf("VisibilityKm = %v, want 8", obs.VisibilityKm)
	}
	if obs.WindSpeed != 3.6 {
		t.Errorf("WindSpeed = %v, want 3.6", obs.WindSpeed)
	}
	if obs.Wind != "3.6 m/s" {
		t.Errorf("Wind = %q, want \"3.6 m/s\"", obs.Wind)
	}
	// 1749960000 is 04:00 UTC; +5:30 offset puts sunrise at 09:30 AM local.
	if obs.Sunrise != "09:30 AM" {
		t.Errorf("Sunrise = %q, want \"09:30 AM\"", obs.Sunrise)
	}
	if obs.Sunset != "11:23 PM" {
		t.Errorf("Sunset = %q, want \"11:23 PM\"", obs.Sunset)
	}
}

// TestGetCityWeather_ErrorTaxonomy verifies HTTP statuses map to the client's
// sentinel errors.
func TestGetCityWeather_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey},
		{"not found", http.StatusNotFound, ErrCityNotFound},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrUpstreamFailure},
		{"bad gateway", http.StatusBadGateway, ErrUpstreamFailure},
		{"teapot", http.StatusTeapot, ErrUpstreamFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.GetCityWeather(context.Background(), "1248991")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GetCityWeather() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestGetCityWeather_NoRetry verifies a failing fetch is attempted exactly
// once; failure recovery is the pipeline's job, not the client's.
func TestGetCityWeather_NoRetry(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.GetCityWeather(context.Background(), "1248991")
	if err == nil {
		t.Fatal("GetCityWeather() error = nil, want upstream failure")
	}
	if calls != 1 {
		t.Errorf("upstream called %d times, want exactly 1", calls)
	}
}

// TestGetCityWeather_MalformedJSON verifies a parse failure surfaces as an error.
func TestGetCityWeather_MalformedJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})

	if _, err := c.GetCityWeather(context.Background(), "1248991"); err == nil {
		t.Error("GetCityWeather() error = nil, want parse error")
	}
}

// TestGetCityWeather_CorrelationIDPropagated verifies the request forwards
// the correlation id from context.
func TestGetCityWeather_CorrelationIDPropagated(t *testing.T) {
	var gotHeader string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Correlation-ID")
		w.Write([]byte(sampleResponse))
	})

	ctx := context.WithValue(context.Background(), "correlation_id", "corr-123")
	if _, err := c.GetCityWeather(ctx, "1248991"); err != nil {
		t.Fatalf("GetCityWeather() error = %v", err)
	}
	if gotHeader != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", gotHeader)
	}
}

// TestGetCityWeather_CircuitBreakerOpen verifies an open circuit fails fast
// with ErrUpstreamFailure and without hitting the upstream.
func TestGetCityWeather_CircuitBreakerOpen(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 1,
		CoolOff:          time.Hour,
	}))

	// First call trips the breaker.
	if _, err := c.GetCityWeather(context.Background(), "1248991"); err == nil {
		t.Fatal("first GetCityWeather() error = nil, want failure")
	}

	_, err := c.GetCityWeather(context.Background(), "1248991")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("GetCityWeather() with open circuit error = %v, want ErrUpstreamFailure", err)
	}
	if calls != 1 {
		t.Errorf("upstream called %d times, want 1 (open circuit fails fast)", calls)
	}
}

// TestValidateAPIKey verifies the probe result for accepted and rejected keys.
func TestValidateAPIKey(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(sampleResponse))
		})
		if err := c.ValidateAPIKey(context.Background()); err != nil {
			t.Errorf("ValidateAPIKey() error = %v, want nil", err)
		}
	})
	t.Run("rejected", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		err := c.ValidateAPIKey(context.Background())
		if !errors.Is(err, ErrInvalidAPIKey) {
			t.Errorf("ValidateAPIKey() error = %v, want ErrInvalidAPIKey", err)
		}
	})
}
