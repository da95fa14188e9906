package models

// City is one entry of the static city configuration. Code is the
// OpenWeatherMap city id used in upstream requests, Name the display name
// shown in results.
type City struct {
	Code string `json:"CityCode"`
	Name string `json:"CityName"`
}

// CityObservation is a single city's current weather as mapped from the
// upstream provider. Immutable once constructed by the client.
type CityObservation struct {
	CityName     string  `json:"city"`
	Country      string  `json:"country"`
	Temperature  float64 `json:"temperature"` // Kelvin, as delivered upstream
	Condition    string  `json:"condition"`
	Humidity     int     `json:"humidity"`
	Pressure     int     `json:"pressure"`
	VisibilityKm float64 `json:"visibility"` // kilometers, one decimal
	Sunrise      string  `json:"sunrise"`    // local time of day, e.g. "06:12 AM"
	Sunset       string  `json:"sunset"`
	Wind         string  `json:"wind"` // display string, e.g. "3.6 m/s"
	WindSpeed    float64 `json:"windSpeed"`
	Cloudiness   int     `json:"cloudiness"`
}

// ScoredCity is an observation plus its comfort score and dense rank within
// one pipeline batch. Both fields are assigned exactly once per refresh.
type ScoredCity struct {
	CityObservation
	ComfortScore float64 `json:"comfortScore"`
	Rank         int     `json:"rank"`
}
