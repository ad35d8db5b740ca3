package integrations

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"linkit/pkg/httpclient"
)

// WeatherClient fetches current temperature for geographic coordinates.
type WeatherClient interface {
	GetTemperature(ctx context.Context, lat, lon float64) (float64, error)
}

// OpenMeteoClient calls the Open-Meteo public weather API.
type OpenMeteoClient struct {
	client *httpclient.Client
}

// NewOpenMeteoClient returns a client for the Open-Meteo API rooted at baseURL.
func NewOpenMeteoClient(baseURL string) *OpenMeteoClient {
	return &OpenMeteoClient{
		client: httpclient.New(httpclient.SetBaseURL(baseURL)),
	}
}

// openMeteoResponse is the relevant subset of the Open-Meteo API response.
type openMeteoResponse struct {
	CurrentWeather struct {
		Temperature *float64 `json:"temperature"`
	} `json:"current_weather"`
}

// GetTemperature fetches the current temperature in Celsius for the given coordinates.
func (c *OpenMeteoClient) GetTemperature(ctx context.Context, lat, lon float64) (float64, error) {
	var result openMeteoResponse
	_, err := c.client.Get("/v1/forecast",
		httpclient.SetContext(ctx),
		httpclient.SetQueryParams(map[string]string{
			"latitude":        strconv.FormatFloat(lat, 'f', 4, 64),
			"longitude":       strconv.FormatFloat(lon, 'f', 4, 64),
			"current_weather": "true",
		}),
		httpclient.SetResult(&result),
	)
	if err != nil {
		return 0, fmt.Errorf("weather API request failed: %w", err)
	}
	if result.CurrentWeather.Temperature == nil {
		return 0, fmt.Errorf("weather API returned no current temperature")
	}
	return *result.CurrentWeather.Temperature, nil
}

// Comparison operators accepted by checkTemperature.
const (
	OpGreaterThan        = "greater_than"
	OpLessThan           = "less_than"
	OpEquals             = "equals"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThanOrEqual    = "less_than_or_equal"
)

// evaluateCondition compares temperature against threshold using the given operator.
// Both values are rounded to 1 decimal place to avoid floating-point precision issues.
func evaluateCondition(temperature float64, operator string, threshold float64) (bool, error) {
	t := math.Round(temperature*10) / 10
	th := math.Round(threshold*10) / 10

	switch operator {
	case OpGreaterThan:
		return t > th, nil
	case OpLessThan:
		return t < th, nil
	case OpEquals:
		return t == th, nil
	case OpGreaterThanOrEqual:
		return t >= th, nil
	case OpLessThanOrEqual:
		return t <= th, nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func operatorSymbol(op string) string {
	switch op {
	case OpGreaterThan:
		return ">"
	case OpLessThan:
		return "<"
	case OpEquals:
		return "="
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThanOrEqual:
		return "<="
	default:
		return "?"
	}
}
