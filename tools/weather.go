package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type WeatherInput struct {
	City string `json:"city" jsonschema_description:"Name of the city, for example Lahore."`
}

const defaultTemperature = "28C"

var cityTemperatures = map[string]string{
	"lahore":    "30C",
	"karachi":   "33C",
	"islamabad": "27C",
}

var WeatherDefinition = ToolDefinition{
	Name:        "get_weather",
	Description: "Get the current temperature for a city. Returns a value such as 30C.",
	InputSchema: WeatherInputSchema,
	Function:    GetWeather,
}

var WeatherInputSchema = GenerateSchema[WeatherInput]()

// GetWeather looks the city up case-insensitively; unknown cities get the
// default reading.
func GetWeather(_ context.Context, input json.RawMessage) (string, error) {
	var in WeatherInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToolArguments, err)
	}
	if t, ok := cityTemperatures[strings.ToLower(strings.TrimSpace(in.City))]; ok {
		return t, nil
	}
	return defaultTemperature, nil
}
