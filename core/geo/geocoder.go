// Package geo resolves incident coordinates to a human-readable address at
// report time. Lookup failure never fails incident creation; callers get a
// coordinate-pair fallback instead.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"rahat-ems/config"
	"rahat-ems/core/utils"
)

type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// NominatimClient queries an OpenStreetMap Nominatim reverse endpoint.
type NominatimClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	logger    *utils.Logger
}

func NewNominatimClient(cfg config.GeocoderConfig, logger *utils.Logger) *NominatimClient {
	return &NominatimClient{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		HouseNumber   string `json:"house_number"`
		Road          string `json:"road"`
		Neighbourhood string `json:"neighbourhood"`
		Suburb        string `json:"suburb"`
		City          string `json:"city"`
		Town          string `json:"town"`
		State         string `json:"state"`
		Country       string `json:"country"`
	} `json:"address"`
}

func (c *NominatimClient) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lon", fmt.Sprintf("%f", lon))
	params.Set("format", "json")
	params.Set("accept-language", "en")
	params.Set("zoom", "18")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("geocoder status %d", resp.StatusCode)
	}
	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if addr := formatAddress(body); addr != "" {
		return addr, nil
	}
	if body.DisplayName != "" {
		return body.DisplayName, nil
	}
	return "", fmt.Errorf("empty geocoder response")
}

func formatAddress(body nominatimResponse) string {
	a := body.Address
	var parts []string
	for _, part := range []string{a.HouseNumber, a.Road, a.Neighbourhood, a.Suburb, a.City, a.Town, a.State, a.Country} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

// FallbackAddress is used whenever the geocoder is unavailable.
func FallbackAddress(lat, lon float64) string {
	return fmt.Sprintf("%.5f, %.5f", lat, lon)
}
