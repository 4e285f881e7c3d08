package route

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

const DefaultMapboxBaseURL = "https://api.mapbox.com"

// MapboxClient calls the Mapbox Optimization API v1.
type MapboxClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewMapboxClient(baseURL, token string) *MapboxClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultMapboxBaseURL
	}
	return &MapboxClient{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type mapboxResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Waypoints []struct {
		WaypointIndex int `json:"waypoint_index"`
		TripsIndex    int `json:"trips_index"`
	} `json:"waypoints"`
	Trips []struct {
		Distance float64         `json:"distance"`
		Duration float64         `json:"duration"`
		Geometry json.RawMessage `json:"geometry"`
	} `json:"trips"`
}

func (c *MapboxClient) Optimize(ctx context.Context, profile string, coords []Coordinate) (Trip, error) {
	if c.token == "" {
		return Trip{}, fmt.Errorf("mapbox access token is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(profile, coords), nil)
	if err != nil {
		return Trip{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Trip{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Trip{}, err
	}
	var decoded mapboxResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil && resp.StatusCode < 300 {
			return Trip{}, fmt.Errorf("decode mapbox response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		return Trip{}, fmt.Errorf("mapbox optimization returned %s: %s", resp.Status, decoded.Message)
	}
	if decoded.Code != "Ok" {
		return Trip{}, fmt.Errorf("mapbox optimization code %q: %s", decoded.Code, decoded.Message)
	}
	if len(decoded.Trips) == 0 {
		return Trip{}, fmt.Errorf("mapbox optimization returned no trips")
	}
	trip := Trip{
		Order:    make([]int, len(decoded.Waypoints)),
		Distance: decoded.Trips[0].Distance,
		Duration: decoded.Trips[0].Duration,
		Geometry: decoded.Trips[0].Geometry,
	}
	for i, w := range decoded.Waypoints {
		trip.Order[i] = w.WaypointIndex
	}
	return trip, nil
}

func (c *MapboxClient) requestURL(profile string, coords []Coordinate) string {
	if profile == "" {
		profile = DefaultProfile
	}
	parts := make([]string, len(coords))
	for i, p := range coords {
		parts[i] = strconv.FormatFloat(p.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
	}
	q := url.Values{}
	q.Set("access_token", c.token)
	q.Set("geometries", "geojson")
	q.Set("source", "first")
	return fmt.Sprintf("%s/optimized-trips/v1/mapbox/%s/%s?%s",
		c.baseURL, url.PathEscape(profile), strings.Join(parts, ";"), q.Encode())
}
