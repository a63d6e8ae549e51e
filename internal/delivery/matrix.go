package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/harborlane/storefront-api/internal/resilience"
)

// RouteEstimate is a driving distance and duration between two points.
type RouteEstimate struct {
	Miles   float64
	Minutes float64
}

// RouteMatrix models the mapping service that prices long-range deliveries.
type RouteMatrix interface {
	Route(ctx context.Context, origin, dest Coord) (RouteEstimate, error)
}

// MatrixClient fetches driving estimates from the mapping provider's
// distance-matrix endpoint.
type MatrixClient struct {
	BaseURL string
	APIKey  string
	HTTP    resilience.HTTPClient
}

type matrixResponse struct {
	Rows []struct {
		Elements []struct {
			Status         string  `json:"status"`
			DistanceMeters float64 `json:"distance_meters"`
			DurationSec    float64 `json:"duration_seconds"`
		} `json:"elements"`
	} `json:"rows"`
}

const metersPerMile = 1609.344

// Route returns the driving distance in miles and duration in minutes for
// the origin/destination pair.
func (c *MatrixClient) Route(ctx context.Context, origin, dest Coord) (RouteEstimate, error) {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return RouteEstimate{}, errors.New("matrix client not configured")
	}
	q := url.Values{}
	q.Set("origins", fmt.Sprintf("%f,%f", origin.Lat, origin.Lng))
	q.Set("destinations", fmt.Sprintf("%f,%f", dest.Lat, dest.Lng))
	q.Set("key", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.BaseURL, "/")+"/distancematrix?"+q.Encode(), nil)
	if err != nil {
		return RouteEstimate{}, err
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return RouteEstimate{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return RouteEstimate{}, fmt.Errorf("matrix: unexpected status %s", resp.Status)
	}
	var out matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RouteEstimate{}, err
	}
	if len(out.Rows) == 0 || len(out.Rows[0].Elements) == 0 {
		return RouteEstimate{}, errors.New("matrix: empty response")
	}
	el := out.Rows[0].Elements[0]
	if el.Status != "" && !strings.EqualFold(el.Status, "ok") {
		return RouteEstimate{}, fmt.Errorf("matrix: element status %s", el.Status)
	}
	return RouteEstimate{
		Miles:   el.DistanceMeters / metersPerMile,
		Minutes: el.DurationSec / 60,
	}, nil
}
