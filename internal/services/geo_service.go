package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/EllisVaughan/bastion/internal/risk"
)

// UnknownLocation is recorded when reverse geocoding is unavailable or
// fails. Resolution never blocks a login.
const UnknownLocation = "Unknown"

// GeoResolver turns coordinates into a human-readable place name for the
// context log and alert emails.
type GeoResolver interface {
	ResolveLocationName(ctx context.Context, coords risk.Coordinates) string
}

// HTTPGeoResolver resolves location names through a reverse geocoding API
type HTTPGeoResolver struct {
	client   *http.Client
	endpoint string
	logger   *slog.Logger
}

// NewHTTPGeoResolver creates a resolver against the given reverse geocoding
// endpoint
func NewHTTPGeoResolver(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPGeoResolver {
	return &HTTPGeoResolver{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		logger:   logger,
	}
}

type geocodeResponse struct {
	City                 string `json:"city"`
	Locality             string `json:"locality"`
	PrincipalSubdivision string `json:"principalSubdivision"`
	CountryName          string `json:"countryName"`
}

// ResolveLocationName calls the reverse geocoding endpoint and composes a
// "Locality, Country" name. Any failure degrades to UnknownLocation.
func (r *HTTPGeoResolver) ResolveLocationName(ctx context.Context, coords risk.Coordinates) string {
	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%f", coords.Lat))
	query.Set("longitude", fmt.Sprintf("%f", coords.Lon))
	query.Set("localityLanguage", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		r.logger.Error("failed to build geocode request", slog.Any("error", err))
		return UnknownLocation
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("reverse geocoding unavailable", slog.Any("error", err))
		return UnknownLocation
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("reverse geocoding returned non-200",
			slog.Int("status", resp.StatusCode))
		return UnknownLocation
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		r.logger.Warn("failed to decode geocode response", slog.Any("error", err))
		return UnknownLocation
	}

	locality := body.City
	if locality == "" {
		locality = body.Locality
	}
	if locality == "" {
		locality = body.PrincipalSubdivision
	}

	switch {
	case locality != "" && body.CountryName != "":
		return locality + ", " + body.CountryName
	case body.CountryName != "":
		return body.CountryName
	case locality != "":
		return locality
	default:
		return UnknownLocation
	}
}

// NoopGeoResolver is used when reverse geocoding is disabled
type NoopGeoResolver struct{}

func NewNoopGeoResolver() *NoopGeoResolver {
	return &NoopGeoResolver{}
}

func (r *NoopGeoResolver) ResolveLocationName(ctx context.Context, coords risk.Coordinates) string {
	return UnknownLocation
}
