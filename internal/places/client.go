// Package places talks to the Google Geocoding and Places (New) text search
// APIs used by discovery.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/outreach-pipeline/internal/apiclient"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
)

const (
	apiName           = "places"
	defaultSearchURL  = "https://places.googleapis.com/v1/places:searchText"
	defaultGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"
	maxBiasRadius     = 50000.0
	maxPageSize       = 20
)

var fieldMask = strings.Join([]string{
	"places.id",
	"places.displayName",
	"places.formattedAddress",
	"places.location",
	"places.websiteUri",
	"places.nationalPhoneNumber",
	"places.rating",
	"places.userRatingCount",
	"places.businessStatus",
	"places.types",
	"nextPageToken",
}, ",")

// Config controls the places client.
type Config struct {
	APIKey     string
	SearchURL  string
	GeocodeURL string
	Timeout    time.Duration
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lng float64
}

// Place is one normalized search result.
type Place struct {
	ID             string
	Name           string
	Address        string
	Location       Coordinates
	Website        string
	Phone          string
	Rating         float64
	ReviewCount    int
	BusinessStatus string
	Types          []string
}

// PermanentlyClosed reports whether the listing is marked closed for good.
func (p Place) PermanentlyClosed() bool {
	return p.BusinessStatus == "CLOSED_PERMANENTLY"
}

// SearchRequest is one page request.
type SearchRequest struct {
	TextQuery    string
	Center       Coordinates
	RadiusMeters float64
	PageSize     int
	PageToken    string
}

// Page is one page of results; an empty NextPageToken means results are exhausted.
type Page struct {
	Places        []Place
	NextPageToken string
}

// Client calls the Google APIs.
type Client struct {
	cfg Config
	api *apiclient.Client
}

// New builds a Client.
func New(cfg Config, limiter apiclient.Waiter) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.Missing("places.api_key")
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = defaultGeocodeURL
	}
	return &Client{cfg: cfg, api: apiclient.New(apiName, cfg.Timeout, limiter)}, nil
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves a free-form location to coordinates. Unknown locations
// return apperr.ErrInvalidLocation.
func (c *Client) Geocode(ctx context.Context, location string) (Coordinates, error) {
	u, err := url.Parse(c.cfg.GeocodeURL)
	if err != nil {
		return Coordinates{}, fmt.Errorf("parse geocode url: %w", err)
	}
	q := u.Query()
	q.Set("address", location)
	q.Set("key", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("build geocode request: %w", err)
	}
	var resp geocodeResponse
	if err := c.api.Do(ctx, "geocode", req, &resp); err != nil {
		if apperr.IsValidation(err) {
			return Coordinates{}, fmt.Errorf("%w: %q: %w", apperr.ErrInvalidLocation, location, err)
		}
		return Coordinates{}, err
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS", "INVALID_REQUEST":
		return Coordinates{}, fmt.Errorf("%w: %q", apperr.ErrInvalidLocation, location)
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT", "UNKNOWN_ERROR":
		return Coordinates{}, &apperr.TransientError{API: apiName, Op: "geocode", Err: errors.New(resp.Status)}
	case "REQUEST_DENIED":
		return Coordinates{}, &apperr.ConfigurationError{Field: "places.api_key", Reason: "rejected: " + resp.ErrorMessage}
	default:
		return Coordinates{}, apperr.Invalid("geocode status", resp.Status, resp.ErrorMessage)
	}
	if len(resp.Results) == 0 {
		return Coordinates{}, fmt.Errorf("%w: %q", apperr.ErrInvalidLocation, location)
	}
	loc := resp.Results[0].Geometry.Location
	return Coordinates{Lat: loc.Lat, Lng: loc.Lng}, nil
}

type searchBody struct {
	TextQuery    string        `json:"textQuery"`
	PageSize     int           `json:"pageSize,omitempty"`
	PageToken    string        `json:"pageToken,omitempty"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type searchResponse struct {
	Places []struct {
		ID          string `json:"id"`
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress    string   `json:"formattedAddress"`
		Location            latLng   `json:"location"`
		WebsiteURI          string   `json:"websiteUri"`
		NationalPhoneNumber string   `json:"nationalPhoneNumber"`
		Rating              float64  `json:"rating"`
		UserRatingCount     int      `json:"userRatingCount"`
		BusinessStatus      string   `json:"businessStatus"`
		Types               []string `json:"types"`
	} `json:"places"`
	NextPageToken string `json:"nextPageToken"`
}

// Search fetches one page of text-search results biased to a circle.
func (c *Client) Search(ctx context.Context, sr SearchRequest) (Page, error) {
	size := sr.PageSize
	if size <= 0 || size > maxPageSize {
		size = maxPageSize
	}
	radius := sr.RadiusMeters
	if radius > maxBiasRadius {
		radius = maxBiasRadius
	}
	body := searchBody{
		TextQuery: sr.TextQuery,
		PageSize:  size,
		PageToken: sr.PageToken,
		LocationBias: &locationBias{Circle: circle{
			Center: latLng{Latitude: sr.Center.Lat, Longitude: sr.Center.Lng},
			Radius: radius,
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Page{}, fmt.Errorf("marshal search body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SearchURL, bytes.NewReader(payload))
	if err != nil {
		return Page{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.cfg.APIKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	var resp searchResponse
	if err := c.api.Do(ctx, "search", req, &resp); err != nil {
		return Page{}, err
	}
	page := Page{NextPageToken: resp.NextPageToken, Places: make([]Place, 0, len(resp.Places))}
	for _, p := range resp.Places {
		page.Places = append(page.Places, Place{
			ID:             p.ID,
			Name:           strings.TrimSpace(p.DisplayName.Text),
			Address:        strings.TrimSpace(p.FormattedAddress),
			Location:       Coordinates{Lat: p.Location.Latitude, Lng: p.Location.Longitude},
			Website:        strings.TrimSpace(p.WebsiteURI),
			Phone:          CleanPhone(p.NationalPhoneNumber),
			Rating:         p.Rating,
			ReviewCount:    p.UserRatingCount,
			BusinessStatus: p.BusinessStatus,
			Types:          p.Types,
		})
	}
	return page, nil
}

// CleanPhone formats ten-digit North American numbers as (XXX) XXX-XXXX and
// leaves anything else trimmed but untouched.
func CleanPhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return strings.TrimSpace(raw)
	}
	return fmt.Sprintf("(%s) %s-%s", d[:3], d[3:6], d[6:])
}
