package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "https://www.elprisetjustnu.se/api/v1/prices"

// Client fetches spot prices from the elprisetjustnu.se day-table API.
// The API serves one JSON document per zone and day with hourly entries;
// the current price is the entry whose interval contains now.
type Client struct {
	HTTP     *http.Client
	BaseURL  string
	Location *time.Location
	Now      func() time.Time
}

type dayEntry struct {
	SEKPerKWh float64 `json:"SEK_per_kWh"`
	EURPerKWh float64 `json:"EUR_per_kWh"`
	TimeStart string  `json:"time_start"`
	TimeEnd   string  `json:"time_end"`
}

// NewClient returns a Client with production defaults. Prices are resolved in
// Europe/Stockholm; if tzdata is unavailable UTC is used.
func NewClient() *Client {
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		loc = time.UTC
	}
	return &Client{
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		BaseURL:  defaultBaseURL,
		Location: loc,
		Now:      time.Now,
	}
}

func (c *Client) url(day time.Time, zone Zone) string {
	return fmt.Sprintf("%s/%d/%02d-%02d_%s.json", c.BaseURL, day.Year(), int(day.Month()), day.Day(), zone)
}

// Fetch downloads the zone's day table and returns the price valid right now.
func (c *Client) Fetch(ctx context.Context, zone Zone) (Sample, error) {
	if !zone.Valid() {
		return Sample{}, fmt.Errorf("fetch price: unknown zone %q", zone)
	}
	now := c.Now().In(c.Location)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(now, zone), nil)
	if err != nil {
		return Sample{}, fmt.Errorf("fetch price %s: %w", zone, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("fetch price %s: %w", zone, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("fetch price %s: unexpected status %d", zone, resp.StatusCode)
	}

	var entries []dayEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return Sample{}, fmt.Errorf("fetch price %s: decode day table: %w", zone, err)
	}

	for _, e := range entries {
		start, err := time.Parse(time.RFC3339, e.TimeStart)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, e.TimeEnd)
		if err != nil {
			continue
		}
		if !now.Before(start) && now.Before(end) {
			return Sample{Zone: zone, Value: e.SEKPerKWh, ObservedAt: now}, nil
		}
	}
	return Sample{}, fmt.Errorf("fetch price %s: %w", zone, ErrNoCurrentHour)
}
