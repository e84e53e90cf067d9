// Package directory resolves booking ownership against the booking service.
// The hub consults it before granting subscriptions and before relaying
// chat, so failures here must stay distinguishable from denials.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client looks bookings up over the booking service's internal HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a directory client for the booking service at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "directory").Logger(),
	}
}

type partiesResponse struct {
	Parties []string `json:"parties"`
}

// IsPartyToBooking reports whether identity is the customer or the assigned
// driver of the booking. An unknown booking is a plain denial; transport and
// server errors are returned so callers do not mistake an outage for a
// denial.
func (c *Client) IsPartyToBooking(ctx context.Context, identity string, bookingID int64) (bool, error) {
	url := fmt.Sprintf("%s/internal/bookings/%d/parties", c.baseURL, bookingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build parties request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("booking %d parties lookup: %w", bookingID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("booking %d parties lookup: unexpected status %d", bookingID, resp.StatusCode)
	}

	var parties partiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parties); err != nil {
		return false, fmt.Errorf("booking %d parties decode: %w", bookingID, err)
	}

	for _, party := range parties.Parties {
		if party == identity {
			return true, nil
		}
	}
	return false, nil
}

// AllowAll grants every identity access to every booking. Development and
// load testing only.
type AllowAll struct{}

func (AllowAll) IsPartyToBooking(context.Context, string, int64) (bool, error) {
	return true, nil
}
