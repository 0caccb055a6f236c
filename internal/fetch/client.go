package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/internal/store"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// Mirror persists accepted snapshots outside the process so a restart can warm
// the store without refetching.
type Mirror interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
}

// RefreshPublisher announces accepted refreshes to the fleet.
type RefreshPublisher interface {
	PublishRefreshed(role models.Role, snap *models.Snapshot)
}

// Client fetches one day's price curve from the chart-data endpoint, validates
// it, installs the accepted snapshot and renders it. It implements the refresh
// coordinator's Fetcher contract.
type Client struct {
	baseURL   string
	margin    float64
	client    *http.Client
	store     *store.Store
	reg       *registry.Registry
	mirror    Mirror
	publisher RefreshPublisher
	logger    *logrus.Entry
}

// New creates a client. mirror and publisher may be nil.
func New(baseURL string, margin float64, st *store.Store, reg *registry.Registry, mirror Mirror, publisher RefreshPublisher, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		margin:    margin,
		client:    &http.Client{Timeout: 30 * time.Second},
		store:     st,
		reg:       reg,
		mirror:    mirror,
		publisher: publisher,
		logger:    logger.WithField("component", "fetch"),
	}
}

// chartPayload is the chart-data wire format. Rows arrive as untyped arrays
// because upstream mixes numbers, numeric strings and nulls.
type chartPayload struct {
	Data        [][]interface{} `json:"data"`
	MaxPrice    float64         `json:"maxPrice"`
	MinPrice    float64         `json:"minPrice"`
	Granularity string          `json:"granularity"`
	DateISO     string          `json:"dateIso"`
	Error       string          `json:"error,omitempty"`
}

// FetchDay retrieves, validates and installs the price curve for one role and
// date. A payload below the row-validity threshold is rejected wholesale: a
// partially garbled day must not replace a good one.
func (c *Client) FetchDay(ctx context.Context, role models.Role, date string) error {
	payload, err := c.fetch(ctx, date)
	if err != nil {
		return err
	}
	if payload.Error != "" {
		return fmt.Errorf("upstream reported %q for %s", payload.Error, date)
	}
	if payload.DateISO != "" && payload.DateISO != date {
		return fmt.Errorf("upstream returned date %s, wanted %s", payload.DateISO, date)
	}

	rows, valid, total := models.BuildRows(payload.Data)
	if !models.RowsAcceptable(valid, total) {
		return fmt.Errorf("rejected day %s: %d/%d rows valid", date, valid, total)
	}
	if valid < total {
		c.logger.WithFields(logrus.Fields{
			"date":  date,
			"valid": valid,
			"total": total,
		}).Warn("Accepted day with invalid rows")
	}

	gran := models.GranularityHourly
	if payload.Granularity == string(models.GranularityQuarterHour) {
		gran = models.GranularityQuarterHour
	}

	snap := &models.Snapshot{
		Role:        role,
		Date:        date,
		Rows:        rows,
		Granularity: gran,
		PriceRange:  models.PriceRange{Min: payload.MinPrice, Max: payload.MaxPrice},
	}
	c.store.Set(snap)

	if c.mirror != nil {
		if err := c.mirror.SaveSnapshot(ctx, snap); err != nil {
			c.logger.WithError(err).WithField("role", role).Warn("Failed to mirror snapshot")
		}
	}
	if r := c.reg.RendererFor(registry.RoleOwner(role)); r != nil {
		if err := r.Render(snap); err != nil {
			c.logger.WithError(err).WithField("role", role).Warn("Failed to render snapshot")
		}
	}
	if c.publisher != nil {
		c.publisher.PublishRefreshed(role, snap)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, date string) (*chartPayload, error) {
	u := c.baseURL + "/api/chart-data?" + url.Values{
		"date_str": {date},
		"margin":   {strconv.FormatFloat(c.margin, 'f', -1, 64)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build chart request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read chart response: %w", err)
	}
	var payload chartPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode chart response: %w", err)
	}
	return &payload, nil
}
