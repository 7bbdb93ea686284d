package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/daybook-ai/calendar-assistant/internal/model"
	"github.com/daybook-ai/calendar-assistant/pkg/metrics"
)

// searchPageSize is the per-calendar page requested from the backend. One
// extra row beyond the reply page size lets HasMore be derived server-side.
const searchPageSize = 50

// ClientConfig configures the HTTP calendar backend client.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is the Service implementation talking to the calendar REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a calendar API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

type eventPage struct {
	Events  []Event `json:"events"`
	HasMore bool    `json:"has_more"`
}

type calendarEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Writable    bool   `json:"writable"`
}

// Search implements Service.
func (c *Client) Search(ctx context.Context, calendarID string, timeMin, timeMax time.Time, keyword string) (*SearchResult, error) {
	q := url.Values{}
	q.Set("time_min", timeMin.Format(time.RFC3339))
	q.Set("time_max", timeMax.Format(time.RFC3339))
	q.Set("max_results", strconv.Itoa(searchPageSize))
	if keyword != "" {
		q.Set("q", keyword)
	}

	var page eventPage
	err := c.call(ctx, "search", http.MethodGet,
		fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(calendarID), q.Encode()),
		nil, &page)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Events: page.Events, HasMore: page.HasMore}, nil
}

// FindInRange implements Service.
func (c *Client) FindInRange(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("time_min", start.Format(time.RFC3339))
	q.Set("time_max", end.Format(time.RFC3339))
	q.Set("max_results", strconv.Itoa(searchPageSize))

	var page eventPage
	err := c.call(ctx, "find_in_range", http.MethodGet,
		fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(calendarID), q.Encode()),
		nil, &page)
	if err != nil {
		return nil, err
	}
	return page.Events, nil
}

// Create implements Service.
func (c *Client) Create(ctx context.Context, calendarID string, ev model.CandidateEvent) (*Event, error) {
	var created Event
	err := c.call(ctx, "create", http.MethodPost,
		fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID)),
		ev, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Update implements Service.
func (c *Client) Update(ctx context.Context, calendarID, eventID string, patch model.EventPatch) (*Event, error) {
	var updated Event
	err := c.call(ctx, "update", http.MethodPatch,
		fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID)),
		patch, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete implements Service.
func (c *Client) Delete(ctx context.Context, calendarID, eventID string) error {
	return c.call(ctx, "delete", http.MethodDelete,
		fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID)),
		nil, nil)
}

// ListEligibleCalendars implements Service, filtering to writable calendars.
func (c *Client) ListEligibleCalendars(ctx context.Context) ([]Calendar, error) {
	var entries []calendarEntry
	if err := c.call(ctx, "list_calendars", http.MethodGet, "/calendars", nil, &entries); err != nil {
		return nil, err
	}
	cals := make([]Calendar, 0, len(entries))
	for _, e := range entries {
		if !e.Writable {
			continue
		}
		cals = append(cals, Calendar{ID: e.ID, DisplayName: e.DisplayName})
	}
	return cals, nil
}

// call issues one API request and decodes the response into out when non-nil.
func (c *Client) call(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.CalendarCallsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("calendar %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.CalendarCallsTotal.WithLabelValues(op, "error").Inc()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("calendar %s: status %d: %s", op, resp.StatusCode, string(data))
	}
	metrics.CalendarCallsTotal.WithLabelValues(op, "ok").Inc()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
