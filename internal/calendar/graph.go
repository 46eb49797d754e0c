// Package calendar provides the Microsoft Graph implementation of Provider.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/PolicyPal/internal/models"
)

// requestTimeout bounds every Graph round trip. A timeout is surfaced as a
// regular collaborator failure.
const requestTimeout = 15 * time.Second

// DefaultGraphBaseURL is the production Graph endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// TokenSource supplies a bearer token for Graph requests.
type TokenSource func(ctx context.Context) (string, error)

// GraphClient implements Provider against the Microsoft Graph REST API.
type GraphClient struct {
	baseURL string
	http    *http.Client
	token   TokenSource
	now     func() time.Time
}

// NewGraphClient creates a GraphClient. baseURL may be empty to use the
// production endpoint; tests point it at a local server.
func NewGraphClient(baseURL string, token TokenSource) *GraphClient {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &GraphClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		token:   token,
		now:     time.Now,
	}
}

// graphEvent is the subset of a Graph calendar event we read.
type graphEvent struct {
	Start graphDateTime `json:"start"`
	End   graphDateTime `json:"end"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type calendarViewResponse struct {
	Value []graphEvent `json:"value"`
}

type mailboxSettingsResponse struct {
	TimeZone string `json:"timeZone"`
}

type createEventResponse struct {
	ID string `json:"id"`
}

// GetAvailableSlots fetches the mailbox calendar view for the lookahead
// window and computes free business-hour slots in the given timezone.
func (c *GraphClient) GetAvailableSlots(ctx context.Context, mailboxID string, daysAhead int, timezone string) ([]models.AvailableSlot, error) {
	if daysAhead <= 0 {
		daysAhead = DefaultDaysAhead
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	now := c.now()
	windowEnd := now.AddDate(0, 0, daysAhead)
	query := url.Values{}
	query.Set("startDateTime", now.UTC().Format(time.RFC3339))
	query.Set("endDateTime", windowEnd.UTC().Format(time.RFC3339))
	query.Set("$top", "200")

	var view calendarViewResponse
	path := fmt.Sprintf("/users/%s/calendarView?%s", url.PathEscape(mailboxID), query.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &view); err != nil {
		return nil, fmt.Errorf("calendar view lookup failed: %w", err)
	}

	busy := make([]Interval, 0, len(view.Value))
	for _, ev := range view.Value {
		start, err1 := parseGraphTime(ev.Start)
		end, err2 := parseGraphTime(ev.End)
		if err1 != nil || err2 != nil {
			slog.Warn("calendar: skipping event with unparseable time", "start", ev.Start.DateTime, "end", ev.End.DateTime)
			continue
		}
		busy = append(busy, Interval{Start: start, End: end})
	}

	slots := ComputeFreeSlots(now, daysAhead, busy, loc)
	if len(slots) == 0 {
		return nil, models.ErrNoSlotsAvailable
	}
	slog.Debug("calendar: computed free slots", "mailboxID", mailboxID, "busy", len(busy), "free", len(slots))
	return slots, nil
}

// BookEvent creates the event with a fixed-offset reminder.
func (c *GraphClient) BookEvent(ctx context.Context, mailboxID string, details BookingDetails) (*BookingResult, error) {
	reminder := details.ReminderMinutes
	if reminder <= 0 {
		reminder = DefaultReminderMinutes
	}

	payload := map[string]any{
		"subject": details.Subject,
		"start": map[string]string{
			"dateTime": details.Start.Format("2006-01-02T15:04:05"),
			"timeZone": details.Timezone,
		},
		"end": map[string]string{
			"dateTime": details.End.Format("2006-01-02T15:04:05"),
			"timeZone": details.Timezone,
		},
		"isReminderOn":              true,
		"reminderMinutesBeforeStart": reminder,
	}

	var created createEventResponse
	path := fmt.Sprintf("/users/%s/events", url.PathEscape(mailboxID))
	if err := c.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return nil, fmt.Errorf("event creation failed: %w", err)
	}

	slog.Info("calendar: event booked", "mailboxID", mailboxID, "eventID", created.ID, "start", details.Start)
	return &BookingResult{EventID: created.ID}, nil
}

// GetMailboxTimezone reads the mailbox-settings timezone.
func (c *GraphClient) GetMailboxTimezone(ctx context.Context, mailboxID string) (string, error) {
	var settings mailboxSettingsResponse
	path := fmt.Sprintf("/users/%s/mailboxSettings", url.PathEscape(mailboxID))
	if err := c.do(ctx, http.MethodGet, path, nil, &settings); err != nil {
		return "", fmt.Errorf("mailbox settings lookup failed: %w", err)
	}
	return settings.TimeZone, nil
}

// do executes one authenticated Graph request and decodes the JSON response.
func (c *GraphClient) do(ctx context.Context, method, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tok, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph returned status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseGraphTime parses a Graph dateTime + timeZone pair.
func parseGraphTime(dt graphDateTime) (time.Time, error) {
	loc := time.UTC
	if dt.TimeZone != "" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	// Graph omits the offset from dateTime; it is relative to timeZone.
	t, err := time.ParseInLocation("2006-01-02T15:04:05.9999999", dt.DateTime, loc)
	if err != nil {
		t, err = time.ParseInLocation("2006-01-02T15:04:05", dt.DateTime, loc)
	}
	return t, err
}
