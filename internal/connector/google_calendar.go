package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
)

const (
	googleCalendarBaseURL  = "https://www.googleapis.com"
	googleCalendarPageSize = 100
	googleInitialWindow    = 30 * 24 * time.Hour
	googleEventsPath       = "/calendar/v3/calendars/primary/events"
)

// GoogleCalendar ingests primary calendar events.
// The first run lists a 30 day window; later runs follow the sync token.
type GoogleCalendar struct {
	client   *apiClient
	schema   *itemSchema
	pageSize int
	now      func() time.Time
}

// NewGoogleCalendar creates the Google Calendar connector
func NewGoogleCalendar(opts Options) *GoogleCalendar {
	return &GoogleCalendar{
		client:   newAPIClient(domain.ProviderGoogleCalendar, googleCalendarBaseURL, opts),
		schema:   mustItemSchema(domain.ProviderGoogleCalendar, "google_event.json"),
		pageSize: opts.pageSize(googleCalendarPageSize),
		now:      opts.now,
	}
}

func (g *GoogleCalendar) Provider() domain.Provider { return domain.ProviderGoogleCalendar }

func (g *GoogleCalendar) Dataset() domain.Dataset { return domain.DatasetEvents }

type googleCursor struct {
	PageToken string `json:"page_token,omitempty"`
	SyncToken string `json:"sync_token,omitempty"`
	TimeMin   string `json:"time_min,omitempty"`
}

func parseGoogleCursor(cursor string) googleCursor {
	var c googleCursor
	if cursor == "" || json.Unmarshal([]byte(cursor), &c) != nil {
		return googleCursor{}
	}
	return c
}

func (c googleCursor) encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

type googleEventList struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
	NextSyncToken string            `json:"nextSyncToken"`
}

// Fetch returns one page of events. An expired sync token restarts the full window.
func (g *GoogleCalendar) Fetch(ctx context.Context, cursor string, tokens domain.TokenPair) (*Page, error) {
	pos := parseGoogleCursor(cursor)

	page, err := g.fetch(ctx, pos, tokens)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusGone && pos.SyncToken != "" {
		g.client.logger.Info("Google sync token expired, restarting full window")
		return g.fetch(ctx, googleCursor{}, tokens)
	}
	return page, err
}

func (g *GoogleCalendar) fetch(ctx context.Context, pos googleCursor, tokens domain.TokenPair) (*Page, error) {
	query := url.Values{
		"maxResults":   {strconv.Itoa(g.pageSize)},
		"singleEvents": {"true"},
	}
	if pos.SyncToken == "" && pos.TimeMin == "" {
		pos.TimeMin = g.now().UTC().Add(-googleInitialWindow).Format(time.RFC3339)
	}
	if pos.SyncToken != "" {
		query.Set("syncToken", pos.SyncToken)
	} else {
		query.Set("timeMin", pos.TimeMin)
	}
	if pos.PageToken != "" {
		query.Set("pageToken", pos.PageToken)
	}

	var resp googleEventList
	if err := g.client.getJSON(ctx, googleEventsPath, query, tokens.AccessToken, &resp); err != nil {
		return nil, err
	}

	// cancelled instances carry no start time and are not ingested
	items := make([]json.RawMessage, 0, len(resp.Items))
	for _, raw := range resp.Items {
		var head struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(raw, &head) == nil && head.Status == "cancelled" {
			continue
		}
		items = append(items, raw)
	}

	if resp.NextPageToken != "" {
		next := googleCursor{PageToken: resp.NextPageToken, SyncToken: pos.SyncToken, TimeMin: pos.TimeMin}
		return &Page{Items: items, NextCursor: next.encode(), HasMore: true}, nil
	}

	next := googleCursor{SyncToken: resp.NextSyncToken}
	if next.SyncToken == "" {
		next.SyncToken = pos.SyncToken
	}
	if next.SyncToken == "" {
		next.TimeMin = pos.TimeMin
	}
	return &Page{Items: items, NextCursor: next.encode(), HasMore: false}, nil
}

type googleEventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

func (t googleEventTime) value() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

func (t googleEventTime) parse() (time.Time, error) {
	if t.DateTime != "" {
		return time.Parse(time.RFC3339, t.DateTime)
	}
	return time.Parse(time.DateOnly, t.Date)
}

type googleEvent struct {
	ID          string            `json:"id"`
	Summary     string            `json:"summary"`
	Description string            `json:"description"`
	Location    string            `json:"location"`
	Start       googleEventTime   `json:"start"`
	End         googleEventTime   `json:"end"`
	Attendees   []json.RawMessage `json:"attendees"`
}

// MapToUnified projects an event into the events body shape
func (g *GoogleCalendar) MapToUnified(raw json.RawMessage) (*domain.Record, error) {
	if err := g.schema.validate(raw); err != nil {
		return nil, err
	}

	var e googleEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, malformed(domain.ProviderGoogleCalendar, "decode event")
	}
	start, err := e.Start.parse()
	if err != nil {
		return nil, malformed(domain.ProviderGoogleCalendar, "start is not a date")
	}

	body, err := json.Marshal(map[string]any{
		"summary":     e.Summary,
		"description": e.Description,
		"location":    e.Location,
		"start_time":  e.Start.value(),
		"end_time":    e.End.value(),
		"attendees":   len(e.Attendees),
		"source":      string(domain.ProviderGoogleCalendar),
	})
	if err != nil {
		return nil, malformed(domain.ProviderGoogleCalendar, "encode body")
	}

	return &domain.Record{
		Provider:   domain.ProviderGoogleCalendar,
		Dataset:    domain.DatasetEvents,
		ExternalID: e.ID,
		RecordedAt: start.UTC(),
		Body:       body,
	}, nil
}

// AccountID reads the id of the primary calendar, the account's email address
func (g *GoogleCalendar) AccountID(ctx context.Context, grant *Grant) (string, error) {
	var calendar struct {
		ID string `json:"id"`
	}
	if err := g.client.getJSON(ctx, "/calendar/v3/calendars/primary", nil, grant.Tokens.AccessToken, &calendar); err != nil {
		return "", err
	}
	return calendar.ID, nil
}
