package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
)

const (
	stravaBaseURL  = "https://www.strava.com"
	stravaPageSize = 50
)

// Strava ingests athlete activities.
// Pagination runs inside a frozen `after` window; once exhausted the window
// moves to the newest start_date seen.
type Strava struct {
	client   *apiClient
	schema   *itemSchema
	pageSize int
}

// NewStrava creates the Strava connector
func NewStrava(opts Options) *Strava {
	return &Strava{
		client:   newAPIClient(domain.ProviderStrava, stravaBaseURL, opts),
		schema:   mustItemSchema(domain.ProviderStrava, "strava_activity.json"),
		pageSize: opts.pageSize(stravaPageSize),
	}
}

func (s *Strava) Provider() domain.Provider { return domain.ProviderStrava }

func (s *Strava) Dataset() domain.Dataset { return domain.DatasetWorkouts }

// stravaCursor is the serialized position; field order keeps encodings stable
type stravaCursor struct {
	After int64 `json:"after"`
	Page  int   `json:"page"`
	Max   int64 `json:"max"`
}

func parseStravaCursor(cursor string) stravaCursor {
	c := stravaCursor{Page: 1}
	if cursor == "" {
		return c
	}
	if err := json.Unmarshal([]byte(cursor), &c); err != nil || c.Page < 1 || c.After < 0 {
		return stravaCursor{Page: 1}
	}
	return c
}

func (c stravaCursor) encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

type stravaActivityHeader struct {
	StartDate string `json:"start_date"`
}

// Fetch returns one page of activities inside the cursor's window
func (s *Strava) Fetch(ctx context.Context, cursor string, tokens domain.TokenPair) (*Page, error) {
	pos := parseStravaCursor(cursor)

	query := url.Values{
		"after":    {strconv.FormatInt(pos.After, 10)},
		"page":     {strconv.Itoa(pos.Page)},
		"per_page": {strconv.Itoa(s.pageSize)},
	}

	var items []json.RawMessage
	if err := s.client.getJSON(ctx, "/api/v3/athlete/activities", query, tokens.AccessToken, &items); err != nil {
		return nil, err
	}

	newest := pos.Max
	for _, raw := range items {
		var h stravaActivityHeader
		if json.Unmarshal(raw, &h) != nil {
			continue
		}
		if t, err := time.Parse(time.RFC3339, h.StartDate); err == nil && t.Unix() > newest {
			newest = t.Unix()
		}
	}

	if len(items) >= s.pageSize {
		next := stravaCursor{After: pos.After, Page: pos.Page + 1, Max: newest}
		return &Page{Items: items, NextCursor: next.encode(), HasMore: true}, nil
	}

	// after is exclusive; stepping back a second refetches activities sharing the newest start
	after := pos.After
	if newest-1 > after {
		after = newest - 1
	}
	next := stravaCursor{After: after, Page: 1, Max: newest}
	return &Page{Items: items, NextCursor: next.encode(), HasMore: false}, nil
}

type stravaActivity struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	SportType          string  `json:"sport_type"`
	StartDate          string  `json:"start_date"`
	Distance           float64 `json:"distance"`
	MovingTime         int64   `json:"moving_time"`
	TotalElevationGain float64 `json:"total_elevation_gain"`
}

// MapToUnified projects an activity into the workouts body shape
func (s *Strava) MapToUnified(raw json.RawMessage) (*domain.Record, error) {
	if err := s.schema.validate(raw); err != nil {
		return nil, err
	}

	var a stravaActivity
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, malformed(domain.ProviderStrava, "decode activity")
	}
	start, err := time.Parse(time.RFC3339, a.StartDate)
	if err != nil {
		return nil, malformed(domain.ProviderStrava, "start_date is not a timestamp")
	}

	kind := a.Type
	if kind == "" {
		kind = a.SportType
	}

	body, err := json.Marshal(map[string]any{
		"name":           a.Name,
		"type":           kind,
		"distance_km":    a.Distance / 1000,
		"duration_s":     a.MovingTime,
		"elevation_gain": a.TotalElevationGain,
		"start_time":     a.StartDate,
		"source":         string(domain.ProviderStrava),
	})
	if err != nil {
		return nil, malformed(domain.ProviderStrava, "encode body")
	}

	return &domain.Record{
		Provider:   domain.ProviderStrava,
		Dataset:    domain.DatasetWorkouts,
		ExternalID: strconv.FormatInt(a.ID, 10),
		RecordedAt: start.UTC(),
		Body:       body,
	}, nil
}

// AccountID reads the athlete id Strava returns alongside the token
func (s *Strava) AccountID(ctx context.Context, grant *Grant) (string, error) {
	athlete, ok := grant.Extra("athlete").(map[string]any)
	if ok {
		switch id := athlete["id"].(type) {
		case float64:
			return strconv.FormatInt(int64(id), 10), nil
		case string:
			return id, nil
		}
	}

	var profile struct {
		ID int64 `json:"id"`
	}
	if err := s.client.getJSON(ctx, "/api/v3/athlete", nil, grant.Tokens.AccessToken, &profile); err != nil {
		return "", err
	}
	if profile.ID == 0 {
		return "", fmt.Errorf("strava athlete id missing: %w", domain.ErrPermanentProvider)
	}
	return strconv.FormatInt(profile.ID, 10), nil
}
