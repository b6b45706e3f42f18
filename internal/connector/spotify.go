package connector

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
)

const (
	spotifyBaseURL  = "https://api.spotify.com"
	spotifyPageSize = 50
)

// Spotify ingests recently played tracks.
// Its cursor is the `after` watermark in unix milliseconds reported by the API.
type Spotify struct {
	client   *apiClient
	schema   *itemSchema
	pageSize int
}

// NewSpotify creates the Spotify connector
func NewSpotify(opts Options) *Spotify {
	return &Spotify{
		client:   newAPIClient(domain.ProviderSpotify, spotifyBaseURL, opts),
		schema:   mustItemSchema(domain.ProviderSpotify, "spotify_play.json"),
		pageSize: opts.pageSize(spotifyPageSize),
	}
}

func (s *Spotify) Provider() domain.Provider { return domain.ProviderSpotify }

func (s *Spotify) Dataset() domain.Dataset { return domain.DatasetTracks }

type spotifyRecentlyPlayed struct {
	Items   []json.RawMessage `json:"items"`
	Next    *string           `json:"next"`
	Cursors *struct {
		After  string `json:"after"`
		Before string `json:"before"`
	} `json:"cursors"`
}

// Fetch returns plays after the cursor watermark, oldest window first
func (s *Spotify) Fetch(ctx context.Context, cursor string, tokens domain.TokenPair) (*Page, error) {
	query := url.Values{"limit": {strconv.Itoa(s.pageSize)}}
	if _, err := strconv.ParseInt(cursor, 10, 64); err == nil {
		query.Set("after", cursor)
	} else {
		cursor = ""
	}

	var resp spotifyRecentlyPlayed
	if err := s.client.getJSON(ctx, "/v1/me/player/recently-played", query, tokens.AccessToken, &resp); err != nil {
		return nil, err
	}

	page := &Page{Items: resp.Items, NextCursor: cursor}
	if resp.Cursors != nil && resp.Cursors.After != "" {
		page.NextCursor = resp.Cursors.After
	}
	page.HasMore = len(resp.Items) > 0 && resp.Next != nil && *resp.Next != "" && page.NextCursor != cursor
	return page, nil
}

type spotifyPlay struct {
	PlayedAt string `json:"played_at"`
	Track    struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		DurationMs int64  `json:"duration_ms"`
		Artists    []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Album struct {
			Name string `json:"name"`
		} `json:"album"`
	} `json:"track"`
}

// MapToUnified projects a play into the tracks body shape
func (s *Spotify) MapToUnified(raw json.RawMessage) (*domain.Record, error) {
	if err := s.schema.validate(raw); err != nil {
		return nil, err
	}

	var play spotifyPlay
	if err := json.Unmarshal(raw, &play); err != nil {
		return nil, malformed(domain.ProviderSpotify, "decode play")
	}
	playedAt, err := time.Parse(time.RFC3339Nano, play.PlayedAt)
	if err != nil {
		return nil, malformed(domain.ProviderSpotify, "played_at is not a timestamp")
	}

	artists := make([]string, 0, len(play.Track.Artists))
	for _, a := range play.Track.Artists {
		if a.Name != "" {
			artists = append(artists, a.Name)
		}
	}

	body, err := json.Marshal(map[string]any{
		"title":       play.Track.Name,
		"artist":      strings.Join(artists, ", "),
		"album":       play.Track.Album.Name,
		"duration_ms": play.Track.DurationMs,
		"played_at":   play.PlayedAt,
		"source":      string(domain.ProviderSpotify),
	})
	if err != nil {
		return nil, malformed(domain.ProviderSpotify, "encode body")
	}

	return &domain.Record{
		Provider:   domain.ProviderSpotify,
		Dataset:    domain.DatasetTracks,
		ExternalID: play.Track.ID + ":" + play.PlayedAt,
		RecordedAt: playedAt.UTC(),
		Body:       body,
	}, nil
}

type spotifyProfile struct {
	ID string `json:"id"`
}

// AccountID reads the Spotify user id of the grant
func (s *Spotify) AccountID(ctx context.Context, grant *Grant) (string, error) {
	var profile spotifyProfile
	if err := s.client.getJSON(ctx, "/v1/me", nil, grant.Tokens.AccessToken, &profile); err != nil {
		return "", err
	}
	return profile.ID, nil
}
