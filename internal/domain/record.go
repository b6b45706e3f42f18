package domain

import (
	"encoding/json"
	"time"
)

// Record is a unified, deduplicated item ingested from a provider.
// (UserID, Provider, Dataset, ExternalID) is its natural key.
type Record struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Provider   Provider        `json:"provider" db:"provider"`
	Dataset    Dataset         `json:"dataset" db:"dataset"`
	ExternalID string          `json:"external_id" db:"external_id"`
	RecordedAt time.Time       `json:"recorded_at" db:"recorded_at"`
	Body       json.RawMessage `json:"body" db:"body"`
	IngestedAt time.Time       `json:"ingested_at" db:"ingested_at"`
}

// Key returns the dedup key of the record
func (r Record) Key() RecordKey {
	return RecordKey{UserID: r.UserID, Provider: r.Provider, Dataset: r.Dataset, ExternalID: r.ExternalID}
}

// RecordKey is the natural key of a record
type RecordKey struct {
	UserID     string
	Provider   Provider
	Dataset    Dataset
	ExternalID string
}

// ArtistCount is one entry of the top artists aggregate
type ArtistCount struct {
	Artist string `json:"artist"`
	Count  int    `json:"count"`
}

// RecordSummary aggregates a user's records over a time range
type RecordSummary struct {
	Counts               map[Dataset]int `json:"counts"`
	TopArtists           []ArtistCount   `json:"top_artists"`
	WorkoutDistanceKm    float64         `json:"total_workout_distance_km"`
	WorkoutDurationHours float64         `json:"total_workout_hours"`
}
