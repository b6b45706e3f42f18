package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"go.uber.org/zap"
)

const (
	// DefaultRangeDays is the summary window when none is requested
	DefaultRangeDays = 30
	// MaxRangeDays bounds the summary window
	MaxRangeDays = 365

	topArtists = 5
)

// Summary aggregates a user's records over the last RangeDays days
type Summary struct {
	RangeDays              int                    `json:"range_days"`
	Since                  time.Time              `json:"since"`
	Counts                 map[domain.Dataset]int `json:"counts"`
	TracksCount            int                    `json:"tracks_count"`
	WorkoutsCount          int                    `json:"workouts_count"`
	EventsCount            int                    `json:"events_count"`
	TopArtists             []domain.ArtistCount   `json:"top_artists"`
	TotalWorkoutDistanceKm float64                `json:"total_workout_distance_km"`
	TotalWorkoutHours      float64                `json:"total_workout_hours"`
	Narrative              *string                `json:"narrative,omitempty"`
}

// InsightsService builds record summaries with an optional narrative
type InsightsService struct {
	records  repository.RecordRepository
	narrator Narrator
	logger   *zap.Logger
	now      func() time.Time
}

// NewInsightsService creates a new insights service; narrator may be nil
func NewInsightsService(records repository.RecordRepository, narrator Narrator, logger *zap.Logger) *InsightsService {
	return &InsightsService{records: records, narrator: narrator, logger: logger, now: time.Now}
}

// Summary aggregates the last rangeDays days of userID's records.
// A failing narrator yields a summary without narrative.
func (s *InsightsService) Summary(ctx context.Context, userID string, rangeDays int, withNarrative bool) (*Summary, error) {
	if rangeDays == 0 {
		rangeDays = DefaultRangeDays
	}
	if rangeDays < 1 || rangeDays > MaxRangeDays {
		return nil, fmt.Errorf("%w: range_days must be between 1 and %d", ErrInvalidInput, MaxRangeDays)
	}

	since := s.now().UTC().AddDate(0, 0, -rangeDays)
	agg, err := s.records.Summarize(ctx, userID, since, topArtists)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize records: %w", err)
	}

	summary := &Summary{
		RangeDays:              rangeDays,
		Since:                  since,
		Counts:                 make(map[domain.Dataset]int, len(domain.Datasets)),
		TopArtists:             agg.TopArtists,
		TotalWorkoutDistanceKm: round2(agg.WorkoutDistanceKm),
		TotalWorkoutHours:      round2(agg.WorkoutDurationHours),
	}
	for _, ds := range domain.Datasets {
		summary.Counts[ds] = agg.Counts[ds]
	}
	summary.TracksCount = summary.Counts[domain.DatasetTracks]
	summary.WorkoutsCount = summary.Counts[domain.DatasetWorkouts]
	summary.EventsCount = summary.Counts[domain.DatasetEvents]
	if summary.TopArtists == nil {
		summary.TopArtists = []domain.ArtistCount{}
	}

	if withNarrative && s.narrator != nil {
		text, err := s.narrator.Narrate(ctx, summary)
		if err != nil {
			s.logger.Warn("Narrative unavailable", zap.String("user_id", userID), zap.Error(err))
		} else if text != "" {
			summary.Narrative = &text
		}
	}

	return summary, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
