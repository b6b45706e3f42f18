package domain

import "fmt"

// Provider identifies a third-party data source
type Provider string

const (
	ProviderSpotify        Provider = "spotify"
	ProviderStrava         Provider = "strava"
	ProviderGoogleCalendar Provider = "google_calendar"
)

// Providers lists every supported provider
var Providers = []Provider{ProviderSpotify, ProviderStrava, ProviderGoogleCalendar}

// Dataset tags the shape of a unified record body
type Dataset string

const (
	DatasetTracks   Dataset = "tracks"
	DatasetWorkouts Dataset = "workouts"
	DatasetEvents   Dataset = "events"
)

// Datasets lists every dataset in export order
var Datasets = []Dataset{DatasetTracks, DatasetWorkouts, DatasetEvents}

// ParseProvider validates a provider name coming from the outside
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnsupportedProvider)
}

// ParseDataset validates a dataset name coming from the outside
func ParseDataset(s string) (Dataset, error) {
	for _, d := range Datasets {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dataset %q", s)
}
