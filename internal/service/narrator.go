package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPNarrator asks an external text endpoint for a short narrative.
// The endpoint receives {"prompt": "..."} and answers {"narrative": "..."}.
type HTTPNarrator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPNarrator creates a narrator; it returns nil when endpoint is empty
func NewHTTPNarrator(endpoint, apiKey string, timeout time.Duration) *HTTPNarrator {
	if strings.TrimSpace(endpoint) == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNarrator{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Narrate renders summary into a prompt and returns the endpoint's answer
func (n *HTTPNarrator) Narrate(ctx context.Context, summary *Summary) (string, error) {
	payload, err := json.Marshal(map[string]string{"prompt": narrativePrompt(summary)})
	if err != nil {
		return "", fmt.Errorf("failed to encode narrative request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build narrative request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("narrative request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", fmt.Errorf("narrative endpoint returned status %d", resp.StatusCode)
	}

	var out struct {
		Narrative string `json:"narrative"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode narrative: %w", err)
	}
	return strings.TrimSpace(out.Narrative), nil
}

func narrativePrompt(s *Summary) string {
	artists := make([]string, 0, 3)
	for i, a := range s.TopArtists {
		if i == 3 {
			break
		}
		artists = append(artists, a.Artist)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on the last %d days:\n", s.RangeDays)
	fmt.Fprintf(&b, "- %d tracks listened\n", s.TracksCount)
	fmt.Fprintf(&b, "- Top artists: %s\n", strings.Join(artists, ", "))
	fmt.Fprintf(&b, "- %d workouts, %.2f km\n", s.WorkoutsCount, s.TotalWorkoutDistanceKm)
	fmt.Fprintf(&b, "- %d calendar events\n\n", s.EventsCount)
	b.WriteString("Write 2-3 sentences with insights.")
	return b.String()
}
